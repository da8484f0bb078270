// Package docstore persists documents, sections, and workflow executions in
// SQLite and exposes the durability contract the scheduler relies on.
//
// Documents and sections carry a version column; every update is a
// read-modify-write guarded by that version, so two concurrent resumes for
// different sections of one document serialize through ErrVersionConflict
// instead of a lock. The store also owns the schema for the task-token
// registry and the admission counter, which their packages drive through the
// shared database handle.
//
// The database is transient storage for in-flight work rather than a
// long-term archive. Schema changes bump the version in schema.go; users
// clear the database to adopt the new schema.
package docstore
