// Package scheduler drives documents through the extraction pipeline. Lane
// goroutines poll the store for documents at stage boundaries and run the
// registered handlers; a separate admission loop moves queued documents past
// the concurrency ceiling, and supervisory sweeps reconcile suspended
// executions whose callbacks never arrived.
//
// Progress is always anchored in the store: a stage either commits its done
// status or the document rolls back to the stage's start status, so a crashed
// scheduler resumes from durable state with at-least-once stage semantics.
package scheduler
