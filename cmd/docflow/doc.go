// Package main hosts the docflow CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the daemon API, document maintenance operations, daemon
// lifecycle control, and configuration scaffolding. Read-only commands fall
// back to direct store access when no daemon is running.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
