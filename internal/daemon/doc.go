// Package daemon hosts the long-running docflow process: it enforces
// single-instance execution with a file lock, runs the scheduler, and serves
// the HTTP API that accepts submissions and the completion callbacks external
// services post against suspended task tokens.
package daemon
