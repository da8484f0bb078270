// Package services defines the shared error taxonomy and context annotations
// for docflow's external collaborators.
//
// Every call that leaves the process is classified with one of the sentinel
// markers below so the retry engine and the scheduler can decide, by
// errors.Is alone, whether a failure is retryable, section-fatal, or
// document-fatal. Subpackages hold the concrete HTTP clients (ocr, inference,
// jobs, review).
package services
