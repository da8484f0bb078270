// Package preflight provides readiness checks for the filesystem paths and
// external services docflow depends on.
//
// The daemon runs RunAll once at startup and refuses to start when a required
// check fails, so a misconfigured endpoint surfaces immediately instead of as
// a retry storm hours later. The CLI "docflow health" command reuses the
// individual check functions to display service health.
package preflight
