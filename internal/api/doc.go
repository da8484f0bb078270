// Package api defines wire-format types and converters for the daemon HTTP
// API and the CLI. It translates internal document models into
// transport-friendly DTOs so consumers never couple to docstore types.
//
// DTOs use snake_case JSON tags matching the callback payloads external
// services send. Timestamps use RFC3339 with milliseconds. Metering is
// exposed under "usage" to match the external service contracts.
package api
