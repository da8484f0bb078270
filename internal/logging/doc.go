// Package logging builds the slog loggers used across docflow.
//
// It exposes typed attribute helpers, standardized field names, and
// context-aware logger derivation so every component tags records with the
// same document, section, and stage keys. Handlers support console output
// (colorized on a TTY) and JSON for machine consumption.
package logging
