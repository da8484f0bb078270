// Package notifications publishes document lifecycle events to an optional
// webhook. When no webhook is configured every notification is a no-op, so
// callers never need to branch on whether publishing is enabled.
package notifications
