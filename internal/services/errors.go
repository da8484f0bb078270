package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for external call failures. Call sites declare the
// classification explicitly; nothing is inferred from error text.
var (
	// Transient failures, retried in place by the retry engine.
	ErrThrottled   = errors.New("throttled")
	ErrUnavailable = errors.New("service unavailable")
	ErrTimeout     = errors.New("timeout")
	ErrTransient   = errors.New("transient failure")

	// Fatal failures, surfaced to the scheduler without retry.
	ErrValidation = errors.New("validation error")
	ErrPermission = errors.New("permission error")
	ErrNotFound   = errors.New("not found")

	// ErrInfrastructure marks failures of the orchestrator's own machinery
	// (store unavailable, malformed input); these always fail the document.
	ErrInfrastructure = errors.New("infrastructure error")
)

// Scope describes how far a stage failure propagates.
type Scope int

const (
	// ScopeSection aborts one section; the document proceeds with partial results.
	ScopeSection Scope = iota
	// ScopeDocument fails the whole document.
	ScopeDocument
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether the retry engine should try the call again.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrThrottled),
		errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrTransient):
		return true
	default:
		return false
	}
}

// FailureScope maps a stage error to how far it propagates. Infrastructure
// failures always take the document down; everything else is contained to the
// failing section and the scheduler widens it only for document-wide stages.
func FailureScope(err error) Scope {
	if errors.Is(err, ErrInfrastructure) {
		return ScopeDocument
	}
	return ScopeSection
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
