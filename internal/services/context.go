package services

import "context"

type contextKey string

const (
	documentIDKey contextKey = "document_id"
	sectionIDKey  contextKey = "section_id"
	stageKey      contextKey = "stage"
	requestIDKey  contextKey = "request_id"
	executionKey  contextKey = "execution_id"
)

// WithDocumentID annotates context with the document identifier.
func WithDocumentID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, documentIDKey, id)
}

// DocumentIDFromContext extracts the document identifier if present.
func DocumentIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(documentIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithSectionID annotates context with the section identifier.
func WithSectionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sectionIDKey, id)
}

// SectionIDFromContext extracts the section identifier if present.
func SectionIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(sectionIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stageKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithExecutionID annotates context with the scheduler execution identifier.
func WithExecutionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, executionKey, id)
}

// ExecutionIDFromContext extracts the execution identifier if present.
func ExecutionIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(executionKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
