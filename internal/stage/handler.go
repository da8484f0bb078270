package stage

import (
	"context"

	"docflow/internal/docstore"
)

// Result tells the scheduler how an Execute call left the document. A
// suspended result carries the task token the stage registered before
// returning; the scheduler parks the document until that token is claimed.
type Result struct {
	Suspended bool
	Token     string
}

// Continue signals a normally completed stage execution.
func Continue() Result {
	return Result{}
}

// Suspend signals the stage is waiting on an external callback.
func Suspend(token string) Result {
	return Result{Suspended: true, Token: token}
}

// Handler describes the contract the scheduler needs from each pipeline stage.
type Handler interface {
	Prepare(context.Context, *docstore.Document) error
	Execute(context.Context, *docstore.Document) (Result, error)
	HealthCheck(context.Context) Health
}
