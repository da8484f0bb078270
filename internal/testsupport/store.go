package testsupport

import (
	"context"
	"testing"

	"docflow/internal/config"
	"docflow/internal/docstore"
)

// MustOpenStore opens a docstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *docstore.Store {
	t.Helper()

	store, err := docstore.Open(cfg)
	if err != nil {
		t.Fatalf("docstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewDocument creates a queued document for tests using the provided store.
func NewDocument(t testing.TB, store *docstore.Store, inputLocation string) *docstore.Document {
	t.Helper()

	doc, err := store.NewDocument(context.Background(), "", inputLocation, "composed")
	if err != nil {
		t.Fatalf("store.NewDocument: %v", err)
	}
	return doc
}

// NewExecution creates the execution record for a document.
func NewExecution(t testing.TB, store *docstore.Store, documentID string) *docstore.Execution {
	t.Helper()

	execution, err := store.NewExecution(context.Background(), documentID)
	if err != nil {
		t.Fatalf("store.NewExecution: %v", err)
	}
	return execution
}
