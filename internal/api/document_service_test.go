package api_test

import (
	"context"
	"testing"

	"docflow/internal/api"
	"docflow/internal/docstore"
	"docflow/internal/testsupport"
)

func TestDocumentServiceDescribeIncludesSections(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	doc := testsupport.NewDocument(t, store, "inbox/invoice.pdf")
	sections := []*docstore.Section{
		{Class: "invoice", PageIDs: []string{"p1"}},
		{Class: "receipt", PageIDs: []string{"p2"}},
	}
	if err := store.ReplaceSections(ctx, doc.ID, sections); err != nil {
		t.Fatalf("ReplaceSections failed: %v", err)
	}

	svc := api.NewDocumentService(store)
	detail, err := svc.Describe(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if detail == nil {
		t.Fatal("expected document detail")
	}
	if len(detail.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(detail.Sections))
	}
	if detail.Sections[0].Class != "invoice" || detail.Sections[1].Class != "receipt" {
		t.Fatalf("expected stored section order, got %+v", detail.Sections)
	}
}

func TestDocumentServiceDescribeMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	svc := api.NewDocumentService(store)
	detail, err := svc.Describe(context.Background(), "no-such-document")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if detail != nil {
		t.Fatalf("expected nil for unknown document, got %+v", detail)
	}
}

func TestDocumentServiceListFiltersByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	queued := testsupport.NewDocument(t, store, "inbox/a.pdf")
	other := testsupport.NewDocument(t, store, "inbox/b.pdf")
	if _, err := store.MutateDocument(ctx, other.ID, func(d *docstore.Document) {
		d.Status = docstore.StatusCompleted
	}); err != nil {
		t.Fatalf("MutateDocument failed: %v", err)
	}

	svc := api.NewDocumentService(store)
	docs, err := svc.List(ctx, docstore.StatusQueued)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != queued.ID {
		t.Fatalf("expected only queued document, got %+v", docs)
	}
}
