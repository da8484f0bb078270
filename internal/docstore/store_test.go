package docstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"docflow/internal/docstore"
	"docflow/internal/testsupport"
)

func TestOpenCreatesSchemaAndInsertsDocuments(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	doc, err := store.NewDocument(ctx, "", "s3://bucket/input/a.pdf", "composed")
	if err != nil {
		t.Fatalf("NewDocument failed: %v", err)
	}
	if doc.ID == "" {
		t.Fatal("expected document ID to be assigned")
	}
	if doc.Status != docstore.StatusQueued {
		t.Fatalf("expected queued status, got %s", doc.Status)
	}
	if doc.Version != 1 {
		t.Fatalf("expected initial version 1, got %d", doc.Version)
	}

	fetched, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if fetched == nil || fetched.InputLocation != "s3://bucket/input/a.pdf" {
		t.Fatalf("unexpected fetched document: %#v", fetched)
	}
}

func TestNewDocumentRequiresInputLocation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.NewDocument(context.Background(), "", "  ", "composed"); err == nil {
		t.Fatal("expected error when input location missing")
	}
}

func TestUpdateDocumentVersionGuard(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	doc := testsupport.NewDocument(t, store, "file:///input/b.pdf")

	stale, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}

	doc.Status = docstore.StatusAdmitted
	if err := store.UpdateDocument(ctx, doc); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if doc.Version != 2 {
		t.Fatalf("expected version bump to 2, got %d", doc.Version)
	}

	stale.Status = docstore.StatusFailed
	err = store.UpdateDocument(ctx, stale)
	if !errors.Is(err, docstore.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	current, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if current.Status != docstore.StatusAdmitted {
		t.Fatalf("stale write must not win, got %s", current.Status)
	}
}

func TestDocumentJSONRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	doc := testsupport.NewDocument(t, store, "file:///input/c.pdf")

	doc.Pages = []docstore.Page{
		{ID: "p1", Class: "invoice", ImageRef: "ref://img/1", TextRef: "ref://txt/1"},
		{ID: "p2", Class: "invoice", ImageRef: "ref://img/2", TextRef: "ref://txt/2"},
	}
	doc.Metering = docstore.Metering{"ocr.pages": 2}
	doc.RecordError("extract", "sec-1", "retries exhausted")
	if err := store.UpdateDocument(ctx, doc); err != nil {
		t.Fatalf("UpdateDocument failed: %v", err)
	}

	fetched, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if len(fetched.Pages) != 2 || fetched.Pages[1].TextRef != "ref://txt/2" {
		t.Fatalf("unexpected pages: %#v", fetched.Pages)
	}
	if fetched.Metering["ocr.pages"] != 2 {
		t.Fatalf("unexpected metering: %#v", fetched.Metering)
	}
	if len(fetched.Errors) != 1 || fetched.Errors[0].SectionID != "sec-1" {
		t.Fatalf("unexpected errors: %#v", fetched.Errors)
	}
}

func TestNextForStatusesOrdering(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.NewDocument(t, store, "file:///input/first.pdf")
	second := testsupport.NewDocument(t, store, "file:///input/second.pdf")

	second.Status = docstore.StatusClassified
	if err := store.UpdateDocument(ctx, second); err != nil {
		t.Fatalf("UpdateDocument failed: %v", err)
	}

	next, err := store.NextForStatuses(ctx, docstore.StatusQueued, docstore.StatusClassified)
	if err != nil {
		t.Fatalf("NextForStatuses failed: %v", err)
	}
	if next == nil || next.ID != first.ID {
		t.Fatalf("expected oldest document first, got %#v", next)
	}
}

func TestReclaimStaleProcessingRollsBackToStageStart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	cases := []struct {
		name     string
		stuck    docstore.Status
		expected docstore.Status
	}{
		{"ocr", docstore.StatusOCR, docstore.StatusAdmitted},
		{"classifying", docstore.StatusClassifying, docstore.StatusOCRDone},
		{"extracting", docstore.StatusExtracting, docstore.StatusClassified},
		{"summarizing", docstore.StatusSummarizing, docstore.StatusExtracted},
		{"finalizing", docstore.StatusFinalizing, docstore.StatusEvaluated},
	}

	var ids []string
	stale := time.Now().Add(-time.Hour).UTC()
	for _, tc := range cases {
		doc := testsupport.NewDocument(t, store, "file:///input/"+tc.name+".pdf")
		doc.Status = tc.stuck
		doc.LastHeartbeat = &stale
		if err := store.UpdateDocument(ctx, doc); err != nil {
			t.Fatalf("UpdateDocument failed: %v", err)
		}
		ids = append(ids, doc.ID)
	}

	count, err := store.ReclaimStaleProcessing(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if int(count) != len(cases) {
		t.Fatalf("expected %d documents reclaimed, got %d", len(cases), count)
	}

	for idx, tc := range cases {
		updated, err := store.GetDocument(ctx, ids[idx])
		if err != nil {
			t.Fatalf("GetDocument failed: %v", err)
		}
		if updated.Status != tc.expected {
			t.Fatalf("%s: expected status %s, got %s", tc.name, tc.expected, updated.Status)
		}
		if updated.LastHeartbeat != nil {
			t.Fatalf("%s: expected heartbeat cleared", tc.name)
		}
	}
}

func TestRetryFailedMovesDocumentsBackToQueued(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	doc := testsupport.NewDocument(t, store, "file:///input/fail.pdf")
	doc.SetFailed("ocr", "service permanently down")
	if err := store.UpdateDocument(ctx, doc); err != nil {
		t.Fatalf("UpdateDocument failed: %v", err)
	}

	count, err := store.RetryFailed(ctx, doc.ID)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 document retried, got %d", count)
	}

	updated, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if updated.Status != docstore.StatusQueued {
		t.Fatalf("expected queued, got %s", updated.Status)
	}
	if len(updated.Errors) != 0 {
		t.Fatalf("expected errors cleared, got %#v", updated.Errors)
	}
}

func TestSectionLifecycleAndVersioning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	doc := testsupport.NewDocument(t, store, "file:///input/d.pdf")

	sections := []*docstore.Section{
		{Class: "invoice", PageIDs: []string{"p1", "p2"}},
		{Class: "receipt", PageIDs: []string{"p3"}},
	}
	if err := store.ReplaceSections(ctx, doc.ID, sections); err != nil {
		t.Fatalf("ReplaceSections failed: %v", err)
	}

	stored, err := store.SectionsForDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("SectionsForDocument failed: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(stored))
	}
	if stored[0].Status != docstore.SectionPending || stored[0].HITLStatus != docstore.HITLNone {
		t.Fatalf("unexpected section defaults: %#v", stored[0])
	}

	section := stored[0]
	stale := *section

	section.Status = docstore.SectionComplete
	section.Attributes = map[string]docstore.Attribute{
		"total": {Value: "41.50", Confidence: 0.97},
	}
	if err := store.UpdateSection(ctx, section); err != nil {
		t.Fatalf("UpdateSection failed: %v", err)
	}

	stale.Status = docstore.SectionFailed
	if err := store.UpdateSection(ctx, &stale); !errors.Is(err, docstore.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	fetched, err := store.GetSection(ctx, section.ID)
	if err != nil {
		t.Fatalf("GetSection failed: %v", err)
	}
	if fetched.Status != docstore.SectionComplete {
		t.Fatalf("expected complete, got %s", fetched.Status)
	}
	if fetched.Attributes["total"].Value != "41.50" {
		t.Fatalf("unexpected attributes: %#v", fetched.Attributes)
	}
}

func TestExecutionLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	doc := testsupport.NewDocument(t, store, "file:///input/e.pdf")
	execution := testsupport.NewExecution(t, store, doc.ID)

	// One execution per non-terminal document.
	if _, err := store.NewExecution(ctx, doc.ID); err == nil {
		t.Fatal("expected duplicate execution insert to fail")
	}

	execution.Stage = "extract"
	execution.PendingToken = "token-1"
	execution.RetryState["extract"] = docstore.StageRetryState{Attempts: 2, NextEligible: time.Now().UTC()}
	if err := store.UpdateExecution(ctx, execution); err != nil {
		t.Fatalf("UpdateExecution failed: %v", err)
	}

	fetched, err := store.ExecutionForDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ExecutionForDocument failed: %v", err)
	}
	if fetched.PendingToken != "token-1" || fetched.Stage != "extract" {
		t.Fatalf("unexpected execution: %#v", fetched)
	}
	if fetched.RetryState["extract"].Attempts != 2 {
		t.Fatalf("unexpected retry state: %#v", fetched.RetryState)
	}

	doc.Status = docstore.StatusCompleted
	if err := store.UpdateDocument(ctx, doc); err != nil {
		t.Fatalf("UpdateDocument failed: %v", err)
	}

	ids, err := store.TerminalExecutionIDs(ctx)
	if err != nil {
		t.Fatalf("TerminalExecutionIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != execution.ID {
		t.Fatalf("unexpected terminal executions: %v", ids)
	}

	if err := store.DeleteExecution(ctx, execution.ID); err != nil {
		t.Fatalf("DeleteExecution failed: %v", err)
	}
	gone, err := store.GetExecution(ctx, execution.ID)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if gone != nil {
		t.Fatal("expected execution removed")
	}
}

func TestHITLStatusTransitionsOnlyForward(t *testing.T) {
	cases := []struct {
		from docstore.HITLStatus
		to   docstore.HITLStatus
		want bool
	}{
		{docstore.HITLNone, docstore.HITLPending, true},
		{docstore.HITLPending, docstore.HITLInReview, true},
		{docstore.HITLPending, docstore.HITLComplete, true},
		{docstore.HITLInReview, docstore.HITLComplete, true},
		{docstore.HITLComplete, docstore.HITLPending, false},
		{docstore.HITLInReview, docstore.HITLPending, false},
		{docstore.HITLComplete, docstore.HITLComplete, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestHealthSummaryBuckets(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	statuses := []docstore.Status{
		docstore.StatusQueued,
		docstore.StatusExtracting,
		docstore.StatusAwaitingJobs,
		docstore.StatusHITLWait,
		docstore.StatusCompleted,
		docstore.StatusFailed,
	}
	for i, status := range statuses {
		doc := testsupport.NewDocument(t, store, "file:///input/h"+string(rune('a'+i))+".pdf")
		doc.Status = status
		if err := store.UpdateDocument(ctx, doc); err != nil {
			t.Fatalf("UpdateDocument failed: %v", err)
		}
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != len(statuses) {
		t.Fatalf("unexpected total: %d", health.Total)
	}
	if health.Queued != 1 || health.Processing != 1 || health.Suspended != 2 || health.Completed != 1 || health.Failed != 1 {
		t.Fatalf("unexpected health buckets: %#v", health)
	}
}
