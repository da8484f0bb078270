package summarize_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"docflow/internal/docstore"
	"docflow/internal/retry"
	"docflow/internal/services"
	"docflow/internal/services/inference"
	"docflow/internal/stages/summarize"
	"docflow/internal/testsupport"
)

type stubSummarizer struct {
	lastRequest inference.SummarizeRequest
	result      inference.SummarizeResult
	err         error
	health      error
}

func (s *stubSummarizer) Summarize(ctx context.Context, request inference.SummarizeRequest) (inference.SummarizeResult, error) {
	s.lastRequest = request
	if s.err != nil {
		return inference.SummarizeResult{}, s.err
	}
	return s.result, nil
}

func (s *stubSummarizer) HealthCheck(ctx context.Context) error { return s.health }

func testEngine() *retry.Engine {
	return retry.New(
		retry.Policy{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxAttempts: 2, Factor: 2},
		retry.WithSleeper(func(time.Duration) {}),
	)
}

func seedSections(t *testing.T, store *docstore.Store, documentID string, statuses map[string]docstore.SectionStatus) {
	t.Helper()
	sections := make([]*docstore.Section, 0, len(statuses))
	for ref := range statuses {
		sections = append(sections, &docstore.Section{Class: "invoice", PageIDs: []string{"p1"}, ExtractionResultRef: ref})
	}
	if err := store.ReplaceSections(context.Background(), documentID, sections); err != nil {
		t.Fatalf("ReplaceSections: %v", err)
	}
	for _, section := range sections {
		status := statuses[section.ExtractionResultRef]
		if _, err := store.MutateSection(context.Background(), section.ID, func(s *docstore.Section) {
			s.Status = status
		}); err != nil {
			t.Fatalf("MutateSection: %v", err)
		}
	}
}

func TestExecuteSummarizesCompletedSections(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	client := &stubSummarizer{result: inference.SummarizeResult{
		SummaryRef: "summaries/doc.json",
		Metering:   map[string]int64{"inference.tokens": 300},
	}}
	handler := summarize.NewHandler(store, client, testEngine(), nil)

	doc := testsupport.NewDocument(t, store, "s3://inbox/doc.pdf")
	seedSections(t, store, doc.ID, map[string]docstore.SectionStatus{
		"results/a.json": docstore.SectionComplete,
		"results/b.json": docstore.SectionFailed,
	})

	if err := handler.Prepare(context.Background(), doc); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	result, err := handler.Execute(context.Background(), doc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Suspended {
		t.Fatal("summarization must not suspend")
	}

	if doc.SummaryRef != "summaries/doc.json" {
		t.Fatalf("summary ref = %q", doc.SummaryRef)
	}
	if doc.Metering["inference.tokens"] != 300 {
		t.Fatalf("unexpected metering: %#v", doc.Metering)
	}
	if len(client.lastRequest.ResultRefs) != 1 || client.lastRequest.ResultRefs[0] != "results/a.json" {
		t.Fatalf("failed sections must not contribute: %#v", client.lastRequest.ResultRefs)
	}
}

func TestPrepareRejectsDocumentWithNoCompletedSections(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	handler := summarize.NewHandler(store, &stubSummarizer{}, testEngine(), nil)

	doc := testsupport.NewDocument(t, store, "s3://inbox/doc.pdf")
	seedSections(t, store, doc.ID, map[string]docstore.SectionStatus{
		"results/a.json": docstore.SectionFailed,
	})

	if err := handler.Prepare(context.Background(), doc); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExecutePropagatesBackendFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	client := &stubSummarizer{err: services.Wrap(services.ErrPermission, "summarize", "request", "", errors.New("denied"))}
	handler := summarize.NewHandler(store, client, testEngine(), nil)

	doc := testsupport.NewDocument(t, store, "s3://inbox/doc.pdf")
	seedSections(t, store, doc.ID, map[string]docstore.SectionStatus{
		"results/a.json": docstore.SectionComplete,
	})

	if _, err := handler.Execute(context.Background(), doc); !errors.Is(err, services.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
}
