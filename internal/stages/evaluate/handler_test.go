package evaluate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"docflow/internal/docstore"
	"docflow/internal/retry"
	"docflow/internal/services"
	"docflow/internal/services/inference"
	"docflow/internal/stages/evaluate"
	"docflow/internal/testsupport"
)

type stubEvaluator struct {
	lastRequest inference.EvaluateRequest
	result      inference.EvaluateResult
	health      error
}

func (s *stubEvaluator) Evaluate(ctx context.Context, request inference.EvaluateRequest) (inference.EvaluateResult, error) {
	s.lastRequest = request
	return s.result, nil
}

func (s *stubEvaluator) HealthCheck(ctx context.Context) error { return s.health }

func testEngine() *retry.Engine {
	return retry.New(
		retry.Policy{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxAttempts: 2, Factor: 2},
		retry.WithSleeper(func(time.Duration) {}),
	)
}

func TestPrepareRequiresSummary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	handler := evaluate.NewHandler(store, &stubEvaluator{}, testEngine(), nil)

	doc := testsupport.NewDocument(t, store, "s3://inbox/doc.pdf")
	if err := handler.Prepare(context.Background(), doc); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExecuteRecordsEvaluation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	client := &stubEvaluator{result: inference.EvaluateResult{
		EvaluationRef: "evaluations/doc.json",
		Score:         0.93,
		Metering:      map[string]int64{"inference.tokens": 80},
	}}
	handler := evaluate.NewHandler(store, client, testEngine(), nil)

	doc := testsupport.NewDocument(t, store, "s3://inbox/doc.pdf")
	doc.SummaryRef = "summaries/doc.json"
	sections := []*docstore.Section{{Class: "invoice", PageIDs: []string{"p1"}, ExtractionResultRef: "results/a.json"}}
	if err := store.ReplaceSections(context.Background(), doc.ID, sections); err != nil {
		t.Fatalf("ReplaceSections: %v", err)
	}
	if _, err := store.MutateSection(context.Background(), sections[0].ID, func(s *docstore.Section) {
		s.Status = docstore.SectionComplete
	}); err != nil {
		t.Fatalf("MutateSection: %v", err)
	}

	result, err := handler.Execute(context.Background(), doc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Suspended {
		t.Fatal("evaluation must not suspend")
	}
	if doc.EvaluationRef != "evaluations/doc.json" {
		t.Fatalf("evaluation ref = %q", doc.EvaluationRef)
	}
	if doc.Metering["inference.tokens"] != 80 {
		t.Fatalf("unexpected metering: %#v", doc.Metering)
	}
	if client.lastRequest.SummaryRef != "summaries/doc.json" {
		t.Fatalf("summary ref not forwarded: %#v", client.lastRequest)
	}
	if len(client.lastRequest.ResultRefs) != 1 {
		t.Fatalf("result refs not forwarded: %#v", client.lastRequest.ResultRefs)
	}
}
