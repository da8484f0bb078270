package assess_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"docflow/internal/docstore"
	"docflow/internal/pattern"
	"docflow/internal/retry"
	"docflow/internal/services"
	"docflow/internal/services/inference"
	"docflow/internal/stages/assess"
	"docflow/internal/testsupport"
)

type stubScorer struct {
	result inference.AssessResult
	err    error
}

func (s *stubScorer) Assess(ctx context.Context, request inference.AssessRequest) (inference.AssessResult, error) {
	if s.err != nil {
		return inference.AssessResult{}, s.err
	}
	return s.result, nil
}

type stubReviewer struct {
	calls    int
	lastDoc  string
	lastSect string
}

func (s *stubReviewer) RequestReview(ctx context.Context, doc *docstore.Document, executionID string, section *docstore.Section) (string, error) {
	s.calls++
	s.lastDoc = doc.ID
	s.lastSect = section.ID
	return "tok-review-1", nil
}

func testEngine() *retry.Engine {
	return retry.New(
		retry.Policy{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxAttempts: 2, Factor: 2},
		retry.WithSleeper(func(time.Duration) {}),
	)
}

type fixture struct {
	store    *docstore.Store
	assessor *assess.Assessor
	reviewer *stubReviewer
	doc      *docstore.Document
	section  *docstore.Section
}

func newFixture(t *testing.T, scorer pattern.Assessor, threshold float64) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	reviewer := &stubReviewer{}
	selector := pattern.NewSelector(pattern.Deps{Assessor: scorer})
	assessor := assess.New(store, selector, reviewer, threshold, testEngine(), nil)

	doc := testsupport.NewDocument(t, store, "s3://inbox/doc.pdf")
	sections := []*docstore.Section{{Class: "invoice", PageIDs: []string{"p1"}}}
	if err := store.ReplaceSections(context.Background(), doc.ID, sections); err != nil {
		t.Fatalf("ReplaceSections: %v", err)
	}
	section, err := store.MutateSection(context.Background(), sections[0].ID, func(s *docstore.Section) {
		s.Status = docstore.SectionAssessing
		s.ExtractionResultRef = "results/invoice.json"
	})
	if err != nil {
		t.Fatalf("MutateSection: %v", err)
	}
	return &fixture{store: store, assessor: assessor, reviewer: reviewer, doc: doc, section: section}
}

func TestConfidentSectionCompletes(t *testing.T) {
	scorer := &stubScorer{result: inference.AssessResult{
		Attributes: map[string]inference.ScoredAttribute{
			"total":  {Value: "42.50", Confidence: 0.95},
			"vendor": {Value: "Acme", Confidence: 0.88},
		},
		Metering: map[string]int64{"inference.tokens": 40},
	}}
	fx := newFixture(t, scorer, 0.8)

	suspended, usage, err := fx.assessor.AssessSection(context.Background(), fx.doc, "exec-1", fx.section)
	if err != nil {
		t.Fatalf("AssessSection: %v", err)
	}
	if suspended {
		t.Fatal("confident section must not suspend")
	}
	if usage["inference.tokens"] != 40 {
		t.Fatalf("unexpected usage: %#v", usage)
	}
	if fx.reviewer.calls != 0 {
		t.Fatal("reviewer must not be called")
	}

	stored, err := fx.store.GetSection(context.Background(), fx.section.ID)
	if err != nil {
		t.Fatalf("GetSection: %v", err)
	}
	if stored.Status != docstore.SectionComplete {
		t.Fatalf("status = %s, want complete", stored.Status)
	}
	if stored.Attributes["total"].Confidence != 0.95 {
		t.Fatalf("attributes not persisted: %#v", stored.Attributes)
	}
	if len(stored.ConfidenceAlerts) != 0 {
		t.Fatalf("unexpected alerts: %#v", stored.ConfidenceAlerts)
	}
}

func TestLowConfidenceRoutesToReview(t *testing.T) {
	scorer := &stubScorer{result: inference.AssessResult{
		Attributes: map[string]inference.ScoredAttribute{
			"total":  {Value: "42.50", Confidence: 0.45},
			"vendor": {Value: "Acme", Confidence: 0.91},
		},
	}}
	fx := newFixture(t, scorer, 0.8)

	suspended, _, err := fx.assessor.AssessSection(context.Background(), fx.doc, "exec-1", fx.section)
	if err != nil {
		t.Fatalf("AssessSection: %v", err)
	}
	if !suspended {
		t.Fatal("flagged section must suspend")
	}
	if fx.reviewer.calls != 1 || fx.reviewer.lastSect != fx.section.ID {
		t.Fatalf("reviewer not invoked for section: %#v", fx.reviewer)
	}

	stored, err := fx.store.GetSection(context.Background(), fx.section.ID)
	if err != nil {
		t.Fatalf("GetSection: %v", err)
	}
	if stored.Status == docstore.SectionComplete {
		t.Fatal("flagged section must not complete")
	}
	if len(stored.ConfidenceAlerts) != 1 || stored.ConfidenceAlerts[0].Attribute != "total" {
		t.Fatalf("unexpected alerts: %#v", stored.ConfidenceAlerts)
	}
	if stored.ConfidenceAlerts[0].Threshold != 0.8 {
		t.Fatalf("alert threshold = %v, want 0.8", stored.ConfidenceAlerts[0].Threshold)
	}
}

func TestZeroThresholdDisablesReview(t *testing.T) {
	scorer := &stubScorer{result: inference.AssessResult{
		Attributes: map[string]inference.ScoredAttribute{
			"total": {Value: "42.50", Confidence: 0.01},
		},
	}}
	fx := newFixture(t, scorer, 0)

	suspended, _, err := fx.assessor.AssessSection(context.Background(), fx.doc, "exec-1", fx.section)
	if err != nil {
		t.Fatalf("AssessSection: %v", err)
	}
	if suspended || fx.reviewer.calls != 0 {
		t.Fatal("review routing must be disabled at threshold 0")
	}
}

func TestSectionWithoutOutputFailsValidation(t *testing.T) {
	fx := newFixture(t, &stubScorer{}, 0.8)
	if _, err := fx.store.MutateSection(context.Background(), fx.section.ID, func(s *docstore.Section) {
		s.ExtractionResultRef = ""
	}); err != nil {
		t.Fatalf("MutateSection: %v", err)
	}
	fx.section.ExtractionResultRef = ""

	_, _, err := fx.assessor.AssessSection(context.Background(), fx.doc, "exec-1", fx.section)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
