package extract_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"docflow/internal/docstore"
	"docflow/internal/pattern"
	"docflow/internal/retry"
	"docflow/internal/services"
	"docflow/internal/services/jobs"
	"docflow/internal/stages/extract"
	"docflow/internal/testsupport"
	"docflow/internal/tokens"
)

type stubSubmitter struct {
	jobs    map[string]string
	failFor map[string]error
}

func (s *stubSubmitter) Submit(ctx context.Context, request jobs.SubmitRequest) (string, error) {
	if err, ok := s.failFor[request.Class]; ok {
		return "", err
	}
	jobID := "job-" + request.SectionID
	if s.jobs == nil {
		s.jobs = make(map[string]string)
	}
	s.jobs[request.SectionID] = jobID
	return jobID, nil
}

type stubAssessor struct {
	store    *docstore.Store
	registry *tokens.Registry
	suspend  map[string]bool
	failFor  map[string]error
	usage    docstore.Metering
	calls    int
}

func (s *stubAssessor) AssessSection(ctx context.Context, doc *docstore.Document, executionID string, section *docstore.Section) (bool, docstore.Metering, error) {
	s.calls++
	if err, ok := s.failFor[section.ID]; ok {
		return false, nil, err
	}
	if s.suspend[section.ID] {
		if _, err := s.registry.Register(ctx, executionID, doc.ID, section.ID, "review", tokens.KindReview, ""); err != nil {
			return false, nil, err
		}
		return true, s.usage, nil
	}
	updated, err := s.store.MutateSection(ctx, section.ID, func(sec *docstore.Section) {
		sec.Status = docstore.SectionComplete
	})
	if err != nil {
		return false, nil, err
	}
	*section = *updated
	return false, s.usage, nil
}

func testEngine() *retry.Engine {
	return retry.New(
		retry.Policy{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxAttempts: 2, Factor: 2},
		retry.WithSleeper(func(time.Duration) {}),
	)
}

type fixture struct {
	store     *docstore.Store
	registry  *tokens.Registry
	submitter *stubSubmitter
	assessor  *stubAssessor
	handler   *extract.Handler
	doc       *docstore.Document
	execution *docstore.Execution
	sections  []*docstore.Section
}

func newFixture(t *testing.T, classes ...string) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	registry, err := tokens.NewRegistry(store)
	if err != nil {
		t.Fatalf("tokens.NewRegistry: %v", err)
	}
	submitter := &stubSubmitter{failFor: make(map[string]error)}
	assessor := &stubAssessor{store: store, registry: registry, suspend: make(map[string]bool), failFor: make(map[string]error)}
	selector := pattern.NewSelector(pattern.Deps{Jobs: submitter})
	handler := extract.NewHandler(store, registry, selector, assessor, 4, testEngine(), nil)

	doc := testsupport.NewDocument(t, store, "s3://inbox/doc.pdf")
	doc.Pages = []docstore.Page{{ID: "p1", TextRef: "txt/p1"}, {ID: "p2", TextRef: "txt/p2"}}
	execution := testsupport.NewExecution(t, store, doc.ID)

	sections := make([]*docstore.Section, 0, len(classes))
	for i, class := range classes {
		pageID := "p1"
		if i%2 == 1 {
			pageID = "p2"
		}
		sections = append(sections, &docstore.Section{Class: class, PageIDs: []string{pageID}})
	}
	if err := store.ReplaceSections(context.Background(), doc.ID, sections); err != nil {
		t.Fatalf("ReplaceSections: %v", err)
	}
	return &fixture{
		store:     store,
		registry:  registry,
		submitter: submitter,
		assessor:  assessor,
		handler:   handler,
		doc:       doc,
		execution: execution,
		sections:  sections,
	}
}

func (fx *fixture) ctx() context.Context {
	return services.WithExecutionID(context.Background(), fx.execution.ID)
}

func (fx *fixture) setStatus(t *testing.T, section *docstore.Section, status docstore.SectionStatus, resultRef string) {
	t.Helper()
	updated, err := fx.store.MutateSection(context.Background(), section.ID, func(s *docstore.Section) {
		s.Status = status
		s.ExtractionResultRef = resultRef
	})
	if err != nil {
		t.Fatalf("MutateSection: %v", err)
	}
	*section = *updated
}

func TestExecuteRequiresExecutionContext(t *testing.T) {
	fx := newFixture(t, "invoice")

	_, err := fx.handler.Execute(context.Background(), fx.doc)
	if !errors.Is(err, services.ErrInfrastructure) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}

func TestExecuteSubmitsPendingSectionsAndSuspends(t *testing.T) {
	fx := newFixture(t, "invoice", "receipt")

	result, err := fx.handler.Execute(fx.ctx(), fx.doc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Suspended || result.Token == "" {
		t.Fatalf("expected suspension with token, got %#v", result)
	}

	pending, err := fx.registry.PendingForExecution(context.Background(), fx.execution.ID)
	if err != nil {
		t.Fatalf("PendingForExecution: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending tokens, got %d", len(pending))
	}
	for _, token := range pending {
		if token.Kind != tokens.KindJob {
			t.Fatalf("token kind = %s, want job", token.Kind)
		}
		if token.ExternalJobID != "job-"+token.SectionID {
			t.Fatalf("job id not bound: %#v", token)
		}
	}

	sections, err := fx.store.SectionsForDocument(context.Background(), fx.doc.ID)
	if err != nil {
		t.Fatalf("SectionsForDocument: %v", err)
	}
	for _, section := range sections {
		if section.Status != docstore.SectionExtracting {
			t.Fatalf("section %s status = %s, want extracting", section.ID, section.Status)
		}
	}
}

func TestSubmitFailureFailsOnlyThatSection(t *testing.T) {
	fx := newFixture(t, "invoice", "corrupt")
	fx.submitter.failFor["corrupt"] = services.Wrap(
		services.ErrValidation, "extract", "submit", "unreadable pages", nil)

	result, err := fx.handler.Execute(fx.ctx(), fx.doc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Suspended {
		t.Fatal("healthy section should keep the document suspended")
	}

	pending, err := fx.registry.PendingForExecution(context.Background(), fx.execution.ID)
	if err != nil {
		t.Fatalf("PendingForExecution: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("failed section's token must be claimed, got %d pending", len(pending))
	}

	sections, err := fx.store.SectionsForDocument(context.Background(), fx.doc.ID)
	if err != nil {
		t.Fatalf("SectionsForDocument: %v", err)
	}
	var failed *docstore.Section
	for _, section := range sections {
		if section.Class == "corrupt" {
			failed = section
		}
	}
	if failed == nil || failed.Status != docstore.SectionFailed {
		t.Fatalf("corrupt section not failed: %#v", failed)
	}
	if failed.ErrorMessage == "" {
		t.Fatal("failed section must carry its error")
	}

	found := false
	for _, entry := range fx.doc.Errors {
		if entry.SectionID == failed.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("document errors missing section entry: %#v", fx.doc.Errors)
	}
}

func TestInfrastructureFailureAbortsRun(t *testing.T) {
	fx := newFixture(t, "invoice")
	fx.submitter.failFor["invoice"] = services.Wrap(
		services.ErrInfrastructure, "extract", "submit", "", errors.New("db gone"))

	_, err := fx.handler.Execute(fx.ctx(), fx.doc)
	if !errors.Is(err, services.ErrInfrastructure) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}

func TestAssessedSectionsComplete(t *testing.T) {
	fx := newFixture(t, "invoice", "receipt")
	fx.assessor.usage = docstore.Metering{"inference.tokens": 10}
	for _, section := range fx.sections {
		fx.setStatus(t, section, docstore.SectionAssessing, "results/"+section.ID+".json")
	}

	result, err := fx.handler.Execute(fx.ctx(), fx.doc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Suspended {
		t.Fatalf("expected continue, got %#v", result)
	}
	if fx.assessor.calls != 2 {
		t.Fatalf("expected both sections assessed, got %d calls", fx.assessor.calls)
	}
	if fx.doc.Metering["inference.tokens"] != 20 {
		t.Fatalf("assessment usage not folded in: %#v", fx.doc.Metering)
	}
}

func TestFlaggedSectionSuspendsOnReviewToken(t *testing.T) {
	fx := newFixture(t, "invoice")
	fx.setStatus(t, fx.sections[0], docstore.SectionAssessing, "results/a.json")
	fx.assessor.suspend[fx.sections[0].ID] = true

	result, err := fx.handler.Execute(fx.ctx(), fx.doc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Suspended {
		t.Fatal("review token must suspend the document")
	}

	pending, err := fx.registry.PendingForExecution(context.Background(), fx.execution.ID)
	if err != nil {
		t.Fatalf("PendingForExecution: %v", err)
	}
	if len(pending) != 1 || pending[0].Kind != tokens.KindReview {
		t.Fatalf("expected one pending review token, got %#v", pending)
	}
}

func TestAllSectionsFailedIsFatal(t *testing.T) {
	fx := newFixture(t, "corrupt")
	fx.submitter.failFor["corrupt"] = services.Wrap(
		services.ErrValidation, "extract", "submit", "unreadable pages", nil)

	_, err := fx.handler.Execute(fx.ctx(), fx.doc)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected fatal validation error, got %v", err)
	}
}

func TestPrepareRequiresClassifiedPages(t *testing.T) {
	fx := newFixture(t, "invoice")

	if err := fx.handler.Prepare(context.Background(), fx.doc); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	for i := range fx.doc.Pages {
		fx.doc.Pages[i].Class = "invoice"
	}
	if err := fx.handler.Prepare(context.Background(), fx.doc); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
}
