// Package extract is the extraction stage. It owns the per-section fan-out:
// pending sections get an async extraction job submitted under a fresh task
// token, sections whose results have landed get assessed, and sections that
// assessment flagged wait on review. The handler is re-entrant: the scheduler
// re-runs it every time a token resolves, and it picks up each section where
// that section's status says it stands.
package extract

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"docflow/internal/docstore"
	"docflow/internal/logging"
	"docflow/internal/pattern"
	"docflow/internal/retry"
	"docflow/internal/services"
	"docflow/internal/stage"
	"docflow/internal/tokens"
)

const stageName = "extract"

// SectionAssessor scores one extracted section. Implemented by assess.Assessor.
type SectionAssessor interface {
	AssessSection(ctx context.Context, doc *docstore.Document, executionID string, section *docstore.Section) (bool, docstore.Metering, error)
}

// Handler drives extraction and assessment across a document's sections.
type Handler struct {
	store    *docstore.Store
	registry *tokens.Registry
	selector *pattern.Selector
	assessor SectionAssessor
	fanout   int
	engine   *retry.Engine
	logger   *slog.Logger
}

// NewHandler constructs the extraction stage. fanout bounds how many sections
// make progress concurrently; values below one mean no limit.
func NewHandler(store *docstore.Store, registry *tokens.Registry, selector *pattern.Selector, assessor SectionAssessor, fanout int, engine *retry.Engine, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		registry: registry,
		selector: selector,
		assessor: assessor,
		fanout:   fanout,
		engine:   engine,
		logger:   logging.NewComponentLogger(logger, stageName),
	}
}

func (h *Handler) Prepare(ctx context.Context, doc *docstore.Document) error {
	_, err := stage.RequireClasses(stageName, doc)
	return err
}

func (h *Handler) Execute(ctx context.Context, doc *docstore.Document) (stage.Result, error) {
	logger := logging.WithContext(ctx, h.logger)

	executionID, ok := services.ExecutionIDFromContext(ctx)
	if !ok {
		return stage.Result{}, services.Wrap(
			services.ErrInfrastructure, stageName, "resolve execution",
			"No execution bound to this run", nil)
	}

	sections, err := h.store.SectionsForDocument(ctx, doc.ID)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrInfrastructure, stageName, "load sections", "", err)
	}
	if len(sections) == 0 {
		return stage.Result{}, services.Wrap(
			services.ErrValidation, stageName, "load sections",
			"Document has no sections to extract", nil)
	}

	// Section-scoped failures and metering fold into the shared document
	// under one lock once each goroutine finishes its remote work.
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	if h.fanout > 0 {
		group.SetLimit(h.fanout)
	}
	for _, section := range sections {
		section := section
		switch section.Status {
		case docstore.SectionPending:
			group.Go(func() error {
				return h.submitSection(groupCtx, doc, executionID, section, &mu)
			})
		case docstore.SectionAssessing:
			group.Go(func() error {
				return h.assessSection(groupCtx, doc, executionID, section, &mu)
			})
		}
	}
	if err := group.Wait(); err != nil {
		return stage.Result{}, err
	}

	pending, err := h.registry.PendingForExecution(ctx, executionID)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrInfrastructure, stageName, "list tokens", "", err)
	}
	if len(pending) > 0 {
		logger.Info("extraction suspended",
			logging.Int("pending_tokens", len(pending)))
		return stage.Suspend(pending[0].Token), nil
	}

	refreshed, err := h.store.SectionsForDocument(ctx, doc.ID)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrInfrastructure, stageName, "load sections", "", err)
	}
	completed, failed := 0, 0
	for _, section := range refreshed {
		switch section.Status {
		case docstore.SectionComplete:
			completed++
		case docstore.SectionFailed:
			failed++
		}
	}
	if completed == 0 {
		return stage.Result{}, services.Wrap(
			services.ErrValidation, stageName, "collect results",
			"Every section failed extraction", nil)
	}

	logger.Info("extraction completed",
		logging.Int("sections_complete", completed),
		logging.Int("sections_failed", failed))
	return stage.Continue(), nil
}

// submitSection registers a job token and submits the async extraction job
// for one pending section. Section-scoped submit failures fail only that
// section; anything infrastructure-flavored aborts the whole run.
func (h *Handler) submitSection(ctx context.Context, doc *docstore.Document, executionID string, section *docstore.Section, mu *sync.Mutex) error {
	strategy, err := h.selector.ForDocument(doc)
	if err != nil {
		return services.Wrap(services.ErrValidation, stageName, "select pattern", err.Error(), nil)
	}

	token, err := h.registry.Register(ctx, executionID, doc.ID, section.ID, stageName, tokens.KindJob, "")
	if err != nil {
		return services.Wrap(services.ErrInfrastructure, stageName, "register token", "", err)
	}

	var jobID string
	err = h.engine.Invoke(ctx, "submit extraction job", func(ctx context.Context) error {
		var callErr error
		jobID, callErr = strategy.Extract(ctx, doc, section, token.Token)
		return callErr
	})
	if err != nil {
		if services.FailureScope(err) == services.ScopeDocument {
			return err
		}
		return h.failSection(ctx, doc, section, token.Token, err, mu)
	}

	if err := h.registry.BindExternalJob(ctx, token.Token, jobID); err != nil {
		return services.Wrap(services.ErrInfrastructure, stageName, "bind job", "", err)
	}
	updated, err := h.store.MutateSection(ctx, section.ID, func(s *docstore.Section) {
		s.Status = docstore.SectionExtracting
		s.ErrorMessage = ""
	})
	if err != nil {
		return err
	}
	*section = *updated

	logging.WithContext(ctx, h.logger).Info("extraction job submitted",
		logging.String(logging.FieldSectionID, section.ID),
		logging.String(logging.FieldToken, token.Token),
		logging.String("job_id", jobID))
	return nil
}

// assessSection scores one section whose extraction result has landed.
func (h *Handler) assessSection(ctx context.Context, doc *docstore.Document, executionID string, section *docstore.Section, mu *sync.Mutex) error {
	suspended, usage, err := h.assessor.AssessSection(ctx, doc, executionID, section)
	if len(usage) > 0 {
		mu.Lock()
		doc.Metering.Add(usage)
		mu.Unlock()
	}
	if err != nil {
		if services.FailureScope(err) == services.ScopeDocument {
			return err
		}
		return h.failSection(ctx, doc, section, "", err, mu)
	}
	if suspended {
		logging.WithContext(ctx, h.logger).Info("section awaiting review",
			logging.String(logging.FieldSectionID, section.ID))
	}
	return nil
}

// failSection marks one section failed and records the failure on the
// document without ending the run. The section's own token, if any, is
// claimed so nothing resumes into a dead section.
func (h *Handler) failSection(ctx context.Context, doc *docstore.Document, section *docstore.Section, tokenValue string, cause error, mu *sync.Mutex) error {
	if tokenValue != "" {
		if _, _, err := h.registry.Claim(ctx, tokenValue); err != nil {
			return services.Wrap(services.ErrInfrastructure, stageName, "claim token", "", err)
		}
	}
	updated, err := h.store.MutateSection(ctx, section.ID, func(s *docstore.Section) {
		s.Status = docstore.SectionFailed
		s.ErrorMessage = cause.Error()
	})
	if err != nil {
		return err
	}
	*section = *updated

	mu.Lock()
	doc.RecordError(stageName, section.ID, cause.Error())
	mu.Unlock()

	logging.WithContext(ctx, h.logger).Warn("section failed",
		logging.String(logging.FieldSectionID, section.ID),
		logging.Error(cause))
	return nil
}

func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy(stageName)
}
