// Package classify is the classification stage: it derives the section split
// for a document through the selected pattern strategy and persists it.
package classify

import (
	"context"
	"log/slog"

	"docflow/internal/docstore"
	"docflow/internal/logging"
	"docflow/internal/pattern"
	"docflow/internal/retry"
	"docflow/internal/services"
	"docflow/internal/stage"
)

const stageName = "classify"

// HealthChecker reports readiness of the inference backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler derives and persists the section split.
type Handler struct {
	store    *docstore.Store
	selector *pattern.Selector
	engine   *retry.Engine
	health   HealthChecker
	logger   *slog.Logger
}

// NewHandler constructs the classification stage.
func NewHandler(store *docstore.Store, selector *pattern.Selector, engine *retry.Engine, health HealthChecker, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		selector: selector,
		engine:   engine,
		health:   health,
		logger:   logging.NewComponentLogger(logger, stageName),
	}
}

func (h *Handler) Prepare(ctx context.Context, doc *docstore.Document) error {
	_, err := stage.RequirePages(stageName, doc)
	return err
}

func (h *Handler) Execute(ctx context.Context, doc *docstore.Document) (stage.Result, error) {
	logger := logging.WithContext(ctx, h.logger)

	strategy, err := h.selector.ForDocument(doc)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrValidation, stageName, "select pattern", err.Error(), nil)
	}

	var split pattern.Split
	err = h.engine.Invoke(ctx, "classify document", func(ctx context.Context) error {
		var callErr error
		split, callErr = strategy.Classify(ctx, doc)
		return callErr
	})
	if err != nil {
		return stage.Result{}, err
	}
	if len(split.Sections) == 0 {
		return stage.Result{}, services.Wrap(
			services.ErrValidation, stageName, "apply split",
			"Classification produced no sections", nil)
	}

	for i, page := range doc.Pages {
		if class, ok := split.PageClasses[page.ID]; ok {
			doc.Pages[i].Class = class
		}
	}

	sections := make([]*docstore.Section, 0, len(split.Sections))
	for i := range split.Sections {
		section := split.Sections[i]
		sections = append(sections, &section)
	}
	if err := h.store.ReplaceSections(ctx, doc.ID, sections); err != nil {
		return stage.Result{}, services.Wrap(services.ErrInfrastructure, stageName, "persist sections", "", err)
	}
	doc.Metering.Add(split.Metering)

	logger.Info("classification completed",
		logging.String("pattern", strategy.Name()),
		logging.Int("sections", len(sections)))
	return stage.Continue(), nil
}

func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if h.health == nil {
		return stage.Healthy(stageName)
	}
	if err := h.health.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(stageName, err.Error())
	}
	return stage.Healthy(stageName)
}
