// Package ocr is the recognition stage: it turns the submitted input into
// ordered page artifacts through the synchronous recognition service.
package ocr

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"docflow/internal/config"
	"docflow/internal/docstore"
	"docflow/internal/logging"
	"docflow/internal/retry"
	"docflow/internal/services"
	ocrsvc "docflow/internal/services/ocr"
	"docflow/internal/stage"
)

const stageName = "ocr"

// Recognizer is the subset of the recognition client this stage needs.
type Recognizer interface {
	Recognize(ctx context.Context, documentID, inputLocation string) (ocrsvc.Result, error)
	HealthCheck(ctx context.Context) error
}

// Handler runs recognition for admitted documents.
type Handler struct {
	client Recognizer
	engine *retry.Engine
	logger *slog.Logger
}

// NewHandler constructs the recognition stage using default dependencies.
func NewHandler(cfg *config.Config, logger *slog.Logger) *Handler {
	return NewHandlerWithDependencies(
		ocrsvc.NewClient(cfg.Services.OCR),
		retry.New(retry.PolicyFromConfig(cfg)),
		logger,
	)
}

// NewHandlerWithDependencies allows injecting collaborators (used in tests).
func NewHandlerWithDependencies(client Recognizer, engine *retry.Engine, logger *slog.Logger) *Handler {
	return &Handler{
		client: client,
		engine: engine,
		logger: logging.NewComponentLogger(logger, stageName),
	}
}

func (h *Handler) Prepare(ctx context.Context, doc *docstore.Document) error {
	if strings.TrimSpace(doc.InputLocation) == "" {
		return services.Wrap(
			services.ErrValidation, stageName, "validate inputs",
			"Document has no input location; resubmit with a readable source", nil)
	}
	if doc.StartedAt == nil {
		now := time.Now().UTC()
		doc.StartedAt = &now
	}
	return nil
}

func (h *Handler) Execute(ctx context.Context, doc *docstore.Document) (stage.Result, error) {
	logger := logging.WithContext(ctx, h.logger)
	logger.Info("recognition started", logging.String("input_location", doc.InputLocation))

	var result ocrsvc.Result
	err := h.engine.Invoke(ctx, "recognize document", func(ctx context.Context) error {
		var callErr error
		result, callErr = h.client.Recognize(ctx, doc.ID, doc.InputLocation)
		return callErr
	})
	if err != nil {
		return stage.Result{}, err
	}

	pages := make([]docstore.Page, 0, len(result.Pages))
	for _, page := range result.Pages {
		pages = append(pages, docstore.Page{
			ID:       page.ID,
			ImageRef: page.ImageRef,
			TextRef:  page.TextRef,
		})
	}
	doc.Pages = pages
	doc.Metering.Add(docstore.Metering(result.Metering))

	logger.Info("recognition completed", logging.Int("pages", len(pages)))
	return stage.Continue(), nil
}

func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if err := h.client.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(stageName, err.Error())
	}
	return stage.Healthy(stageName)
}
