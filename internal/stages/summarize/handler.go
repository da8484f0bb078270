// Package summarize is the summarization stage: it produces one document-level
// summary artifact over the extraction results of the completed sections.
package summarize

import (
	"context"
	"log/slog"

	"docflow/internal/docstore"
	"docflow/internal/logging"
	"docflow/internal/retry"
	"docflow/internal/services"
	"docflow/internal/services/inference"
	"docflow/internal/stage"
)

const stageName = "summarize"

// Summarizer is the subset of the inference client this stage needs.
type Summarizer interface {
	Summarize(ctx context.Context, request inference.SummarizeRequest) (inference.SummarizeResult, error)
	HealthCheck(ctx context.Context) error
}

// Handler produces the document summary.
type Handler struct {
	store  *docstore.Store
	client Summarizer
	engine *retry.Engine
	logger *slog.Logger
}

// NewHandler constructs the summarization stage.
func NewHandler(store *docstore.Store, client Summarizer, engine *retry.Engine, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		client: client,
		engine: engine,
		logger: logging.NewComponentLogger(logger, stageName),
	}
}

func (h *Handler) Prepare(ctx context.Context, doc *docstore.Document) error {
	refs, err := completeResultRefs(ctx, h.store, doc.ID)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return services.Wrap(
			services.ErrValidation, stageName, "collect results",
			"No completed sections to summarize", nil)
	}
	return nil
}

func (h *Handler) Execute(ctx context.Context, doc *docstore.Document) (stage.Result, error) {
	logger := logging.WithContext(ctx, h.logger)

	refs, err := completeResultRefs(ctx, h.store, doc.ID)
	if err != nil {
		return stage.Result{}, err
	}

	var result inference.SummarizeResult
	err = h.engine.Invoke(ctx, "summarize document", func(ctx context.Context) error {
		var callErr error
		result, callErr = h.client.Summarize(ctx, inference.SummarizeRequest{
			DocumentID: doc.ID,
			ResultRefs: refs,
		})
		return callErr
	})
	if err != nil {
		return stage.Result{}, err
	}

	doc.SummaryRef = result.SummaryRef
	doc.Metering.Add(docstore.Metering(result.Metering))

	logger.Info("summary produced",
		logging.String("summary_ref", result.SummaryRef),
		logging.Int("sections", len(refs)))
	return stage.Continue(), nil
}

func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if err := h.client.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(stageName, err.Error())
	}
	return stage.Healthy(stageName)
}

// completeResultRefs collects extraction result references from sections that
// finished, in stored order. Failed sections contribute nothing.
func completeResultRefs(ctx context.Context, store *docstore.Store, documentID string) ([]string, error) {
	sections, err := store.SectionsForDocument(ctx, documentID)
	if err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, stageName, "load sections", "", err)
	}
	refs := make([]string, 0, len(sections))
	for _, section := range sections {
		if section.Status == docstore.SectionComplete && section.ExtractionResultRef != "" {
			refs = append(refs, section.ExtractionResultRef)
		}
	}
	return refs, nil
}
