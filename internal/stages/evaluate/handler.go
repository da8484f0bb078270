// Package evaluate is the optional evaluation stage: it scores the full
// pipeline output against the source material. The scheduler only wires this
// lane in when evaluation is enabled.
package evaluate

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

const stageName = "evaluate"

// Evaluator is the subset of the inference client this stage needs.
type Evaluator interface {
	Evaluate(ctx context.Context, request inference.EvaluateRequest) (inference.EvaluateResult, error)
	HealthCheck(ctx context.Context) error
}

// Handler scores the produced output.
type Handler struct {
	store  *docstore.Store
	client Evaluator
	engine *retry.Engine
	logger *slog.Logger
}

// NewHandler constructs the evaluation stage.
func NewHandler(store *docstore.Store, client Evaluator, engine *retry.Engine, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		client: client,
		engine: engine,
		logger: logging.NewComponentLogger(logger, stageName),
	}
}

func (h *Handler) Prepare(ctx context.Context, doc *docstore.Document) error {
	if doc.SummaryRef == "" {
		return services.Wrap(
			services.ErrValidation, stageName, "validate inputs",
			"Document has no summary to evaluate", nil)
	}
	return nil
}

func (h *Handler) Execute(ctx context.Context, doc *docstore.Document) (stage.Result, error) {
	logger := logging.WithContext(ctx, h.logger)

	sections, err := h.store.SectionsForDocument(ctx, doc.ID)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrInfrastructure, stageName, "load sections", "", err)
	}
	refs := make([]string, 0, len(sections))
	for _, section := range sections {
		if section.Status == docstore.SectionComplete && section.ExtractionResultRef != "" {
			refs = append(refs, section.ExtractionResultRef)
		}
	}

	var result inference.EvaluateResult
	err = h.engine.Invoke(ctx, "evaluate document", func(ctx context.Context) error {
		var callErr error
		result, callErr = h.client.Evaluate(ctx, inference.EvaluateRequest{
			DocumentID: doc.ID,
			SummaryRef: doc.SummaryRef,
			ResultRefs: refs,
		})
		return callErr
	})
	if err != nil {
		return stage.Result{}, err
	}

	doc.EvaluationRef = result.EvaluationRef
	doc.Metering.Add(docstore.Metering(result.Metering))

	logger.Info("evaluation produced",
		logging.String("evaluation_ref", result.EvaluationRef),
		logging.Float64("score", result.Score))
	return stage.Continue(), nil
}

func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if err := h.client.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(stageName, err.Error())
	}
	return stage.Healthy(stageName)
}
