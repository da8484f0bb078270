// Package assess scores extracted sections and routes low-confidence output
// to human review. It is not a standalone lane; the extraction stage invokes
// it per section once that section's extraction result is available.
package assess

import (
	"context"
	"log/slog"

	"docflow/internal/docstore"
	"docflow/internal/logging"
	"docflow/internal/pattern"
	"docflow/internal/retry"
	"docflow/internal/services"
	"docflow/internal/services/inference"
)

const stageName = "assess"

// Reviewer opens a human review task for a flagged section.
type Reviewer interface {
	RequestReview(ctx context.Context, doc *docstore.Document, executionID string, section *docstore.Section) (string, error)
}

// Assessor scores sections and escalates low-confidence attributes.
type Assessor struct {
	store     *docstore.Store
	selector  *pattern.Selector
	reviewer  Reviewer
	threshold float64
	engine    *retry.Engine
	logger    *slog.Logger
}

// New builds an assessor. threshold is the confidence floor below which an
// attribute raises an alert; 0 disables review routing entirely.
func New(store *docstore.Store, selector *pattern.Selector, reviewer Reviewer, threshold float64, engine *retry.Engine, logger *slog.Logger) *Assessor {
	return &Assessor{
		store:     store,
		selector:  selector,
		reviewer:  reviewer,
		threshold: threshold,
		engine:    engine,
		logger:    logging.NewComponentLogger(logger, stageName),
	}
}

// AssessSection scores one section's extraction output, persists the scored
// attributes and any confidence alerts, and either completes the section or
// hands it to review. It returns true when a review token now gates the
// section, plus the usage the scoring call consumed. The shared document is
// read but never written; callers fold the metering in themselves.
func (a *Assessor) AssessSection(ctx context.Context, doc *docstore.Document, executionID string, section *docstore.Section) (bool, docstore.Metering, error) {
	logger := logging.WithContext(ctx, a.logger)

	strategy, err := a.selector.ForDocument(doc)
	if err != nil {
		return false, nil, services.Wrap(services.ErrValidation, stageName, "select pattern", err.Error(), nil)
	}

	var result inference.AssessResult
	err = a.engine.Invoke(ctx, "assess section", func(ctx context.Context) error {
		var callErr error
		result, callErr = strategy.Assess(ctx, doc, section)
		return callErr
	})
	if err != nil {
		return false, nil, err
	}
	usage := docstore.Metering(result.Metering)

	attributes, alerts := a.score(result)
	updated, err := a.store.MutateSection(ctx, section.ID, func(s *docstore.Section) {
		s.Attributes = attributes
		s.ConfidenceAlerts = alerts
		if len(alerts) == 0 {
			s.Status = docstore.SectionComplete
			s.ErrorMessage = ""
		}
	})
	if err != nil {
		return false, usage, err
	}
	*section = *updated

	if len(alerts) == 0 {
		logger.Info("section assessed",
			logging.String(logging.FieldSectionID, section.ID),
			logging.Int("attributes", len(attributes)))
		return false, usage, nil
	}

	token, err := a.reviewer.RequestReview(ctx, doc, executionID, section)
	if err != nil {
		return false, usage, err
	}
	logger.Info("section flagged for review",
		logging.String(logging.FieldSectionID, section.ID),
		logging.String(logging.FieldToken, token),
		logging.Int("alerts", len(alerts)))
	return true, usage, nil
}

// score folds the scored attributes into storage form and collects alerts for
// every attribute under threshold.
func (a *Assessor) score(result inference.AssessResult) (map[string]docstore.Attribute, []docstore.ConfidenceAlert) {
	attributes := make(map[string]docstore.Attribute, len(result.Attributes))
	var alerts []docstore.ConfidenceAlert
	for name, scored := range result.Attributes {
		attributes[name] = docstore.Attribute{Value: scored.Value, Confidence: scored.Confidence}
		if a.threshold > 0 && scored.Confidence < a.threshold {
			alerts = append(alerts, docstore.ConfidenceAlert{
				Attribute:  name,
				Confidence: scored.Confidence,
				Threshold:  a.threshold,
			})
		}
	}
	return attributes, alerts
}
