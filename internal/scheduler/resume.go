package scheduler

import (
	"context"
	"strings"

	"docflow/internal/docstore"
	"docflow/internal/logging"
	"docflow/internal/services"
	"docflow/internal/services/jobs"
)

// JobOutcome is the terminal report of one asynchronous extraction job,
// delivered through the callback endpoint or recovered by the
// reconciliation sweep.
type JobOutcome struct {
	State       jobs.State
	ResultRef   string
	ErrorDetail string
	Metering    map[string]int64
}

// ResumeJob resolves a job token and applies its outcome to the suspended
// section. Resolution is exactly-once: a duplicate callback finds the token
// already claimed and returns without effect. Unknown tokens are rejected so
// the callback endpoint can answer 404.
func (m *Manager) ResumeJob(ctx context.Context, tokenValue string, outcome JobOutcome) error {
	token, won, err := m.registry.Claim(ctx, tokenValue)
	if err != nil {
		return err
	}
	if token == nil {
		return services.Wrap(services.ErrNotFound, "resume", "claim token", "unknown task token", nil)
	}
	if !won {
		return nil
	}

	logger := logging.WithContext(services.WithDocumentID(ctx, token.DocumentID), m.logger)

	if token.SectionID != "" {
		succeeded := outcome.State == jobs.StateSucceeded
		if _, err := m.store.MutateSection(ctx, token.SectionID, func(s *docstore.Section) {
			if succeeded {
				s.Status = docstore.SectionAssessing
				s.ExtractionResultRef = outcome.ResultRef
				s.ErrorMessage = ""
			} else {
				s.Status = docstore.SectionFailed
				s.ErrorMessage = jobFailureMessage(outcome)
			}
		}); err != nil {
			return err
		}
		if !succeeded {
			if _, err := m.store.MutateDocument(ctx, token.DocumentID, func(d *docstore.Document) {
				d.RecordError("extract", token.SectionID, jobFailureMessage(outcome))
			}); err != nil {
				logger.Warn("failed to record job failure on document", logging.Error(err))
			}
		}
	}
	if len(outcome.Metering) > 0 {
		if _, err := m.store.MutateDocument(ctx, token.DocumentID, func(d *docstore.Document) {
			d.Metering.Add(docstore.Metering(outcome.Metering))
		}); err != nil {
			logger.Warn("failed to record job metering", logging.Error(err))
		}
	}

	logger.Info("job token resolved",
		logging.String(logging.FieldEventType, "job_resolved"),
		logging.String(logging.FieldToken, token.Token),
		logging.String(logging.FieldSectionID, token.SectionID),
		logging.String("job_state", string(outcome.State)),
	)
	return m.maybeResume(ctx, token.ExecutionID, token.DocumentID)
}

// ResumeReview resolves a review token with the reviewer's corrections.
func (m *Manager) ResumeReview(ctx context.Context, tokenValue string, corrected map[string]string) error {
	token, won, err := m.registry.Claim(ctx, tokenValue)
	if err != nil {
		return err
	}
	if token == nil {
		return services.Wrap(services.ErrNotFound, "resume", "claim token", "unknown task token", nil)
	}
	if !won {
		return nil
	}

	if err := m.hitl.CompleteReview(ctx, token, corrected); err != nil {
		return err
	}
	logging.WithContext(services.WithDocumentID(ctx, token.DocumentID), m.logger).Info("review token resolved",
		logging.String(logging.FieldEventType, "review_resolved"),
		logging.String(logging.FieldToken, token.Token),
		logging.String(logging.FieldSectionID, token.SectionID),
	)
	return m.maybeResume(ctx, token.ExecutionID, token.DocumentID)
}

// maybeResume re-evaluates a suspended document after a token resolved. With
// no tokens left the document re-enters the extraction stage, which picks up
// each section where its status stands; with tokens remaining the suspension
// status is recomputed so a document whose jobs all landed but whose review
// is still open reads as waiting on a human.
func (m *Manager) maybeResume(ctx context.Context, executionID, documentID string) error {
	pending, err := m.registry.PendingForExecution(ctx, executionID)
	if err != nil {
		return err
	}

	target := docstore.StatusClassified
	if len(pending) > 0 {
		target = suspendedStatusFor(pending)
	}

	updated, err := m.store.MutateDocument(ctx, documentID, func(d *docstore.Document) {
		if docstore.IsSuspendedStatus(d.Status) {
			d.Status = target
		}
	})
	if err != nil {
		return err
	}
	if updated.Status == docstore.StatusClassified {
		m.logger.Info("document resumed",
			logging.String(logging.FieldEventType, "document_resumed"),
			logging.String(logging.FieldDocumentID, documentID),
		)
	}
	m.setLastDocument(updated)
	return nil
}

func jobFailureMessage(outcome JobOutcome) string {
	if detail := strings.TrimSpace(outcome.ErrorDetail); detail != "" {
		return detail
	}
	return "extraction job failed"
}
