package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docflow/internal/docstore"
	"docflow/internal/logging"
	"docflow/internal/tokens"
)

// runSweeps periodically repairs state that event-driven paths can miss:
// jobs whose callbacks were lost, reviews nobody answered, and admission
// leases orphaned by failed documents.
func (m *Manager) runSweeps(ctx context.Context) {
	defer m.wg.Done()
	if m.sweepInterval <= 0 {
		return
	}
	logger := logging.NewComponentLogger(m.logger, "sweeps")

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.sweepOnce(ctx, logger)
	}
}

func (m *Manager) sweepOnce(ctx context.Context, logger *slog.Logger) {
	if err := m.reconcileJobs(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("job reconciliation sweep failed", logging.Error(err))
	}
	if err := m.expireReviews(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("review expiry sweep failed", logging.Error(err))
	}
	if err := m.enforceStageBudget(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("stage budget sweep failed", logging.Error(err))
	}
	if err := m.reapExecutions(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("execution cleanup sweep failed", logging.Error(err))
	}
	if _, err := m.admission.ReclaimOrphaned(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("admission reclaim sweep failed", logging.Error(err))
	}
}

// enforceStageBudget fails documents whose current stage has exceeded the
// configured wall-clock budget. The budget covers suspended states too, so a
// review nobody answers under the "wait" policy still terminates.
func (m *Manager) enforceStageBudget(ctx context.Context, logger *slog.Logger) error {
	if m.stageTimeout <= 0 {
		return nil
	}
	overdue, err := m.store.StageTimedOut(ctx, time.Now().Add(-m.stageTimeout))
	if err != nil {
		return err
	}
	for _, doc := range overdue {
		stageName := stageNameForStatus(doc.Status)
		message := fmt.Sprintf("stage %s exceeded the %s wall-clock budget", stageName, m.stageTimeout)
		previous := doc.Status
		version := doc.Version

		updated, err := m.store.MutateDocument(ctx, doc.ID, func(d *docstore.Document) {
			// The document may have moved on between the listing and this
			// write; only the state the sweep observed gets failed.
			if d.Version != version || d.Status != previous {
				return
			}
			d.SetFailed(stageName, message)
		})
		if err != nil {
			return err
		}
		if updated.Status != docstore.StatusFailed {
			continue
		}

		logger.Error("stage budget exceeded",
			logging.String(logging.FieldEventType, "stage_timeout"),
			logging.String(logging.FieldDocumentID, doc.ID),
			logging.String(logging.FieldStage, stageName),
			logging.String("error_message", message),
		)
		m.setLastDocument(updated)
		m.notifyStatusChange(ctx, updated, previous)
		if err := m.notifier.NotifyDocumentFailed(ctx, updated, stageName, message); err != nil {
			logger.Warn("failure notification failed", logging.Error(err))
		}
		execution, err := m.store.ExecutionForDocument(ctx, doc.ID)
		if err != nil {
			return err
		}
		if execution != nil {
			m.finalizeExecution(ctx, logger, execution)
		}
	}
	return nil
}

// stageNameForStatus attributes a budget failure to the stage a processing or
// suspended status belongs to.
func stageNameForStatus(status docstore.Status) string {
	switch status {
	case docstore.StatusOCR:
		return "ocr"
	case docstore.StatusClassifying:
		return "classify"
	case docstore.StatusExtracting, docstore.StatusAwaitingJobs:
		return "extract"
	case docstore.StatusHITLWait:
		return "review"
	case docstore.StatusSummarizing:
		return "summarize"
	case docstore.StatusEvaluating:
		return "evaluate"
	case docstore.StatusFinalizing:
		return "finalize"
	default:
		return string(status)
	}
}

// reconcileJobs polls the job service for tokens that have been pending
// longer than the reconcile window. A terminal remote state means the
// callback was lost; the sweep applies the outcome as if it had arrived.
func (m *Manager) reconcileJobs(ctx context.Context) error {
	if m.jobs == nil || m.reconcileAfter <= 0 {
		return nil
	}
	pending, err := m.registry.PendingOlderThan(ctx, time.Now().Add(-m.reconcileAfter))
	if err != nil {
		return err
	}
	for _, token := range pending {
		if token.Kind != tokens.KindJob || token.ExternalJobID == "" {
			continue
		}
		status, err := m.jobs.Status(ctx, token.ExternalJobID)
		if err != nil {
			m.logger.Warn("job status poll failed",
				logging.Error(err),
				logging.String(logging.FieldToken, token.Token))
			continue
		}
		if !status.Done() {
			continue
		}
		m.logger.Info("recovered lost job callback",
			logging.String(logging.FieldEventType, "job_reconciled"),
			logging.String(logging.FieldToken, token.Token),
			logging.String("job_id", token.ExternalJobID))
		if err := m.ResumeJob(ctx, token.Token, JobOutcome{
			State:       status.State,
			ResultRef:   status.ResultRef,
			ErrorDetail: status.ErrorDetail,
			Metering:    status.Metering,
		}); err != nil {
			return err
		}
	}
	return nil
}

// expireReviews applies the review timeout policy and resumes any document
// whose overdue review the coordinator auto-completed.
func (m *Manager) expireReviews(ctx context.Context) error {
	if m.hitl == nil {
		return nil
	}
	claimed, err := m.hitl.ExpireOverdue(ctx)
	if err != nil {
		return err
	}
	for _, token := range claimed {
		if err := m.maybeResume(ctx, token.ExecutionID, token.DocumentID); err != nil {
			return err
		}
	}
	return nil
}

// reapExecutions tears down executions whose documents already terminated,
// which covers failures that never passed through finalizeExecution.
func (m *Manager) reapExecutions(ctx context.Context) error {
	ids, err := m.store.TerminalExecutionIDs(ctx)
	if err != nil {
		return err
	}
	logger := logging.NewComponentLogger(m.logger, "sweeps")
	for _, id := range ids {
		execution, err := m.store.GetExecution(ctx, id)
		if err != nil {
			return err
		}
		if execution == nil {
			continue
		}
		m.finalizeExecution(ctx, logger, execution)
	}
	return nil
}
