package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"docflow/internal/docstore"
	"docflow/internal/logging"
	"docflow/internal/services"
)

// handleStageFailure resolves a stage error into one of two durable outcomes:
// a rollback to the stage's start status with retry accounting, or a failed
// document. Retryable errors that still have stage attempts left roll back;
// everything else is final.
func (m *Manager) handleStageFailure(ctx context.Context, stg pipelineStage, doc *docstore.Document, execution *docstore.Execution, stageErr error) {
	logger := logging.WithContext(ctx, m.logger)
	message := failureMessage(stg.name, stageErr)

	if m.shouldRetryStage(execution, stg.name, stageErr) {
		m.rollbackStage(ctx, logger, stg, doc, execution, message)
		return
	}

	previous := doc.Status
	doc.SetFailed(stg.name, message)
	logger.Error("stage failed",
		logging.Error(stageErr),
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("error_message", message),
	)
	if err := m.store.UpdateDocument(ctx, doc); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not persist stage failure")
		} else {
			logger.Error("failed to persist stage failure", logging.Error(err))
		}
	}
	m.setLastDocument(doc)
	m.notifyStatusChange(ctx, doc, previous)
	if err := m.notifier.NotifyDocumentFailed(ctx, doc, stg.name, message); err != nil {
		logger.Warn("failure notification failed", logging.Error(err))
	}
	if execution != nil {
		m.finalizeExecution(ctx, logger, execution)
	}
}

// shouldRetryStage consults the execution's per-stage retry budget. The retry
// engine already retried transient faults inside the stage; this second layer
// restarts the whole stage after a cool-down, bounded by the same attempt cap.
func (m *Manager) shouldRetryStage(execution *docstore.Execution, stageName string, stageErr error) bool {
	if execution == nil {
		return false
	}
	if !services.IsRetryable(stageErr) {
		return false
	}
	attempts := 0
	if state, ok := execution.RetryState[stageName]; ok {
		attempts = state.Attempts
	}
	return attempts+1 < m.cfg.Retry.MaxAttempts
}

func (m *Manager) rollbackStage(ctx context.Context, logger *slog.Logger, stg pipelineStage, doc *docstore.Document, execution *docstore.Execution, message string) {
	state := execution.RetryState[stg.name]
	state.Attempts++
	state.NextEligible = time.Now().UTC().Add(m.stageRetryDelay(state.Attempts))
	if execution.RetryState == nil {
		execution.RetryState = make(map[string]docstore.StageRetryState, 1)
	}
	execution.RetryState[stg.name] = state
	if err := m.store.UpdateExecution(ctx, execution); err != nil {
		logger.Warn("failed to persist stage retry state", logging.Error(err))
	}

	previous := doc.Status
	doc.Status = stg.startStatus
	doc.LastHeartbeat = nil
	doc.RecordError(stg.name, "", message)
	if err := m.store.UpdateDocument(ctx, doc); err != nil {
		logger.Warn("failed to persist stage rollback", logging.Error(err))
		return
	}
	logger.Info("stage rolled back for retry",
		logging.String(logging.FieldEventType, "stage_retry"),
		logging.String(logging.FieldStage, stg.name),
		logging.Int("attempts", state.Attempts),
		logging.String("error_message", message),
	)
	m.setLastDocument(doc)
	m.notifyStatusChange(ctx, doc, previous)
}

// stageRetryDelay doubles the configured initial backoff per attempt, capped
// at the configured maximum.
func (m *Manager) stageRetryDelay(attempts int) time.Duration {
	delay := time.Duration(m.cfg.Retry.InitialBackoffSeconds) * time.Second
	maxDelay := time.Duration(m.cfg.Retry.MaxBackoffSeconds) * time.Second
	for i := 1; i < attempts; i++ {
		if maxDelay > 0 && delay >= maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func failureMessage(stageName string, stageErr error) string {
	if stageErr == nil {
		return stageName + " failed without error detail"
	}
	message := strings.TrimSpace(stageErr.Error())
	if message == "" {
		return stageName + " failed"
	}
	return message
}
