package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"docflow/internal/docstore"
	"docflow/internal/logging"
	"docflow/internal/services"
	"docflow/internal/stage"
	"docflow/internal/tokens"
)

func (m *Manager) processDocument(ctx context.Context, lane *laneState, laneLogger *slog.Logger, doc *docstore.Document) error {
	stg, ok := lane.stageForStatus(doc.Status)
	if !ok {
		laneLogger.Warn("no stage configured for status", logging.String(logging.FieldStatus, string(doc.Status)))
		m.waitForWorkOrShutdown(ctx)
		return nil
	}

	execution, err := m.store.ExecutionForDocument(ctx, doc.ID)
	if err != nil {
		m.setLastError(err)
		return err
	}
	if execution == nil {
		// Reclaimed after a crash that lost the admission record; re-create
		// so tokens and retry state have somewhere to live.
		execution, err = m.store.NewExecution(ctx, doc.ID)
		if err != nil {
			m.setLastError(err)
			return err
		}
	}

	stageCtx := services.WithDocumentID(ctx, doc.ID)
	stageCtx = services.WithStage(stageCtx, stg.name)
	stageCtx = services.WithRequestID(stageCtx, uuid.NewString())
	stageCtx = services.WithExecutionID(stageCtx, execution.ID)
	stageLogger := logging.WithContext(stageCtx, laneLogger)

	if err := m.transitionToProcessing(stageCtx, stg, doc); err != nil {
		stageLogger.Error("failed to transition document to processing", logging.Error(err))
		m.setLastError(err)
		return err
	}

	return m.executeStage(stageCtx, stg, stageLogger, doc, execution)
}

func (m *Manager) executeStage(ctx context.Context, stg pipelineStage, stageLogger *slog.Logger, doc *docstore.Document, execution *docstore.Execution) error {
	stageStart := time.Now()
	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_status", string(stg.processingStatus)),
	)

	if err := stg.handler.Prepare(ctx, doc); err != nil {
		m.handleStageFailure(ctx, stg, doc, execution, err)
		m.setLastError(err)
		return err
	}
	if err := m.store.UpdateDocument(ctx, doc); err != nil {
		wrapped := fmt.Errorf("persist stage preparation: %w", err)
		stageLogger.Error("failed to persist stage preparation", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}

	result, execErr := m.executeWithHeartbeat(ctx, stg.handler, doc)
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) {
			stageLogger.Debug("stage interrupted by shutdown")
			return execErr
		}
		m.handleStageFailure(ctx, stg, doc, execution, execErr)
		m.setLastError(execErr)
		return execErr
	}

	if result.Suspended {
		return m.suspendExecution(ctx, stg, stageLogger, doc, execution, result)
	}

	previous := stg.processingStatus
	if doc.Status == stg.processingStatus || doc.Status == "" {
		doc.Status = stg.doneStatus
	}
	doc.LastHeartbeat = nil
	if err := m.store.UpdateDocument(ctx, doc); err != nil {
		wrapped := fmt.Errorf("persist stage result: %w", err)
		stageLogger.Error("failed to persist stage result", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}
	delete(execution.RetryState, stg.name)
	if err := m.store.UpdateExecution(ctx, execution); err != nil {
		stageLogger.Warn("failed to clear stage retry state", logging.Error(err))
	}

	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", string(doc.Status)),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	m.setLastDocument(doc)
	m.notifyStatusChange(ctx, doc, previous)

	if doc.Status == docstore.StatusCompleted {
		m.finalizeExecution(ctx, stageLogger, execution)
		if err := m.notifier.NotifyDocumentCompleted(ctx, doc); err != nil {
			stageLogger.Warn("completion notification failed", logging.Error(err))
		}
	}
	return nil
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, handler stage.Handler, doc *docstore.Document) (stage.Result, error) {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, doc.ID)

	result, execErr := handler.Execute(ctx, doc)
	hbCancel()
	hbWG.Wait()
	return result, execErr
}

func (m *Manager) transitionToProcessing(ctx context.Context, stg pipelineStage, doc *docstore.Document) error {
	if stg.processingStatus == "" {
		return errors.New("processing status must not be empty")
	}
	now := time.Now().UTC()
	previous := doc.Status
	doc.Status = stg.processingStatus
	doc.LastHeartbeat = &now
	if err := m.store.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("persist processing transition: %w", err)
	}
	m.setLastDocument(doc)
	m.notifyStatusChange(ctx, doc, previous)
	return nil
}

// suspendExecution parks a document on its pending task tokens. The document
// status records what it waits for: review tokens take precedence since they
// need a human, not a machine. Callbacks are at-least-once and can land before
// the suspension persists; an empty pending list means every token already
// resolved, so the document re-enters the stage instead of parking with
// nothing left to wake it.
func (m *Manager) suspendExecution(ctx context.Context, stg pipelineStage, stageLogger *slog.Logger, doc *docstore.Document, execution *docstore.Execution, result stage.Result) error {
	pending, err := m.registry.PendingForExecution(ctx, execution.ID)
	if err != nil {
		m.setLastError(err)
		return err
	}

	target := stg.startStatus
	if len(pending) > 0 {
		target = suspendedStatusFor(pending)
	}

	previous := doc.Status
	updated, err := m.store.MutateDocument(ctx, doc.ID, func(d *docstore.Document) {
		d.Status = target
		d.LastHeartbeat = nil
	})
	if err != nil {
		wrapped := fmt.Errorf("persist suspension: %w", err)
		stageLogger.Error("failed to persist suspension", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}
	*doc = *updated

	execution.Stage = stg.name
	execution.PendingToken = result.Token
	if err := m.store.UpdateExecution(ctx, execution); err != nil {
		stageLogger.Warn("failed to persist execution suspension", logging.Error(err))
	}

	stageLogger.Info("stage suspended",
		logging.String(logging.FieldEventType, "stage_suspended"),
		logging.String(logging.FieldStatus, string(doc.Status)),
		logging.Int("pending_tokens", len(pending)),
	)
	m.setLastDocument(doc)
	m.notifyStatusChange(ctx, doc, previous)

	// A callback that raced the suspension saw a processing status and backed
	// off. Now that the suspension is durable, re-check the registry.
	if len(pending) > 0 {
		if err := m.maybeResume(ctx, execution.ID, doc.ID); err != nil {
			stageLogger.Warn("post-suspension resume check failed", logging.Error(err))
		}
	}
	return nil
}

func suspendedStatusFor(pending []*tokens.Token) docstore.Status {
	for _, token := range pending {
		if token.Kind == tokens.KindReview {
			return docstore.StatusHITLWait
		}
	}
	return docstore.StatusAwaitingJobs
}

// finalizeExecution tears down the scheduler state of a terminal document:
// the admission lease frees a slot, pending tokens die with the execution.
func (m *Manager) finalizeExecution(ctx context.Context, logger *slog.Logger, execution *docstore.Execution) {
	if err := m.admission.ReleaseForExecution(ctx, execution.ID); err != nil {
		logger.Warn("failed to release admission lease", logging.Error(err))
	}
	if err := m.registry.DeleteForExecution(ctx, execution.ID); err != nil {
		logger.Warn("failed to delete task tokens", logging.Error(err))
	}
	if err := m.store.DeleteExecution(ctx, execution.ID); err != nil {
		logger.Warn("failed to delete execution", logging.Error(err))
	}
}

func (m *Manager) notifyStatusChange(ctx context.Context, doc *docstore.Document, previous docstore.Status) {
	if doc.Status == previous {
		return
	}
	if err := m.notifier.NotifyStatusChange(ctx, doc, previous); err != nil {
		m.logger.Warn("status notification failed",
			logging.Error(err),
			logging.String(logging.FieldDocumentID, doc.ID))
	}
}
