package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docflow/internal/docstore"
	"docflow/internal/logging"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("scheduler already running")
	}
	lanes := make([]*laneState, 0, len(m.laneOrder))
	for _, kind := range m.laneOrder {
		lane := m.lanes[kind]
		if lane == nil || len(lane.statusOrder) == 0 {
			continue
		}
		lanes = append(lanes, lane)
	}
	if len(lanes) == 0 {
		m.mu.Unlock()
		return errors.New("pipeline stages not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	for _, lane := range lanes {
		lane.logger = m.logger.With(logging.String("lane", lane.name))
	}
	m.wg.Add(len(lanes) + 2)
	m.mu.Unlock()

	for _, lane := range lanes {
		go m.runLane(runCtx, lane)
	}
	go m.runAdmission(runCtx)
	go m.runSweeps(runCtx)

	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runLane(ctx context.Context, lane *laneState) {
	defer m.wg.Done()
	logger := lane.logger
	if logger == nil {
		logger = m.logger
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if lane.runReclaimer {
			if err := m.heartbeat.ReclaimStale(ctx, logger); err != nil {
				logger.Warn("reclaim stale processing failed; stuck documents may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check document database access"),
				)
			}
		}

		doc, err := m.nextDocumentForLane(ctx, lane)
		if err != nil {
			m.handleFetchError(ctx, logger, err)
			continue
		}
		if doc == nil {
			m.waitForWorkOrShutdown(ctx)
			continue
		}

		if err := m.processDocument(ctx, lane, logger, doc); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

// nextDocumentForLane returns the oldest document at one of the lane's stage
// boundaries, skipping documents still inside their stage retry backoff.
func (m *Manager) nextDocumentForLane(ctx context.Context, lane *laneState) (*docstore.Document, error) {
	doc, err := m.store.NextForStatuses(ctx, lane.statusOrder...)
	if err != nil || doc == nil {
		return nil, err
	}

	stg, ok := lane.stageForStatus(doc.Status)
	if !ok {
		return doc, nil
	}
	execution, err := m.store.ExecutionForDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if execution != nil {
		if state, ok := execution.RetryState[stg.name]; ok && state.NextEligible.After(time.Now()) {
			return nil, nil
		}
	}
	return doc, nil
}

func (m *Manager) handleFetchError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to fetch next document",
		logging.Error(err),
		logging.String(logging.FieldEventType, "document_fetch_failed"),
		logging.String(logging.FieldErrorHint, "check document database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second):
	}
}

func (m *Manager) waitForWorkOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}

// runAdmission moves queued documents into the pipeline while the admission
// ceiling has room. Admission is the only place executions are born.
func (m *Manager) runAdmission(ctx context.Context) {
	defer m.wg.Done()
	logger := logging.NewComponentLogger(m.logger, "admission")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		doc, err := m.store.NextForStatuses(ctx, docstore.StatusQueued)
		if err != nil {
			m.handleFetchError(ctx, logger, err)
			continue
		}
		if doc == nil {
			m.waitForWorkOrShutdown(ctx)
			continue
		}

		admitted, err := m.admitDocument(ctx, logger, doc)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.setLastError(err)
			logger.Error("admission failed", logging.Error(err),
				logging.String(logging.FieldDocumentID, doc.ID))
			m.waitForWorkOrShutdown(ctx)
			continue
		}
		if !admitted {
			// Ceiling reached; capacity frees when a document terminates.
			m.waitForWorkOrShutdown(ctx)
		}
	}
}

func (m *Manager) admitDocument(ctx context.Context, logger *slog.Logger, doc *docstore.Document) (bool, error) {
	execution, err := m.store.ExecutionForDocument(ctx, doc.ID)
	if err != nil {
		return false, err
	}
	if execution == nil {
		execution, err = m.store.NewExecution(ctx, doc.ID)
		if err != nil {
			return false, err
		}
	}

	_, ok, err := m.admission.TryAcquire(ctx, execution.ID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	previous := doc.Status
	updated, err := m.store.MutateDocument(ctx, doc.ID, func(d *docstore.Document) {
		if d.Status == docstore.StatusQueued {
			d.Status = docstore.StatusAdmitted
		}
	})
	if err != nil {
		return false, err
	}
	m.setLastDocument(updated)
	m.notifyStatusChange(ctx, updated, previous)
	logger.Info("document admitted",
		logging.String(logging.FieldDocumentID, doc.ID),
		logging.String(logging.FieldEventType, "document_admitted"))
	return true, nil
}
