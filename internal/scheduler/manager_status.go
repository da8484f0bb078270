package scheduler

import (
	"context"

	"docflow/internal/docstore"
	"docflow/internal/logging"
	"docflow/internal/stage"
)

// StatusSummary represents lightweight scheduler diagnostics.
type StatusSummary struct {
	Running          bool
	LastError        string
	LastDocument     *docstore.Document
	DocumentStats    map[docstore.Status]int
	StageHealth      map[string]stage.Health
	AdmissionActive  int
	AdmissionCeiling int
}

// Status returns the latest scheduler information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastDoc := m.lastDoc
	stageSet := make([]pipelineStage, 0)
	for _, kind := range m.laneOrder {
		lane := m.lanes[kind]
		if lane == nil {
			continue
		}
		stageSet = append(stageSet, lane.stages...)
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read document stats", logging.Error(err))
	}

	health := make(map[string]stage.Health, len(stageSet))
	for _, stg := range stageSet {
		if stg.handler == nil {
			continue
		}
		health[stg.name] = stg.handler.HealthCheck(ctx)
	}

	active, err := m.admission.Active(ctx)
	if err != nil {
		m.logger.Warn("failed to read admission counter", logging.Error(err))
	}

	summary := StatusSummary{
		Running:          running,
		DocumentStats:    stats,
		StageHealth:      health,
		AdmissionActive:  active,
		AdmissionCeiling: m.admission.Ceiling(),
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastDoc != nil {
		copied := *lastDoc
		summary.LastDocument = &copied
	}
	return summary
}
