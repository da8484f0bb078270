package scheduler

import "docflow/internal/docstore"

// ConfigureStages registers the concrete stage handlers the scheduler runs.
// The intake lane carries recognition and classification; the payload lane
// carries extraction and everything after it, so a long extraction fan-out
// never starves fresh documents of recognition.
func (m *Manager) ConfigureStages(set StageSet) {
	intake := &laneState{kind: laneIntake, name: "intake"}
	payload := &laneState{kind: lanePayload, name: "payload"}

	if set.OCR != nil {
		intake.stages = append(intake.stages, pipelineStage{
			name:             "ocr",
			handler:          set.OCR,
			startStatus:      docstore.StatusAdmitted,
			processingStatus: docstore.StatusOCR,
			doneStatus:       docstore.StatusOCRDone,
		})
	}
	if set.Classify != nil {
		intake.stages = append(intake.stages, pipelineStage{
			name:             "classify",
			handler:          set.Classify,
			startStatus:      docstore.StatusOCRDone,
			processingStatus: docstore.StatusClassifying,
			doneStatus:       docstore.StatusClassified,
		})
	}
	if set.Extract != nil {
		payload.stages = append(payload.stages, pipelineStage{
			name:             "extract",
			handler:          set.Extract,
			startStatus:      docstore.StatusClassified,
			processingStatus: docstore.StatusExtracting,
			doneStatus:       docstore.StatusExtracted,
		})
	}
	if set.Summarize != nil {
		payload.stages = append(payload.stages, pipelineStage{
			name:             "summarize",
			handler:          set.Summarize,
			startStatus:      docstore.StatusExtracted,
			processingStatus: docstore.StatusSummarizing,
			doneStatus:       docstore.StatusSummarized,
		})
	}
	finalizeStart := docstore.StatusSummarized
	if set.Evaluate != nil && m.cfg.Pipeline.EvaluationEnabled {
		payload.stages = append(payload.stages, pipelineStage{
			name:             "evaluate",
			handler:          set.Evaluate,
			startStatus:      docstore.StatusSummarized,
			processingStatus: docstore.StatusEvaluating,
			doneStatus:       docstore.StatusEvaluated,
		})
		finalizeStart = docstore.StatusEvaluated
	}
	if set.Finalize != nil {
		payload.stages = append(payload.stages, pipelineStage{
			name:             "finalize",
			handler:          set.Finalize,
			startStatus:      finalizeStart,
			processingStatus: docstore.StatusFinalizing,
			doneStatus:       docstore.StatusCompleted,
		})
	}

	lanes := make(map[laneKind]*laneState)
	order := make([]laneKind, 0, 2)
	if len(intake.stages) > 0 {
		intake.finalize()
		lanes[intake.kind] = intake
		order = append(order, intake.kind)
	}
	if len(payload.stages) > 0 {
		payload.finalize()
		lanes[payload.kind] = payload
		order = append(order, payload.kind)
	}

	// Only one lane needs to run the heartbeat reclaimer; rollback targets
	// are derived from the status machine, not from lane membership.
	for i, kind := range order {
		lanes[kind].runReclaimer = i == 0
	}

	m.mu.Lock()
	m.lanes = lanes
	m.laneOrder = order
	m.mu.Unlock()
}
