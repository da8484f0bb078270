package scheduler

import (
	"log/slog"

	"docflow/internal/docstore"
	"docflow/internal/stage"
)

// StageSet bundles the concrete pipeline handlers the manager orchestrates.
type StageSet struct {
	OCR       stage.Handler
	Classify  stage.Handler
	Extract   stage.Handler
	Summarize stage.Handler
	Evaluate  stage.Handler
	Finalize  stage.Handler
}

type pipelineStage struct {
	name             string
	handler          stage.Handler
	startStatus      docstore.Status
	processingStatus docstore.Status
	doneStatus       docstore.Status
}

type laneKind string

const (
	laneIntake  laneKind = "intake"
	lanePayload laneKind = "payload"
)

type laneState struct {
	kind         laneKind
	name         string
	stages       []pipelineStage
	statusOrder  []docstore.Status
	stageByStart map[docstore.Status]pipelineStage
	logger       *slog.Logger
	runReclaimer bool
}

func (l *laneState) finalize() {
	if l == nil {
		return
	}
	l.stageByStart = make(map[docstore.Status]pipelineStage, len(l.stages))
	l.statusOrder = make([]docstore.Status, 0, len(l.stages))
	for _, stg := range l.stages {
		l.stageByStart[stg.startStatus] = stg
		l.statusOrder = append(l.statusOrder, stg.startStatus)
	}
}

func (l *laneState) stageForStatus(status docstore.Status) (pipelineStage, bool) {
	if l == nil {
		return pipelineStage{}, false
	}
	stg, ok := l.stageByStart[status]
	return stg, ok
}
