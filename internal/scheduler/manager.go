package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"docflow/internal/admission"
	"docflow/internal/config"
	"docflow/internal/docstore"
	"docflow/internal/hitl"
	"docflow/internal/logging"
	"docflow/internal/notifications"
	"docflow/internal/services/jobs"
	"docflow/internal/tokens"
)

// JobService is the subset of the job client the reconciliation sweep needs.
type JobService interface {
	Status(ctx context.Context, jobID string) (jobs.Status, error)
}

// Deps carries the collaborators the manager coordinates.
type Deps struct {
	Store     *docstore.Store
	Admission *admission.Controller
	Registry  *tokens.Registry
	HITL      *hitl.Coordinator
	Jobs      JobService
	Notifier  notifications.Service
}

// Manager coordinates document processing using registered stage handlers.
type Manager struct {
	cfg       *config.Config
	store     *docstore.Store
	admission *admission.Controller
	registry  *tokens.Registry
	hitl      *hitl.Coordinator
	jobs      JobService
	notifier  notifications.Service
	logger    *slog.Logger

	pollInterval   time.Duration
	sweepInterval  time.Duration
	reconcileAfter time.Duration
	stageTimeout   time.Duration

	heartbeat *HeartbeatMonitor

	lanes     map[laneKind]*laneState
	laneOrder []laneKind

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastDoc *docstore.Document
}

// NewManager constructs a scheduler manager.
func NewManager(cfg *config.Config, deps Deps, logger *slog.Logger) (*Manager, error) {
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Admission == nil {
		return nil, errors.New("admission controller is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("token registry is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &Manager{
		cfg:            cfg,
		store:          deps.Store,
		admission:      deps.Admission,
		registry:       deps.Registry,
		hitl:           deps.HITL,
		jobs:           deps.Jobs,
		notifier:       notifier,
		logger:         logging.NewComponentLogger(logger, "scheduler"),
		pollInterval:   time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		sweepInterval:  time.Duration(cfg.Workflow.SweepInterval) * time.Second,
		reconcileAfter: time.Duration(cfg.Workflow.ReconcileAfter) * time.Second,
		stageTimeout:   time.Duration(cfg.Workflow.StageTimeoutSeconds) * time.Second,
		heartbeat: NewHeartbeatMonitor(
			deps.Store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		lanes: make(map[laneKind]*laneState),
	}, nil
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastDocument(doc *docstore.Document) {
	m.mu.Lock()
	if doc != nil {
		copied := *doc
		m.lastDoc = &copied
	} else {
		m.lastDoc = nil
	}
	m.mu.Unlock()
}
