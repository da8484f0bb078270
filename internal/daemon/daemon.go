package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"docflow/internal/config"
	"docflow/internal/docstore"
	"docflow/internal/logging"
	"docflow/internal/notifications"
	"docflow/internal/pattern"
	"docflow/internal/scheduler"
	"docflow/internal/services"
)

// Daemon coordinates background processing and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *docstore.Store
	scheduler *scheduler.Manager

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Scheduler    scheduler.StatusSummary
	Store        docstore.HealthSummary
	DatabasePath string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *docstore.Store, logger *slog.Logger, mgr *scheduler.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || mgr == nil {
		return nil, errors.New("daemon requires config, store, and scheduler manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "docflowd.lock")
	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		scheduler: mgr,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, then launches the scheduler and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another docflow daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.scheduler.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.scheduler.Stop()
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start api server: %w", err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("docflow daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.scheduler.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("docflow daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the bound API listener address, empty until started.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// Submit validates and enqueues a new document for processing.
func (d *Daemon) Submit(ctx context.Context, id, inputLocation, patternName string) (*docstore.Document, error) {
	location := strings.TrimSpace(inputLocation)
	if location == "" {
		return nil, services.Wrap(services.ErrValidation, "submit", "validate", "input location is required", nil)
	}
	name := strings.TrimSpace(patternName)
	if name == "" {
		name = d.cfg.Pipeline.Pattern
	}
	if !pattern.Known(name) {
		return nil, services.Wrap(services.ErrValidation, "submit", "validate", fmt.Sprintf("unknown pattern %q", name), nil)
	}

	doc, err := d.store.NewDocument(ctx, strings.TrimSpace(id), location, name)
	if err != nil {
		return nil, fmt.Errorf("enqueue document: %w", err)
	}
	d.logger.Info("document submitted",
		logging.String(logging.FieldDocumentID, doc.ID),
		logging.String("input_location", location),
		logging.String("pattern", name))
	return doc, nil
}

// ResumeJob applies an extraction-job outcome to its task token.
func (d *Daemon) ResumeJob(ctx context.Context, token string, outcome scheduler.JobOutcome) error {
	return d.scheduler.ResumeJob(ctx, token, outcome)
}

// ResumeReview applies reviewer corrections to a review token.
func (d *Daemon) ResumeReview(ctx context.Context, token string, corrected map[string]string) error {
	return d.scheduler.ResumeReview(ctx, token, corrected)
}

// ListDocuments returns documents filtered by optional statuses.
func (d *Daemon) ListDocuments(ctx context.Context, statuses []docstore.Status) ([]*docstore.Document, error) {
	return d.store.ListDocuments(ctx, statuses...)
}

// RetryFailed moves failed documents (optionally a subset) back to queued.
func (d *Daemon) RetryFailed(ctx context.Context, ids []string) (int64, error) {
	return d.store.RetryFailed(ctx, ids...)
}

// ClearCompleted removes only completed documents.
func (d *Daemon) ClearCompleted(ctx context.Context) (int64, error) {
	return d.store.ClearCompleted(ctx)
}

// ClearFailed removes only failed documents.
func (d *Daemon) ClearFailed(ctx context.Context) (int64, error) {
	return d.store.ClearFailed(ctx)
}

// Clear removes all documents.
func (d *Daemon) Clear(ctx context.Context) (int64, error) {
	return d.store.Clear(ctx)
}

// StoreHealth returns aggregate document diagnostics.
func (d *Daemon) StoreHealth(ctx context.Context) (docstore.HealthSummary, error) {
	return d.store.Health(ctx)
}

// TestNotification sends a test event through the configured webhook.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.WebhookURL) == "" {
		return false, "webhook url not configured", nil
	}
	if err := notifications.NewService(d.cfg).TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	health, err := d.store.Health(ctx)
	if err != nil {
		d.logger.Warn("failed to read store health", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		Scheduler:    d.scheduler.Status(ctx),
		Store:        health,
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
	}
}
