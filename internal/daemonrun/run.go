// Package daemonrun composes the docflow daemon process: logging, preflight,
// the document store, service clients, stage handlers, the scheduler, and the
// HTTP API, then blocks until the process receives a termination signal.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"docflow/internal/admission"
	"docflow/internal/config"
	"docflow/internal/daemon"
	"docflow/internal/docstore"
	"docflow/internal/hitl"
	"docflow/internal/logging"
	"docflow/internal/notifications"
	"docflow/internal/pattern"
	"docflow/internal/preflight"
	"docflow/internal/retry"
	"docflow/internal/scheduler"
	"docflow/internal/services/inference"
	"docflow/internal/services/jobs"
	"docflow/internal/services/review"
	"docflow/internal/stages/assess"
	"docflow/internal/stages/classify"
	"docflow/internal/stages/evaluate"
	"docflow/internal/stages/extract"
	"docflow/internal/stages/ocr"
	"docflow/internal/stages/results"
	"docflow/internal/stages/summarize"
	"docflow/internal/tokens"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel      string
	SkipPreflight bool
}

// Run starts the docflow daemon runtime loop and blocks until signalled.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("docflow-%s.log", runID))

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logServiceSnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update docflow.log link: %v\n", err)
	}
	pidPath := filepath.Join(cfg.Paths.LogDir, "docflow.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	if !opts.SkipPreflight {
		results := preflight.RunAll(signalCtx, cfg)
		for _, result := range results {
			logger.Info("preflight check",
				logging.String("check", result.Name),
				logging.Bool("passed", result.Passed),
				logging.String("detail", result.Detail))
		}
		if failure, failed := preflight.FirstFailure(results); failed {
			return fmt.Errorf("preflight failed: %s: %s", failure.Name, failure.Detail)
		}
	}

	store, err := docstore.Open(cfg)
	if err != nil {
		logger.Error("open document store", logging.Error(err))
		return err
	}
	defer store.Close()

	registry, err := tokens.NewRegistry(store)
	if err != nil {
		return fmt.Errorf("create token registry: %w", err)
	}
	control, err := admission.New(store, cfg.Pipeline.ConcurrencyCeiling)
	if err != nil {
		return fmt.Errorf("create admission controller: %w", err)
	}

	jobClient := jobs.NewClient(cfg.Services.Jobs)
	reviewClient := review.NewClient(cfg.Services.Review)
	notifier := notifications.NewService(cfg)
	coordinator := hitl.NewCoordinator(store, registry, reviewClient, notifier, cfg, logger)

	mgr, err := scheduler.NewManager(cfg, scheduler.Deps{
		Store:     store,
		Admission: control,
		Registry:  registry,
		HITL:      coordinator,
		Jobs:      jobClient,
		Notifier:  notifier,
	}, logger)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	registerStages(mgr, cfg, store, registry, coordinator, jobClient, logger)

	d, err := daemon.New(cfg, store, logger, mgr)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed", logging.Error(err))
		return err
	}

	<-signalCtx.Done()
	logger.Info("docflow daemon shutting down")
	return nil
}

// registerStages wires the concrete pipeline handlers into the scheduler.
// Every pattern shares the same handler set; the selector decides per
// document how classification and extraction reach the backends.
func registerStages(mgr *scheduler.Manager, cfg *config.Config, store *docstore.Store, registry *tokens.Registry, coordinator *hitl.Coordinator, jobClient *jobs.Client, logger *slog.Logger) {
	if mgr == nil || cfg == nil {
		return
	}

	inferenceClient := inference.NewClient(cfg.Services.Inference)
	engine := retry.New(retry.PolicyFromConfig(cfg))

	deps := pattern.Deps{
		Inference:   inferenceClient,
		Assessor:    inferenceClient,
		Jobs:        jobClient,
		Classes:     cfg.Pipeline.Classes,
		CallbackURL: jobCallbackURL(cfg),
	}
	if strings.TrimSpace(cfg.Services.Assessment.BaseURL) != "" {
		deps.CustomAssessor = inference.NewClient(cfg.Services.Assessment)
	}
	selector := pattern.NewSelector(deps)

	assessor := assess.New(store, selector, coordinator, cfg.Pipeline.ConfidenceThreshold, engine, logger)

	mgr.ConfigureStages(scheduler.StageSet{
		OCR:       ocr.NewHandler(cfg, logger),
		Classify:  classify.NewHandler(store, selector, engine, inferenceClient, logger),
		Extract:   extract.NewHandler(store, registry, selector, assessor, cfg.Pipeline.SectionFanout, engine, logger),
		Summarize: summarize.NewHandler(store, inferenceClient, engine, logger),
		Evaluate:  evaluate.NewHandler(store, inferenceClient, engine, logger),
		Finalize:  results.NewHandler(store, cfg.Paths.DataDir, logger),
	})
}

func jobCallbackURL(cfg *config.Config) string {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return ""
	}
	return "http://" + bind + "/api/v1/callbacks/jobs"
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "docflow.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logServiceSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("service snapshot",
		logging.String("pattern", cfg.Pipeline.Pattern),
		logging.Bool("ocr_configured", strings.TrimSpace(cfg.Services.OCR.BaseURL) != ""),
		logging.Bool("inference_configured", strings.TrimSpace(cfg.Services.Inference.BaseURL) != ""),
		logging.Bool("jobs_configured", strings.TrimSpace(cfg.Services.Jobs.BaseURL) != ""),
		logging.Bool("review_configured", strings.TrimSpace(cfg.Services.Review.BaseURL) != ""),
		logging.Bool("assessment_configured", strings.TrimSpace(cfg.Services.Assessment.BaseURL) != ""),
		logging.Bool("webhook_configured", strings.TrimSpace(cfg.Notifications.WebhookURL) != ""),
		logging.Bool("evaluation_enabled", cfg.Pipeline.EvaluationEnabled),
	)
}
