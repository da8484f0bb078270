package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"docflow/internal/admission"
	"docflow/internal/config"
	"docflow/internal/daemon"
	"docflow/internal/docstore"
	"docflow/internal/hitl"
	"docflow/internal/logging"
	"docflow/internal/scheduler"
	"docflow/internal/services/review"
	"docflow/internal/stage"
	"docflow/internal/testsupport"
	"docflow/internal/tokens"
)

type noopStage struct{ name string }

func (s noopStage) Prepare(context.Context, *docstore.Document) error { return nil }
func (s noopStage) Execute(context.Context, *docstore.Document) (stage.Result, error) {
	return stage.Continue(), nil
}
func (s noopStage) HealthCheck(context.Context) stage.Health { return stage.Healthy(s.name) }

type noopReviewTasks struct{}

func (noopReviewTasks) CreateTask(context.Context, review.TaskRequest) (string, error) {
	return "task-1", nil
}
func (noopReviewTasks) Status(context.Context, string) (review.TaskStatus, error) {
	return review.TaskStatus{}, nil
}
func (noopReviewTasks) CancelTask(context.Context, string) error { return nil }

type cliTestEnv struct {
	cfg        *config.Config
	store      *docstore.Store
	daemon     *daemon.Daemon
	configPath string
}

// setupCLITestEnv starts a daemon with inert stages and writes a config file
// pointing at its bound API address so CLI commands reach it over HTTP. The
// long poll interval keeps seeded documents at their seeded statuses.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Workflow.QueuePollInterval = 3600
	cfg.Workflow.SweepInterval = 3600
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	store := testsupport.MustOpenStore(t, cfg)
	registry, err := tokens.NewRegistry(store)
	if err != nil {
		t.Fatalf("tokens.NewRegistry: %v", err)
	}
	control, err := admission.New(store, cfg.Pipeline.ConcurrencyCeiling)
	if err != nil {
		t.Fatalf("admission.New: %v", err)
	}
	logger := logging.NewNop()
	coordinator := hitl.NewCoordinator(store, registry, noopReviewTasks{}, nil, cfg, logger)

	mgr, err := scheduler.NewManager(cfg, scheduler.Deps{
		Store:     store,
		Admission: control,
		Registry:  registry,
		HITL:      coordinator,
	}, logger)
	if err != nil {
		t.Fatalf("scheduler.NewManager: %v", err)
	}
	mgr.ConfigureStages(scheduler.StageSet{
		OCR:       noopStage{name: "ocr"},
		Classify:  noopStage{name: "classify"},
		Extract:   noopStage{name: "extract"},
		Summarize: noopStage{name: "summarize"},
		Finalize:  noopStage{name: "finalize"},
	})

	d, err := daemon.New(cfg, store, logger, mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)
	// Let the scheduler loops drain the empty store and go idle so seeded
	// documents keep their seeded statuses.
	time.Sleep(50 * time.Millisecond)

	fileCfg := *cfg
	fileCfg.Paths.APIBind = d.APIAddr()
	encoded, err := toml.Marshal(fileCfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	configPath := filepath.Join(cfg.Paths.DataDir, "config.toml")
	if err := os.WriteFile(configPath, encoded, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return &cliTestEnv{cfg: cfg, store: store, daemon: d, configPath: configPath}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func seedDocument(t *testing.T, store *docstore.Store, id string, status docstore.Status) *docstore.Document {
	t.Helper()
	ctx := context.Background()
	doc, err := store.NewDocument(ctx, id, "/inbox/"+id+".pdf", "composed")
	if err != nil {
		t.Fatalf("NewDocument %s: %v", id, err)
	}
	if status != docstore.StatusQueued {
		doc, err = store.MutateDocument(ctx, id, func(d *docstore.Document) {
			d.Status = status
		})
		if err != nil {
			t.Fatalf("MutateDocument %s: %v", id, err)
		}
	}
	return doc
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
