// Package daemonctl orchestrates daemon lifecycle operations for the CLI:
// launching a detached docflowd process, waiting for the API to come up,
// and stopping a running daemon via its PID file.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"docflow/internal/api"
	"docflow/internal/apiclient"
	"docflow/internal/config"
	"docflow/internal/docstore"
)

// ErrDaemonNotRunning indicates no daemon answered on the API bind address.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	PID      int
}

// StopResult captures daemon stop outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// Launch starts a detached daemon process running the given executable with
// the "daemon run" subcommand.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon", "run"}
	if path := strings.TrimSpace(opts.ConfigPath); path != "" {
		args = append(args, "--config", path)
	}

	proc := exec.Command(executablePath, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForHealthy polls the daemon health endpoint until it answers or the
// timeout elapses.
func WaitForHealthy(ctx context.Context, client *apiclient.Client, timeout time.Duration) (*api.DaemonStatus, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		status, err := client.Health(ctx)
		if err == nil {
			return status, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted probes the daemon and launches one when none is reachable.
func EnsureStarted(ctx context.Context, cfg *config.Config, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client := apiclient.New(cfg.Paths.APIBind, cfg.Paths.APIToken)
	if status, err := client.Health(ctx); err == nil {
		return StartResult{State: StartStateAlreadyRunning, PID: status.PID}, nil
	}

	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	status, err := WaitForHealthy(ctx, client, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{State: StartStateStarted, Launched: true, PID: status.PID}, nil
}

// Stop signals a running daemon to terminate and waits for its API to go
// away, escalating to SIGKILL after the grace period.
func Stop(ctx context.Context, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client := apiclient.New(cfg.Paths.APIBind, cfg.Paths.APIToken)
	status, err := client.Health(ctx)
	if err != nil {
		if errors.Is(err, apiclient.ErrUnreachable) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}

	pid := status.PID
	if pid <= 0 {
		pid, _ = readPIDFile(pidFilePath(cfg))
	}
	if pid <= 0 {
		return StopResult{}, fmt.Errorf("unable to determine daemon pid")
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to stop current process (pid %d)", pid)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return StopResult{}, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return StopResult{}, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}

	if waitForShutdown(ctx, client, gracePeriod) {
		return StopResult{PID: pid}, nil
	}

	if err := proc.Kill(); err != nil {
		return StopResult{PID: pid}, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	_ = os.Remove(pidFilePath(cfg))
	return StopResult{PID: pid, ForcedKill: true}, nil
}

// StatusSnapshot returns the daemon status when one is running, falling back
// to a store-direct health read when the API is unreachable.
func StatusSnapshot(ctx context.Context, cfg *config.Config) (*api.DaemonStatus, error) {
	client := apiclient.New(cfg.Paths.APIBind, cfg.Paths.APIToken)
	if status, err := client.Health(ctx); err == nil {
		return status, nil
	} else if !errors.Is(err, apiclient.ErrUnreachable) {
		return nil, err
	}

	status := &api.DaemonStatus{}
	store, err := docstore.Open(cfg)
	if err != nil {
		return status, nil
	}
	defer store.Close()
	health, err := store.Health(ctx)
	if err != nil {
		return status, nil
	}
	status.DatabasePath = store.Path()
	status.Store = api.FromHealthSummary(health)
	if stats, err := api.NewDocumentService(store).Stats(ctx); err == nil {
		status.Scheduler.DocumentStats = stats
	}
	return status, nil
}

func waitForShutdown(ctx context.Context, client *apiclient.Client, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := client.Health(ctx); errors.Is(err, apiclient.ErrUnreachable) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(200 * time.Millisecond):
		}
	}
	return false
}

func pidFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "docflow.pid")
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %q", path)
	}
	return pid, nil
}
