package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	InboxDir string `toml:"inbox_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Pipeline contains the orchestration knobs shared by every document.
type Pipeline struct {
	// Pattern selects the extraction strategy applied to submitted documents:
	// "managed", "composed", or "custom".
	Pattern string `toml:"pattern"`
	// ConcurrencyCeiling bounds how many documents may execute concurrently.
	ConcurrencyCeiling int `toml:"concurrency_ceiling"`
	// SectionFanout bounds how many sections of one document run in parallel.
	SectionFanout int `toml:"section_fanout"`
	// ConfidenceThreshold is the default assessment threshold below which a
	// section attribute is routed to human review.
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	// EvaluationEnabled toggles the optional evaluation stage.
	EvaluationEnabled bool `toml:"evaluation_enabled"`
	// Classes optionally restricts classification to a known taxonomy.
	Classes []string `toml:"classes"`
}

// Retry contains the backoff policy applied to transient external failures.
type Retry struct {
	InitialBackoffSeconds int     `toml:"initial_backoff_seconds"`
	MaxBackoffSeconds     int     `toml:"max_backoff_seconds"`
	MaxAttempts           int     `toml:"max_attempts"`
	Factor                float64 `toml:"factor"`
}

// Service contains connection settings for one external collaborator.
type Service struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Services groups the external collaborators the pipeline calls. Assessment
// is only consulted by the custom pattern; the other patterns assess through
// the inference service.
type Services struct {
	OCR        Service `toml:"ocr"`
	Inference  Service `toml:"inference"`
	Jobs       Service `toml:"jobs"`
	Review     Service `toml:"review"`
	Assessment Service `toml:"assessment"`
}

// HITL contains configuration for human-in-the-loop review.
type HITL struct {
	// TimeoutPolicy decides what happens when a reviewer never responds:
	// "wait" keeps the section pending until the stage budget expires,
	// "auto_complete" accepts the model output after ReviewTimeoutSeconds.
	TimeoutPolicy        string `toml:"timeout_policy"`
	ReviewTimeoutSeconds int    `toml:"review_timeout_seconds"`
}

// Notifications contains configuration for status publishing.
type Notifications struct {
	WebhookURL     string `toml:"webhook_url"`
	RequestTimeout int    `toml:"request_timeout"`
	StatusChanges  bool   `toml:"status_changes"`
	Errors         bool   `toml:"errors"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	QueuePollInterval   int `toml:"queue_poll_interval"`
	ErrorRetryInterval  int `toml:"error_retry_interval"`
	HeartbeatInterval   int `toml:"heartbeat_interval"`
	HeartbeatTimeout    int `toml:"heartbeat_timeout"`
	StageTimeoutSeconds int `toml:"stage_timeout_seconds"`
	ReconcileAfter      int `toml:"reconcile_after_seconds"`
	SweepInterval       int `toml:"sweep_interval_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for docflow.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Pipeline: pattern selection, admission ceiling, fan-out, thresholds
//   - Retry: backoff policy for transient external failures
//   - Services: OCR, inference, async job, and review endpoints
//   - HITL: review timeout policy
//   - Notifications: status publish webhook
//   - Workflow: daemon polling intervals and timeouts
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Retry         Retry         `toml:"retry"`
	Services      Services      `toml:"services"`
	HITL          HITL          `toml:"hitl"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/docflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("docflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.InboxDir) != "" {
		// Best-effort so the daemon can run when ingest storage is offline.
		_ = os.MkdirAll(c.Paths.InboxDir, 0o755)
	}
	return nil
}

// WriteSample writes the embedded sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
