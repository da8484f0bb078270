package testsupport

import (
	"path/filepath"
	"testing"

	"docflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.InboxDir = filepath.Join(base, "inbox")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithCeiling sets the admission concurrency ceiling on the test config.
func WithCeiling(ceiling int) ConfigOption {
	return func(c *config.Config) {
		c.Pipeline.ConcurrencyCeiling = ceiling
	}
}

// WithFanout sets the per-document section fan-out on the test config.
func WithFanout(fanout int) ConfigOption {
	return func(c *config.Config) {
		c.Pipeline.SectionFanout = fanout
	}
}

// WithPattern sets the default extraction pattern on the test config.
func WithPattern(pattern string) ConfigOption {
	return func(c *config.Config) {
		c.Pipeline.Pattern = pattern
	}
}

// WithConfidenceThreshold sets the review threshold on the test config.
func WithConfidenceThreshold(threshold float64) ConfigOption {
	return func(c *config.Config) {
		c.Pipeline.ConfidenceThreshold = threshold
	}
}

// WithSweepInterval sets the supervisory sweep cadence on the test config.
func WithSweepInterval(seconds int) ConfigOption {
	return func(c *config.Config) {
		c.Workflow.SweepInterval = seconds
	}
}

// WithStageTimeout sets the per-stage wall-clock budget on the test config.
func WithStageTimeout(seconds int) ConfigOption {
	return func(c *config.Config) {
		c.Workflow.StageTimeoutSeconds = seconds
	}
}
