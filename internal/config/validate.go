package config

import (
	"errors"
	"fmt"
	"strings"
)

// KnownPatterns lists the extraction strategies a submission may select.
var KnownPatterns = []string{"managed", "composed", "custom"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateServices(); err != nil {
		return err
	}
	if err := c.validateHITL(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if !isKnownPattern(c.Pipeline.Pattern) {
		return fmt.Errorf("pipeline.pattern must be one of %v, got %q", KnownPatterns, c.Pipeline.Pattern)
	}
	if c.Pipeline.ConcurrencyCeiling < 1 {
		return errors.New("pipeline.concurrency_ceiling must be at least 1")
	}
	if c.Pipeline.SectionFanout < 1 {
		return errors.New("pipeline.section_fanout must be at least 1")
	}
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return errors.New("pipeline.confidence_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.InitialBackoffSeconds < 1 {
		return errors.New("retry.initial_backoff_seconds must be at least 1")
	}
	if c.Retry.MaxBackoffSeconds < c.Retry.InitialBackoffSeconds {
		return errors.New("retry.max_backoff_seconds must be >= retry.initial_backoff_seconds")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Retry.Factor < 1 {
		return errors.New("retry.factor must be at least 1")
	}
	return nil
}

func (c *Config) validateServices() error {
	if c.Pipeline.Pattern == "custom" && strings.TrimSpace(c.Services.Assessment.BaseURL) == "" {
		return errors.New("services.assessment.base_url is required when pipeline.pattern is \"custom\"")
	}
	return nil
}

func (c *Config) validateHITL() error {
	switch c.HITL.TimeoutPolicy {
	case "wait", "auto_complete":
		return nil
	default:
		return fmt.Errorf("hitl.timeout_policy must be \"wait\" or \"auto_complete\", got %q", c.HITL.TimeoutPolicy)
	}
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.QueuePollInterval < 1 {
		return errors.New("workflow.queue_poll_interval must be at least 1 second")
	}
	if c.Workflow.HeartbeatInterval < 1 {
		return errors.New("workflow.heartbeat_interval must be at least 1 second")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	if c.Workflow.StageTimeoutSeconds < 1 {
		return errors.New("workflow.stage_timeout_seconds must be at least 1 second")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	return nil
}

func isKnownPattern(pattern string) bool {
	for _, known := range KnownPatterns {
		if pattern == known {
			return true
		}
	}
	return false
}
