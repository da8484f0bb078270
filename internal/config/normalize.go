package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeServices()
	c.normalizeHITL()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.InboxDir, err = expandPath(c.Paths.InboxDir); err != nil {
		return fmt.Errorf("paths.inbox_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("DOCFLOW_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizePipeline() {
	c.Pipeline.Pattern = strings.ToLower(strings.TrimSpace(c.Pipeline.Pattern))
	if c.Pipeline.Pattern == "" {
		c.Pipeline.Pattern = defaultPattern
	}
	if c.Pipeline.ConcurrencyCeiling <= 0 {
		c.Pipeline.ConcurrencyCeiling = defaultConcurrencyCeiling
	}
	if c.Pipeline.SectionFanout <= 0 {
		c.Pipeline.SectionFanout = defaultSectionFanout
	}
	cleaned := make([]string, 0, len(c.Pipeline.Classes))
	for _, class := range c.Pipeline.Classes {
		if class = strings.TrimSpace(class); class != "" {
			cleaned = append(cleaned, class)
		}
	}
	c.Pipeline.Classes = cleaned
}

func (c *Config) normalizeServices() {
	normalizeService(&c.Services.OCR, "DOCFLOW_OCR_API_KEY")
	normalizeService(&c.Services.Inference, "DOCFLOW_INFERENCE_API_KEY")
	normalizeService(&c.Services.Jobs, "DOCFLOW_JOBS_API_KEY")
	normalizeService(&c.Services.Review, "DOCFLOW_REVIEW_API_KEY")
	normalizeService(&c.Services.Assessment, "DOCFLOW_ASSESSMENT_API_KEY")
}

func normalizeService(svc *Service, envKey string) {
	svc.BaseURL = strings.TrimSpace(svc.BaseURL)
	svc.APIKey = strings.TrimSpace(svc.APIKey)
	svc.Model = strings.TrimSpace(svc.Model)
	if svc.APIKey == "" {
		if value, ok := os.LookupEnv(envKey); ok {
			svc.APIKey = strings.TrimSpace(value)
		}
	}
	if svc.TimeoutSeconds <= 0 {
		svc.TimeoutSeconds = defaultServiceTimeout
	}
}

func (c *Config) normalizeHITL() {
	c.HITL.TimeoutPolicy = strings.ToLower(strings.TrimSpace(c.HITL.TimeoutPolicy))
	if c.HITL.TimeoutPolicy == "" {
		c.HITL.TimeoutPolicy = defaultHITLTimeoutPolicy
	}
	if c.HITL.ReviewTimeoutSeconds <= 0 {
		c.HITL.ReviewTimeoutSeconds = defaultReviewTimeout
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.WebhookURL = strings.TrimSpace(c.Notifications.WebhookURL)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = 10
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
