package preflight

import (
	"context"

	"docflow/internal/config"
	"docflow/internal/services/inference"
	"docflow/internal/services/jobs"
	"docflow/internal/services/ocr"
	"docflow/internal/services/review"
)

// minimumFreeBytes is the least free space the data filesystem may have
// before the daemon refuses to start. Result manifests are small; this
// guards against a full disk corrupting the SQLite WAL.
const minimumFreeBytes = 1 << 30

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Service checks are gated by the configured pattern: the assessment
// endpoint is only consulted by the custom pattern, and the review service
// only matters while the confidence threshold routes sections to humans.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDiskSpace("Data disk space", cfg.Paths.DataDir, minimumFreeBytes),
	}
	if cfg.Paths.InboxDir != "" {
		results = append(results, CheckDirectoryAccess("Inbox directory", cfg.Paths.InboxDir))
	}

	results = append(results,
		CheckService(ctx, "OCR service", cfg.Services.OCR.BaseURL, ocr.NewClient(cfg.Services.OCR).HealthCheck),
		CheckService(ctx, "Inference service", cfg.Services.Inference.BaseURL, inference.NewClient(cfg.Services.Inference).HealthCheck),
		CheckService(ctx, "Job service", cfg.Services.Jobs.BaseURL, jobs.NewClient(cfg.Services.Jobs).HealthCheck),
	)
	if cfg.Pipeline.ConfidenceThreshold > 0 {
		results = append(results, CheckService(ctx, "Review service", cfg.Services.Review.BaseURL, review.NewClient(cfg.Services.Review).HealthCheck))
	}
	if cfg.Pipeline.Pattern == "custom" {
		results = append(results, CheckService(ctx, "Assessment service", cfg.Services.Assessment.BaseURL, inference.NewClient(cfg.Services.Assessment).HealthCheck))
	}
	return results
}

// FirstFailure returns the first failed result, if any.
func FirstFailure(results []Result) (Result, bool) {
	for _, result := range results {
		if !result.Passed {
			return result, true
		}
	}
	return Result{}, false
}
