// Package results is the finalization stage: it assembles the manifest for a
// finished document and writes it under the data directory, which is the
// pipeline's delivery point.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"docflow/internal/docstore"
	"docflow/internal/logging"
	"docflow/internal/services"
	"docflow/internal/stage"
)

const stageName = "finalize"

// Manifest is the delivered record of one processed document.
type Manifest struct {
	DocumentID    string             `json:"document_id"`
	InputLocation string             `json:"input_location"`
	Pattern       string             `json:"pattern"`
	Pages         []docstore.Page    `json:"pages"`
	Sections      []SectionResult    `json:"sections"`
	SummaryRef    string             `json:"summary_ref,omitempty"`
	EvaluationRef string             `json:"evaluation_ref,omitempty"`
	Metering      docstore.Metering  `json:"usage,omitempty"`
	Errors        []docstore.StageError `json:"errors,omitempty"`
	QueuedAt      time.Time          `json:"queued_at"`
	CompletedAt   time.Time          `json:"completed_at"`
}

// SectionResult is one section's contribution to the manifest.
type SectionResult struct {
	SectionID           string                        `json:"section_id"`
	Class               string                        `json:"class"`
	PageIDs             []string                      `json:"page_ids"`
	Status              docstore.SectionStatus        `json:"status"`
	ExtractionResultRef string                        `json:"extraction_result_ref,omitempty"`
	Attributes          map[string]docstore.Attribute `json:"attributes,omitempty"`
	Reviewed            bool                          `json:"reviewed,omitempty"`
	ErrorMessage        string                        `json:"error,omitempty"`
}

// Handler writes the final manifest.
type Handler struct {
	store   *docstore.Store
	dataDir string
	logger  *slog.Logger
}

// NewHandler constructs the finalization stage.
func NewHandler(store *docstore.Store, dataDir string, logger *slog.Logger) *Handler {
	return &Handler{
		store:   store,
		dataDir: dataDir,
		logger:  logging.NewComponentLogger(logger, stageName),
	}
}

func (h *Handler) Prepare(ctx context.Context, doc *docstore.Document) error {
	if h.dataDir == "" {
		return services.Wrap(
			services.ErrValidation, stageName, "validate inputs",
			"No data directory configured for result delivery", nil)
	}
	return nil
}

func (h *Handler) Execute(ctx context.Context, doc *docstore.Document) (stage.Result, error) {
	logger := logging.WithContext(ctx, h.logger)

	sections, err := h.store.SectionsForDocument(ctx, doc.ID)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrInfrastructure, stageName, "load sections", "", err)
	}

	now := time.Now().UTC()
	manifest := Manifest{
		DocumentID:    doc.ID,
		InputLocation: doc.InputLocation,
		Pattern:       doc.Pattern,
		Pages:         doc.Pages,
		Sections:      make([]SectionResult, 0, len(sections)),
		SummaryRef:    doc.SummaryRef,
		EvaluationRef: doc.EvaluationRef,
		Metering:      doc.Metering,
		Errors:        doc.Errors,
		QueuedAt:      doc.QueuedAt,
		CompletedAt:   now,
	}
	for _, section := range sections {
		manifest.Sections = append(manifest.Sections, SectionResult{
			SectionID:           section.ID,
			Class:               section.Class,
			PageIDs:             section.PageIDs,
			Status:              section.Status,
			ExtractionResultRef: section.ExtractionResultRef,
			Attributes:          section.Attributes,
			Reviewed:            section.HITLStatus == docstore.HITLComplete,
			ErrorMessage:        section.ErrorMessage,
		})
	}

	path, err := h.writeManifest(manifest)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrInfrastructure, stageName, "write manifest", "", err)
	}
	doc.CompletedAt = &now

	logger.Info("manifest delivered",
		logging.String("path", path),
		logging.Int("sections", len(manifest.Sections)))
	return stage.Continue(), nil
}

// writeManifest writes atomically: temp file in the target directory, then
// rename, so readers never observe a partial manifest.
func (h *Handler) writeManifest(manifest Manifest) (string, error) {
	dir := filepath.Join(h.dataDir, "results")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create results directory: %w", err)
	}

	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}

	path := filepath.Join(dir, manifest.DocumentID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("publish manifest: %w", err)
	}
	return path, nil
}

func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if h.dataDir == "" {
		return stage.Unhealthy(stageName, "data directory not configured")
	}
	return stage.Healthy(stageName)
}
