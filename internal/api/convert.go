package api

import (
	"sort"
	"time"

	"docflow/internal/docstore"
	"docflow/internal/scheduler"
	"docflow/internal/stage"
)

// FromDocument converts a document record to its API representation.
func FromDocument(doc *docstore.Document) Document {
	if doc == nil {
		return Document{}
	}
	dto := Document{
		ID:            doc.ID,
		InputLocation: doc.InputLocation,
		Pattern:       doc.Pattern,
		Status:        string(doc.Status),
		PageCount:     len(doc.Pages),
		SummaryRef:    doc.SummaryRef,
		EvaluationRef: doc.EvaluationRef,
		QueuedAt:      formatTime(doc.QueuedAt),
		UpdatedAt:     formatTime(doc.UpdatedAt),
	}
	if len(doc.Metering) > 0 {
		dto.Metering = map[string]int64(doc.Metering)
	}
	if cause, ok := doc.FirstDocumentError(); ok {
		dto.ErrorMessage = cause.Message
	}
	if doc.StartedAt != nil {
		dto.StartedAt = formatTime(*doc.StartedAt)
	}
	if doc.CompletedAt != nil {
		dto.CompletedAt = formatTime(*doc.CompletedAt)
	}
	return dto
}

// FromDocuments converts a slice of document records into API DTOs.
func FromDocuments(docs []*docstore.Document) []Document {
	if len(docs) == 0 {
		return nil
	}
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		out = append(out, FromDocument(doc))
	}
	return out
}

// FromSection converts a section record to its API representation.
func FromSection(section *docstore.Section) Section {
	if section == nil {
		return Section{}
	}
	dto := Section{
		ID:           section.ID,
		Class:        section.Class,
		PageIDs:      section.PageIDs,
		Status:       string(section.Status),
		ResultRef:    section.ExtractionResultRef,
		ErrorMessage: section.ErrorMessage,
	}
	if section.HITLStatus != "" && section.HITLStatus != docstore.HITLNone {
		dto.HITLStatus = string(section.HITLStatus)
	}
	if len(section.Attributes) > 0 {
		attrs := make(map[string]Attribute, len(section.Attributes))
		for name, attr := range section.Attributes {
			attrs[name] = Attribute{Value: attr.Value, Confidence: attr.Confidence}
		}
		dto.Attributes = attrs
	}
	for _, alert := range section.ConfidenceAlerts {
		dto.Alerts = append(dto.Alerts, ConfidenceAlert{
			Attribute:  alert.Attribute,
			Confidence: alert.Confidence,
			Threshold:  alert.Threshold,
		})
	}
	return dto
}

// FromSections converts a slice of section records into API DTOs.
func FromSections(sections []*docstore.Section) []Section {
	if len(sections) == 0 {
		return nil
	}
	out := make([]Section, 0, len(sections))
	for _, section := range sections {
		out = append(out, FromSection(section))
	}
	return out
}

// FromStageErrors converts a document's error history.
func FromStageErrors(errs []docstore.StageError) []StageError {
	if len(errs) == 0 {
		return nil
	}
	out := make([]StageError, 0, len(errs))
	for _, entry := range errs {
		out = append(out, StageError{
			Stage:     entry.Stage,
			SectionID: entry.SectionID,
			Message:   entry.Message,
			At:        formatTime(entry.At),
		})
	}
	return out
}

// FromStatusSummary converts the scheduler status into its API shape.
func FromStatusSummary(summary scheduler.StatusSummary) SchedulerStatus {
	status := SchedulerStatus{
		Running:          summary.Running,
		LastError:        summary.LastError,
		DocumentStats:    mergeStats(summary.DocumentStats),
		StageHealth:      StageHealthSlice(summary.StageHealth),
		AdmissionActive:  summary.AdmissionActive,
		AdmissionCeiling: summary.AdmissionCeiling,
	}
	if summary.LastDocument != nil {
		doc := FromDocument(summary.LastDocument)
		status.LastDocument = &doc
	}
	return status
}

// FromHealthSummary converts store diagnostics into their API shape.
func FromHealthSummary(health docstore.HealthSummary) StoreHealth {
	return StoreHealth{
		Total:      health.Total,
		Queued:     health.Queued,
		Processing: health.Processing,
		Suspended:  health.Suspended,
		Failed:     health.Failed,
		Completed:  health.Completed,
	}
}

// StageHealthSlice flattens the stage health map into deterministic order.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		entry := health[name]
		out = append(out, StageHealth{Name: name, Ready: entry.Ready, Detail: entry.Detail})
	}
	return out
}

func mergeStats(stats map[docstore.Status]int) map[string]int {
	merged := make(map[string]int, len(stats))
	for status, count := range stats {
		merged[string(status)] = count
	}
	return merged
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(dateTimeFormat)
}
