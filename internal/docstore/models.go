package docstore

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a document moving through the pipeline.
type Status string

const (
	StatusQueued        Status = "queued"
	StatusAdmitted      Status = "admitted"
	StatusOCR           Status = "ocr"
	StatusOCRDone       Status = "ocr_done"
	StatusClassifying   Status = "classifying"
	StatusClassified    Status = "classified"
	StatusExtracting    Status = "extracting"
	StatusAwaitingJobs  Status = "awaiting_jobs"
	StatusHITLWait      Status = "hitl_wait"
	StatusExtracted     Status = "extracted"
	StatusSummarizing   Status = "summarizing"
	StatusSummarized    Status = "summarized"
	StatusEvaluating    Status = "evaluating"
	StatusEvaluated     Status = "evaluated"
	StatusFinalizing    Status = "finalizing"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// DaemonStopReason is the error message set when documents are failed due to daemon shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusQueued,
	StatusAdmitted,
	StatusOCR,
	StatusOCRDone,
	StatusClassifying,
	StatusClassified,
	StatusExtracting,
	StatusAwaitingJobs,
	StatusHITLWait,
	StatusExtracted,
	StatusSummarizing,
	StatusSummarized,
	StatusEvaluating,
	StatusEvaluated,
	StatusFinalizing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusOCR:         {},
	StatusClassifying: {},
	StatusExtracting:  {},
	StatusSummarizing: {},
	StatusEvaluating:  {},
	StatusFinalizing:  {},
}

// suspendedStatuses hold no worker; progress is event-driven.
var suspendedStatuses = map[Status]struct{}{
	StatusAwaitingJobs: {},
	StatusHITLWait:     {},
}

type statusTransition struct {
	from Status
	to   Status
}

// stageRollbackTransitions return an interrupted processing status to the
// durable snapshot the stage restarts from.
var stageRollbackTransitions = []statusTransition{
	{from: StatusOCR, to: StatusAdmitted},
	{from: StatusClassifying, to: StatusOCRDone},
	{from: StatusExtracting, to: StatusClassified},
	{from: StatusSummarizing, to: StatusExtracted},
	{from: StatusEvaluating, to: StatusSummarized},
	{from: StatusFinalizing, to: StatusEvaluated},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessingStatus reports whether a status reflects an in-flight operation.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsSuspendedStatus reports whether a status waits on an external event.
func IsSuspendedStatus(status Status) bool {
	_, ok := suspendedStatuses[status]
	return ok
}

// IsTerminalStatus reports whether a status ends the document lifecycle.
func IsTerminalStatus(status Status) bool {
	return status == StatusCompleted || status == StatusFailed
}

// SectionStatus represents the lifecycle of one section within a document.
type SectionStatus string

const (
	SectionPending    SectionStatus = "pending"
	SectionExtracting SectionStatus = "extracting"
	SectionAssessing  SectionStatus = "assessing"
	SectionReview     SectionStatus = "review"
	SectionComplete   SectionStatus = "complete"
	SectionFailed     SectionStatus = "failed"
)

// IsTerminal reports whether a section has reached its final per-section state.
func (s SectionStatus) IsTerminal() bool {
	return s == SectionComplete || s == SectionFailed
}

// HITLStatus tracks human review progress for one section. It only moves
// forward: none -> pending -> in_review -> complete (in_review may be skipped).
type HITLStatus string

const (
	HITLNone     HITLStatus = "none"
	HITLPending  HITLStatus = "pending"
	HITLInReview HITLStatus = "in_review"
	HITLComplete HITLStatus = "complete"
)

var hitlOrder = map[HITLStatus]int{
	HITLNone:     0,
	HITLPending:  1,
	HITLInReview: 2,
	HITLComplete: 3,
}

// CanTransition reports whether moving from s to next respects the forward-only rule.
func (s HITLStatus) CanTransition(next HITLStatus) bool {
	cur, ok := hitlOrder[s]
	if !ok {
		return false
	}
	target, ok := hitlOrder[next]
	if !ok {
		return false
	}
	return target > cur
}

// Page is one page of a document. Content lives in external artifact storage;
// only content-addressed references are kept here so documents stay bounded.
type Page struct {
	ID       string `json:"id"`
	Class    string `json:"class,omitempty"`
	ImageRef string `json:"image_ref,omitempty"`
	TextRef  string `json:"text_ref,omitempty"`
}

// StageError is one stage-tagged failure accumulated on a document.
type StageError struct {
	Stage     string    `json:"stage"`
	SectionID string    `json:"section_id,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// ConfidenceAlert records an attribute whose assessed confidence fell below
// its configured threshold.
type ConfidenceAlert struct {
	Attribute  string  `json:"attribute"`
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
}

// Attribute is one extracted key/value with its assessed confidence.
type Attribute struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Metering accumulates usage counters per external call, additive only.
type Metering map[string]int64

// Add merges increments into the metering map.
func (m Metering) Add(other Metering) {
	for key, value := range other {
		m[key] += value
	}
}

// Document is the durable record of one submission's processing state.
type Document struct {
	ID            string
	InputLocation string
	Pattern       string
	Status        Status
	Pages         []Page
	Errors        []StageError
	Metering      Metering
	SummaryRef    string
	EvaluationRef string
	QueuedAt      time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time
	LastHeartbeat *time.Time
	Version       int64
}

// IsProcessing returns true when the document status reflects an in-flight stage.
func (d Document) IsProcessing() bool {
	return IsProcessingStatus(d.Status)
}

// IsTerminal returns true when the document reached a final state.
func (d Document) IsTerminal() bool {
	return IsTerminalStatus(d.Status)
}

// RecordError appends a stage-tagged error to the document.
func (d *Document) RecordError(stage, sectionID, message string) {
	d.Errors = append(d.Errors, StageError{
		Stage:     stage,
		SectionID: sectionID,
		Message:   message,
		At:        time.Now().UTC(),
	})
}

// FirstDocumentError returns the first error without a section tag, which is
// the document-fatal cause for a failed document.
func (d Document) FirstDocumentError() (StageError, bool) {
	for _, entry := range d.Errors {
		if entry.SectionID == "" {
			return entry, true
		}
	}
	return StageError{}, false
}

// SetFailed marks the document as failed with the given error message.
func (d *Document) SetFailed(stage, message string) {
	d.Status = StatusFailed
	d.LastHeartbeat = nil
	now := time.Now().UTC()
	d.CompletedAt = &now
	d.RecordError(stage, "", message)
}

// Section is a contiguous group of pages sharing one document class,
// extracted and assessed as a unit.
type Section struct {
	ID                  string
	DocumentID          string
	Class               string
	PageIDs             []string
	Status              SectionStatus
	ExtractionResultRef string
	Attributes          map[string]Attribute
	ConfidenceAlerts    []ConfidenceAlert
	HITLStatus          HITLStatus
	ErrorMessage        string
	UpdatedAt           time.Time
	Version             int64
}

// NeedsReview reports whether assessment flagged this section for human review.
func (s Section) NeedsReview() bool {
	return len(s.ConfidenceAlerts) > 0 && s.HITLStatus != HITLComplete
}

// Execution correlates one non-terminal document with its scheduler state.
type Execution struct {
	ID           string
	DocumentID   string
	Stage        string
	PendingToken string
	RetryState   map[string]StageRetryState
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Version      int64
}

// StageRetryState tracks retry accounting for one stage of one execution.
type StageRetryState struct {
	Attempts     int       `json:"attempts"`
	NextEligible time.Time `json:"next_eligible"`
}

// HealthSummary describes aggregated document counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Suspended  int
	Failed     int
	Completed  int
}
