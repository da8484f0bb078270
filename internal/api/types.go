package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Document describes one document in a transport-friendly format.
type Document struct {
	ID            string           `json:"document_id"`
	InputLocation string           `json:"input_location"`
	Pattern       string           `json:"pattern"`
	Status        string           `json:"status"`
	PageCount     int              `json:"page_count"`
	SummaryRef    string           `json:"summary_ref,omitempty"`
	EvaluationRef string           `json:"evaluation_ref,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	Metering      map[string]int64 `json:"usage,omitempty"`
	QueuedAt      string           `json:"queued_at,omitempty"`
	StartedAt     string           `json:"started_at,omitempty"`
	CompletedAt   string           `json:"completed_at,omitempty"`
	UpdatedAt     string           `json:"updated_at,omitempty"`
}

// Section describes one classified section of a document.
type Section struct {
	ID           string               `json:"section_id"`
	Class        string               `json:"class"`
	PageIDs      []string             `json:"page_ids,omitempty"`
	Status       string               `json:"status"`
	ResultRef    string               `json:"result_ref,omitempty"`
	Attributes   map[string]Attribute `json:"attributes,omitempty"`
	Alerts       []ConfidenceAlert    `json:"confidence_alerts,omitempty"`
	HITLStatus   string               `json:"hitl_status,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
}

// Attribute is one extracted key/value with its assessed confidence.
type Attribute struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ConfidenceAlert records an attribute that fell below the review threshold.
type ConfidenceAlert struct {
	Attribute  string  `json:"attribute"`
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
}

// StageError is one stage-tagged failure recorded on a document.
type StageError struct {
	Stage     string `json:"stage"`
	SectionID string `json:"section_id,omitempty"`
	Message   string `json:"message"`
	At        string `json:"at,omitempty"`
}

// DocumentDetail is a document with its sections and error history.
type DocumentDetail struct {
	Document
	Sections []Section    `json:"sections,omitempty"`
	Errors   []StageError `json:"errors,omitempty"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// SchedulerStatus summarizes scheduler execution state.
type SchedulerStatus struct {
	Running          bool           `json:"running"`
	DocumentStats    map[string]int `json:"document_stats"`
	LastError        string         `json:"last_error,omitempty"`
	LastDocument     *Document      `json:"last_document,omitempty"`
	StageHealth      []StageHealth  `json:"stage_health"`
	AdmissionActive  int            `json:"admission_active"`
	AdmissionCeiling int            `json:"admission_ceiling"`
}

// StoreHealth aggregates document counts for diagnostics.
type StoreHealth struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Suspended  int `json:"suspended"`
	Failed     int `json:"failed"`
	Completed  int `json:"completed"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool            `json:"running"`
	PID          int             `json:"pid"`
	DatabasePath string          `json:"database_path"`
	LockFilePath string          `json:"lock_file_path"`
	Scheduler    SchedulerStatus `json:"scheduler"`
	Store        StoreHealth     `json:"store"`
}

// SubmitRequest enqueues a new document.
type SubmitRequest struct {
	DocumentID    string `json:"document_id,omitempty"`
	InputLocation string `json:"input_location"`
	Pattern       string `json:"pattern,omitempty"`
}

// JobCallbackRequest is the terminal report an extraction-job service posts.
type JobCallbackRequest struct {
	Token       string           `json:"token"`
	State       string           `json:"state"`
	ResultRef   string           `json:"result_ref,omitempty"`
	ErrorDetail string           `json:"error_detail,omitempty"`
	Metering    map[string]int64 `json:"usage,omitempty"`
}

// ReviewCallbackRequest carries reviewer corrections for a review token.
type ReviewCallbackRequest struct {
	Token               string            `json:"token"`
	CorrectedAttributes map[string]string `json:"corrected_attributes,omitempty"`
}

// DocumentListResponse wraps a collection of documents.
type DocumentListResponse struct {
	Documents []Document `json:"documents"`
}

// DocumentResponse wraps a single document with detail.
type DocumentResponse struct {
	Document DocumentDetail `json:"document"`
}

// CountResponse reports how many documents an operation touched.
type CountResponse struct {
	Affected int64 `json:"affected"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
