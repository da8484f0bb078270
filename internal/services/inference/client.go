// Package inference wraps the model-inference service used for synchronous
// pipeline work: page classification, attribute confidence assessment,
// summarization, and evaluation. Each call names the configured model and
// returns usage counters for metering.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docflow/internal/config"
	"docflow/internal/services"
)

const defaultHTTPTimeout = 60 * time.Second

// PageInput references one page's recognized text for a classification call.
type PageInput struct {
	ID      string `json:"id"`
	TextRef string `json:"text_ref"`
}

// ClassifyRequest asks the model to label pages and group them into sections.
type ClassifyRequest struct {
	DocumentID string      `json:"document_id"`
	Pages      []PageInput `json:"pages"`
	// Classes optionally restricts the answer to a known taxonomy.
	Classes []string `json:"classes,omitempty"`
}

// SectionSpan is one contiguous run of same-class pages.
type SectionSpan struct {
	Class   string   `json:"class"`
	PageIDs []string `json:"page_ids"`
}

// ClassifyResult carries per-page labels plus the section split.
type ClassifyResult struct {
	PageClasses map[string]string `json:"page_classes"`
	Sections    []SectionSpan     `json:"sections"`
	Metering    map[string]int64  `json:"usage"`
}

// AssessRequest asks the model to score extracted attributes.
type AssessRequest struct {
	DocumentID string            `json:"document_id"`
	SectionID  string            `json:"section_id"`
	Class      string            `json:"class"`
	ResultRef  string            `json:"extraction_result_ref"`
	Attributes map[string]string `json:"attributes"`
}

// ScoredAttribute is one attribute value with its assessed confidence.
type ScoredAttribute struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// AssessResult carries per-attribute confidences.
type AssessResult struct {
	Attributes map[string]ScoredAttribute `json:"attributes"`
	Metering   map[string]int64           `json:"usage"`
}

// SummarizeRequest asks for a document-level summary over section results.
type SummarizeRequest struct {
	DocumentID string   `json:"document_id"`
	ResultRefs []string `json:"result_refs"`
}

// SummarizeResult references the produced summary artifact.
type SummarizeResult struct {
	SummaryRef string           `json:"summary_ref"`
	Metering   map[string]int64 `json:"usage"`
}

// EvaluateRequest asks for a quality evaluation of the full pipeline output.
type EvaluateRequest struct {
	DocumentID string   `json:"document_id"`
	SummaryRef string   `json:"summary_ref"`
	ResultRefs []string `json:"result_refs"`
}

// EvaluateResult references the evaluation artifact and its aggregate score.
type EvaluateResult struct {
	EvaluationRef string           `json:"evaluation_ref"`
	Score         float64          `json:"score"`
	Metering      map[string]int64 `json:"usage"`
}

// Client calls the inference service.
type Client struct {
	cfg        config.Service
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs an inference client from service configuration.
func NewClient(cfg config.Service, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Classify labels pages and derives the section split.
func (c *Client) Classify(ctx context.Context, request ClassifyRequest) (ClassifyResult, error) {
	var result ClassifyResult
	if len(request.Pages) == 0 {
		return result, services.Wrap(services.ErrValidation, "classify", "request", "pages required", nil)
	}
	if err := c.call(ctx, "classify", "/v1/classify", request, &result); err != nil {
		return ClassifyResult{}, err
	}
	if len(result.Sections) == 0 {
		return ClassifyResult{}, services.Wrap(services.ErrTransient, "classify", "response", "service returned no sections", nil)
	}
	return result, nil
}

// Assess scores extracted attribute values.
func (c *Client) Assess(ctx context.Context, request AssessRequest) (AssessResult, error) {
	var result AssessResult
	if request.ResultRef == "" && len(request.Attributes) == 0 {
		return result, services.Wrap(services.ErrValidation, "assess", "request", "extraction result required", nil)
	}
	if err := c.call(ctx, "assess", "/v1/assess", request, &result); err != nil {
		return AssessResult{}, err
	}
	for name, attr := range result.Attributes {
		attr.Confidence = clampConfidence(attr.Confidence)
		result.Attributes[name] = attr
	}
	return result, nil
}

// Summarize produces the document-level summary artifact.
func (c *Client) Summarize(ctx context.Context, request SummarizeRequest) (SummarizeResult, error) {
	var result SummarizeResult
	if err := c.call(ctx, "summarize", "/v1/summarize", request, &result); err != nil {
		return SummarizeResult{}, err
	}
	if result.SummaryRef == "" {
		return SummarizeResult{}, services.Wrap(services.ErrTransient, "summarize", "response", "service returned no summary ref", nil)
	}
	return result, nil
}

// Evaluate scores the full pipeline output.
func (c *Client) Evaluate(ctx context.Context, request EvaluateRequest) (EvaluateResult, error) {
	var result EvaluateResult
	if err := c.call(ctx, "evaluate", "/v1/evaluate", request, &result); err != nil {
		return EvaluateResult{}, err
	}
	if result.EvaluationRef == "" {
		return EvaluateResult{}, services.Wrap(services.ErrTransient, "evaluate", "response", "service returned no evaluation ref", nil)
	}
	return result, nil
}

// HealthCheck verifies the inference endpoint responds.
func (c *Client) HealthCheck(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return errors.New("inference health: base url not configured")
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/healthz")
	if err != nil {
		return fmt.Errorf("inference health: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("inference health: new request: %w", err)
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("inference health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("inference health: http %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) call(ctx context.Context, stage, path string, request, result any) error {
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return services.Wrap(services.ErrValidation, stage, "request", "service base url not configured", nil)
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return services.Wrap(services.ErrValidation, stage, "request", "build url", err)
	}

	envelope := struct {
		Model   string `json:"model,omitempty"`
		Request any    `json:"request"`
	}{Model: c.cfg.Model, Request: request}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return services.Wrap(services.ErrValidation, stage, "request", "encode body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return services.Wrap(services.ErrValidation, stage, "request", "new request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.TransportMarker(err), stage, "request", "http error", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return services.Wrap(services.ErrTransient, stage, "request", "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.Wrap(
			services.StatusMarker(resp.StatusCode), stage, "request",
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	if err := json.Unmarshal(body, result); err != nil {
		return services.Wrap(services.ErrTransient, stage, "response", "decode response", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if key := strings.TrimSpace(c.cfg.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}

func clampConfidence(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
