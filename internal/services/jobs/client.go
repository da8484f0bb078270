// Package jobs wraps the asynchronous extraction-job service. Submission
// returns a job id and the service reports completion through the daemon's
// callback endpoint; Status exists for the reconciliation sweep, which polls
// jobs whose callback never arrived.
package jobs

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

const (
	stageName          = "extract"
	defaultHTTPTimeout = 30 * time.Second
)

// State is the lifecycle of a remote extraction job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// SubmitRequest describes one extraction job.
type SubmitRequest struct {
	DocumentID string `json:"document_id"`
	SectionID  string `json:"section_id,omitempty"`
	Class      string `json:"class,omitempty"`
	// PageRefs are text artifact references for the pages in scope.
	PageRefs []string `json:"page_refs"`
	// Mode selects the remote behavior: "extract" for one section, or
	// "classify_extract" for a managed end-to-end run over the whole document.
	Mode string `json:"mode"`
	// CallbackToken is echoed back in the completion callback.
	CallbackToken string `json:"callback_token"`
	CallbackURL   string `json:"callback_url,omitempty"`
}

// Status is a point-in-time view of a remote job.
type Status struct {
	JobID       string           `json:"job_id"`
	State       State            `json:"state"`
	ResultRef   string           `json:"result_ref,omitempty"`
	ErrorDetail string           `json:"error_detail,omitempty"`
	Metering    map[string]int64 `json:"usage,omitempty"`
}

// Done reports whether the job reached a terminal state.
func (s Status) Done() bool {
	return s.State == StateSucceeded || s.State == StateFailed
}

// Client calls the extraction-job service.
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

// NewClient constructs a job client from service configuration.
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

// Submit enqueues an extraction job and returns its remote id.
func (c *Client) Submit(ctx context.Context, request SubmitRequest) (string, error) {
	if strings.TrimSpace(request.CallbackToken) == "" {
		return "", services.Wrap(services.ErrValidation, stageName, "submit job", "callback token required", nil)
	}
	if request.Mode == "" {
		request.Mode = "extract"
	}

	body, err := c.post(ctx, "/v1/jobs", request)
	if err != nil {
		return "", err
	}
	var response struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "submit job", "decode response", err)
	}
	if response.JobID == "" {
		return "", services.Wrap(services.ErrTransient, stageName, "submit job", "service returned no job id", nil)
	}
	return response.JobID, nil
}

// Status polls the remote state of a job.
func (c *Client) Status(ctx context.Context, jobID string) (Status, error) {
	var empty Status
	if strings.TrimSpace(jobID) == "" {
		return empty, services.Wrap(services.ErrValidation, stageName, "job status", "job id required", nil)
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/v1/jobs", jobID)
	if err != nil {
		return empty, services.Wrap(services.ErrValidation, stageName, "job status", "build url", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return empty, services.Wrap(services.ErrValidation, stageName, "job status", "new request", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return empty, services.Wrap(services.TransportMarker(err), stageName, "job status", "http error", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty, services.Wrap(services.ErrTransient, stageName, "job status", "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return empty, services.Wrap(
			services.StatusMarker(resp.StatusCode), stageName, "job status",
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var status Status
	if err := json.Unmarshal(body, &status); err != nil {
		return empty, services.Wrap(services.ErrTransient, stageName, "job status", "decode response", err)
	}
	if status.JobID == "" {
		status.JobID = jobID
	}
	return status, nil
}

// HealthCheck verifies the job service endpoint responds.
func (c *Client) HealthCheck(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return errors.New("jobs health: base url not configured")
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/healthz")
	if err != nil {
		return fmt.Errorf("jobs health: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("jobs health: new request: %w", err)
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jobs health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("jobs health: http %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return nil, services.Wrap(services.ErrValidation, stageName, "request", "service base url not configured", nil)
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "request", "build url", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "request", "encode body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "request", "new request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.TransportMarker(err), stageName, "request", "http error", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, stageName, "request", "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, services.Wrap(
			services.StatusMarker(resp.StatusCode), stageName, "request",
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	return body, nil
}

func (c *Client) authorize(req *http.Request) {
	if key := strings.TrimSpace(c.cfg.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}
