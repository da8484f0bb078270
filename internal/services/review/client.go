// Package review wraps the human-review task service. Creating a task routes
// low-confidence attributes to a reviewer; completion arrives through the
// daemon's review callback carrying the task's token.
package review

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
	stageName          = "review"
	defaultHTTPTimeout = 30 * time.Second
)

// TaskState is the lifecycle of a remote review task.
type TaskState string

const (
	TaskOpen      TaskState = "open"
	TaskInReview  TaskState = "in_review"
	TaskCompleted TaskState = "completed"
	TaskCancelled TaskState = "cancelled"
)

// Alert is one below-threshold attribute presented to the reviewer.
type Alert struct {
	Attribute  string  `json:"attribute"`
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
}

// TaskRequest describes one review task.
type TaskRequest struct {
	DocumentID string `json:"document_id"`
	SectionID  string `json:"section_id"`
	Class      string `json:"class,omitempty"`
	// Attributes is the model output the reviewer corrects.
	Attributes map[string]string `json:"attributes"`
	Alerts     []Alert           `json:"alerts"`
	// CallbackToken is echoed back in the completion callback.
	CallbackToken string `json:"callback_token"`
	CallbackURL   string `json:"callback_url,omitempty"`
}

// TaskStatus is a point-in-time view of a review task.
type TaskStatus struct {
	TaskID string    `json:"task_id"`
	State  TaskState `json:"state"`
	// CorrectedAttributes is populated once the reviewer completes the task.
	CorrectedAttributes map[string]string `json:"corrected_attributes,omitempty"`
}

// Done reports whether the task reached a terminal state.
func (s TaskStatus) Done() bool {
	return s.State == TaskCompleted || s.State == TaskCancelled
}

// Client calls the review task service.
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

// NewClient constructs a review client from service configuration.
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

// CreateTask opens a review task and returns its remote id.
func (c *Client) CreateTask(ctx context.Context, request TaskRequest) (string, error) {
	if strings.TrimSpace(request.SectionID) == "" {
		return "", services.Wrap(services.ErrValidation, stageName, "create task", "section id required", nil)
	}
	if strings.TrimSpace(request.CallbackToken) == "" {
		return "", services.Wrap(services.ErrValidation, stageName, "create task", "callback token required", nil)
	}

	body, err := c.do(ctx, http.MethodPost, "/v1/tasks", request)
	if err != nil {
		return "", err
	}
	var response struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "create task", "decode response", err)
	}
	if response.TaskID == "" {
		return "", services.Wrap(services.ErrTransient, stageName, "create task", "service returned no task id", nil)
	}
	return response.TaskID, nil
}

// Status polls the remote state of a review task.
func (c *Client) Status(ctx context.Context, taskID string) (TaskStatus, error) {
	var empty TaskStatus
	if strings.TrimSpace(taskID) == "" {
		return empty, services.Wrap(services.ErrValidation, stageName, "task status", "task id required", nil)
	}
	body, err := c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(taskID), nil)
	if err != nil {
		return empty, err
	}
	var status TaskStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return empty, services.Wrap(services.ErrTransient, stageName, "task status", "decode response", err)
	}
	if status.TaskID == "" {
		status.TaskID = taskID
	}
	return status, nil
}

// CancelTask withdraws a task whose section no longer needs review, as when
// the auto-complete timeout policy resolves it first.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	if strings.TrimSpace(taskID) == "" {
		return services.Wrap(services.ErrValidation, stageName, "cancel task", "task id required", nil)
	}
	_, err := c.do(ctx, http.MethodDelete, "/v1/tasks/"+url.PathEscape(taskID), nil)
	if errors.Is(err, services.ErrNotFound) {
		return nil
	}
	return err
}

// HealthCheck verifies the review endpoint responds.
func (c *Client) HealthCheck(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return errors.New("review health: base url not configured")
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/healthz")
	if err != nil {
		return fmt.Errorf("review health: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("review health: new request: %w", err)
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("review health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("review health: http %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return nil, services.Wrap(services.ErrValidation, stageName, "request", "service base url not configured", nil)
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "request", "build url", err)
	}

	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, stageName, "request", "encode body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "request", "new request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
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
