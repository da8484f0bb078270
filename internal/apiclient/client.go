// Package apiclient is the HTTP client the CLI uses to talk to a running
// docflow daemon. Dial failures are classified as ErrUnreachable so callers
// can fall back to store-direct reads when no daemon is up.
package apiclient

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

	"docflow/internal/api"
)

// ErrUnreachable indicates no daemon answered on the configured bind address.
var ErrUnreachable = errors.New("daemon unreachable")

// Client issues requests against the daemon API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New constructs a client for the daemon listening on bind (host:port).
func New(bind, token string) *Client {
	return &Client{
		baseURL: "http://" + strings.TrimSpace(bind),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Health returns the daemon status snapshot.
func (c *Client) Health(ctx context.Context) (*api.DaemonStatus, error) {
	var status api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListDocuments returns documents, optionally filtered by status.
func (c *Client) ListDocuments(ctx context.Context, statuses ...string) ([]api.Document, error) {
	path := "/api/v1/documents"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", status)
		}
		path += "?" + values.Encode()
	}
	var resp api.DocumentListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

// GetDocument returns one document with sections, or nil when unknown.
func (c *Client) GetDocument(ctx context.Context, id string) (*api.DocumentDetail, error) {
	var resp api.DocumentResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/documents/"+url.PathEscape(id), nil, &resp)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &resp.Document, nil
}

// Submit enqueues a new document.
func (c *Client) Submit(ctx context.Context, req api.SubmitRequest) (*api.DocumentDetail, error) {
	var resp api.DocumentResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/documents", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Document, nil
}

// Retry moves one failed document back to queued.
func (c *Client) Retry(ctx context.Context, id string) (int64, error) {
	var resp api.CountResponse
	path := "/api/v1/documents/" + url.PathEscape(id) + "/retry"
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Affected, nil
}

// RetryAll moves every failed document back to queued.
func (c *Client) RetryAll(ctx context.Context) (int64, error) {
	var resp api.CountResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/documents/retry", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Affected, nil
}

// Clear removes documents in the given scope: completed, failed, or all.
func (c *Client) Clear(ctx context.Context, scope string) (int64, error) {
	var resp api.CountResponse
	path := "/api/v1/documents/clear?scope=" + url.QueryEscape(scope)
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Affected, nil
}

// StatusError is a non-2xx daemon response with its decoded message.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("daemon returned status %d", e.Code)
	}
	return e.Message
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := ""
		var errResp api.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil {
			message = errResp.Error
		}
		return &StatusError{Code: resp.StatusCode, Message: message}
	}
	if out == nil {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
