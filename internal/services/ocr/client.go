// Package ocr wraps the synchronous page-recognition service. Recognition
// splits an input document into pages and stores page artifacts externally;
// only content-addressed references come back.
package ocr

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
	stageName          = "ocr"
	defaultHTTPTimeout = 60 * time.Second
)

// Page is one recognized page with references into artifact storage.
type Page struct {
	ID       string `json:"id"`
	ImageRef string `json:"image_ref"`
	TextRef  string `json:"text_ref"`
}

// Result is the outcome of one recognition call.
type Result struct {
	Pages    []Page           `json:"pages"`
	Metering map[string]int64 `json:"usage"`
}

// Client calls the recognition service.
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

// NewClient constructs a recognition client from service configuration.
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

// Recognize runs recognition for a document. The call is synchronous; a slow
// backend surfaces as ErrTimeout and the retry engine decides what to do.
func (c *Client) Recognize(ctx context.Context, documentID, inputLocation string) (Result, error) {
	var empty Result
	if strings.TrimSpace(inputLocation) == "" {
		return empty, services.Wrap(services.ErrValidation, stageName, "recognize", "input location required", nil)
	}
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return empty, services.Wrap(services.ErrValidation, stageName, "recognize", "service base url not configured", nil)
	}

	payload := map[string]string{
		"document_id":    documentID,
		"input_location": inputLocation,
	}
	body, err := c.post(ctx, "/v1/recognize", payload)
	if err != nil {
		return empty, err
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return empty, services.Wrap(services.ErrTransient, stageName, "recognize", "decode response", err)
	}
	if len(result.Pages) == 0 {
		return empty, services.Wrap(services.ErrTransient, stageName, "recognize", "service returned no pages", nil)
	}
	return result, nil
}

// HealthCheck verifies the recognition endpoint responds.
func (c *Client) HealthCheck(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return errors.New("ocr health: base url not configured")
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/healthz")
	if err != nil {
		return fmt.Errorf("ocr health: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("ocr health: new request: %w", err)
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ocr health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("ocr health: http %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
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
