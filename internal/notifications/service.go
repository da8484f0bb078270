package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docflow/internal/config"
	"docflow/internal/docstore"
)

const userAgent = "docflow/0.1.0"

// Service defines the notification surface exposed to scheduler components.
type Service interface {
	NotifyStatusChange(ctx context.Context, doc *docstore.Document, previous docstore.Status) error
	NotifyDocumentCompleted(ctx context.Context, doc *docstore.Document) error
	NotifyDocumentFailed(ctx context.Context, doc *docstore.Document, stage, message string) error
	NotifyReviewRequested(ctx context.Context, documentID, sectionID string) error
	TestNotification(ctx context.Context) error
}

// Event is the JSON payload delivered to the configured webhook.
type Event struct {
	Type           string    `json:"type"`
	DocumentID     string    `json:"document_id,omitempty"`
	SectionID      string    `json:"section_id,omitempty"`
	Status         string    `json:"status,omitempty"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	Stage          string    `json:"stage,omitempty"`
	Message        string    `json:"message,omitempty"`
	At             time.Time `json:"at"`
}

// NewService builds a notification service backed by the configured webhook.
// When no webhook URL is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	endpoint := strings.TrimSpace(cfg.Notifications.WebhookURL)
	if endpoint == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &webhookService{
		endpoint:      endpoint,
		client:        &http.Client{Timeout: timeout},
		statusChanges: cfg.Notifications.StatusChanges,
		errors:        cfg.Notifications.Errors,
	}
}

type webhookService struct {
	endpoint      string
	client        *http.Client
	statusChanges bool
	errors        bool
}

func (w *webhookService) NotifyStatusChange(ctx context.Context, doc *docstore.Document, previous docstore.Status) error {
	if !w.statusChanges {
		return nil
	}
	return w.send(ctx, Event{
		Type:           "status_change",
		DocumentID:     doc.ID,
		Status:         string(doc.Status),
		PreviousStatus: string(previous),
	})
}

func (w *webhookService) NotifyDocumentCompleted(ctx context.Context, doc *docstore.Document) error {
	return w.send(ctx, Event{
		Type:       "document_completed",
		DocumentID: doc.ID,
		Status:     string(doc.Status),
		Message:    fmt.Sprintf("Document processed with %d pages", len(doc.Pages)),
	})
}

func (w *webhookService) NotifyDocumentFailed(ctx context.Context, doc *docstore.Document, stage, message string) error {
	if !w.errors {
		return nil
	}
	return w.send(ctx, Event{
		Type:       "document_failed",
		DocumentID: doc.ID,
		Status:     string(doc.Status),
		Stage:      stage,
		Message:    strings.TrimSpace(message),
	})
}

func (w *webhookService) NotifyReviewRequested(ctx context.Context, documentID, sectionID string) error {
	return w.send(ctx, Event{
		Type:       "review_requested",
		DocumentID: documentID,
		SectionID:  sectionID,
	})
}

func (w *webhookService) TestNotification(ctx context.Context) error {
	return w.send(ctx, Event{Type: "test", Message: "notification system test"})
}

func (w *webhookService) send(ctx context.Context, event Event) error {
	if w == nil || w.client == nil {
		return nil
	}
	event.At = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode webhook event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyStatusChange(context.Context, *docstore.Document, docstore.Status) error {
	return nil
}

func (noopService) NotifyDocumentCompleted(context.Context, *docstore.Document) error { return nil }

func (noopService) NotifyDocumentFailed(context.Context, *docstore.Document, string, string) error {
	return nil
}

func (noopService) NotifyReviewRequested(context.Context, string, string) error { return nil }

func (noopService) TestNotification(context.Context) error { return nil }
