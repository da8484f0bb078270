package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"docflow/internal/config"
	"docflow/internal/services"
)

func TestRecognize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/recognize" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		var request struct {
			DocumentID    string `json:"document_id"`
			InputLocation string `json:"input_location"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if request.InputLocation != "s3://inbox/a.pdf" {
			t.Fatalf("unexpected input location %q", request.InputLocation)
		}
		payload := Result{
			Pages: []Page{
				{ID: "p1", ImageRef: "ref://img/1", TextRef: "ref://txt/1"},
				{ID: "p2", ImageRef: "ref://img/2", TextRef: "ref://txt/2"},
			},
			Metering: map[string]int64{"ocr.pages": 2},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(config.Service{BaseURL: server.URL, APIKey: "test-key"})
	result, err := client.Recognize(context.Background(), "doc-1", "s3://inbox/a.pdf")
	if err != nil {
		t.Fatalf("Recognize returned error: %v", err)
	}
	if len(result.Pages) != 2 || result.Pages[0].TextRef != "ref://txt/1" {
		t.Fatalf("unexpected result: %#v", result)
	}
	if result.Metering["ocr.pages"] != 2 {
		t.Fatalf("unexpected metering: %#v", result.Metering)
	}
}

func TestRecognizeClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		marker error
	}{
		{http.StatusTooManyRequests, services.ErrThrottled},
		{http.StatusServiceUnavailable, services.ErrUnavailable},
		{http.StatusGatewayTimeout, services.ErrTimeout},
		{http.StatusUnprocessableEntity, services.ErrValidation},
		{http.StatusUnauthorized, services.ErrPermission},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		client := NewClient(config.Service{BaseURL: server.URL})
		_, err := client.Recognize(context.Background(), "doc-1", "s3://inbox/a.pdf")
		server.Close()
		if !errors.Is(err, tc.marker) {
			t.Fatalf("status %d: expected marker %v, got %v", tc.status, tc.marker, err)
		}
	}
}

func TestRecognizeRejectsEmptyInput(t *testing.T) {
	client := NewClient(config.Service{BaseURL: "http://localhost:1"})
	if _, err := client.Recognize(context.Background(), "doc-1", ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(config.Service{BaseURL: server.URL})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}
