package jobs

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

func TestSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/jobs" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var request SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if request.CallbackToken != "token-1" {
			t.Fatalf("unexpected callback token %q", request.CallbackToken)
		}
		if request.Mode != "extract" {
			t.Fatalf("expected default mode, got %q", request.Mode)
		}
		if err := json.NewEncoder(w).Encode(map[string]string{"job_id": "job-9"}); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(config.Service{BaseURL: server.URL})
	jobID, err := client.Submit(context.Background(), SubmitRequest{
		DocumentID:    "doc-1",
		SectionID:     "sec-1",
		PageRefs:      []string{"ref://txt/1"},
		CallbackToken: "token-1",
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if jobID != "job-9" {
		t.Fatalf("unexpected job id %q", jobID)
	}
}

func TestSubmitRequiresCallbackToken(t *testing.T) {
	client := NewClient(config.Service{BaseURL: "http://localhost:1"})
	if _, err := client.Submit(context.Background(), SubmitRequest{DocumentID: "doc-1"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/jobs/job-9" || r.Method != http.MethodGet {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		payload := Status{
			State:     StateSucceeded,
			ResultRef: "ref://result/9",
			Metering:  map[string]int64{"jobs.pages": 3},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(config.Service{BaseURL: server.URL})
	status, err := client.Status(context.Background(), "job-9")
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if !status.Done() || status.ResultRef != "ref://result/9" {
		t.Fatalf("unexpected status: %#v", status)
	}
	if status.JobID != "job-9" {
		t.Fatalf("expected job id backfilled, got %q", status.JobID)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(config.Service{BaseURL: server.URL})
	if _, err := client.Status(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found marker, got %v", err)
	}
}
