package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"docflow/internal/admission"
	"docflow/internal/api"
	"docflow/internal/config"
	"docflow/internal/daemon"
	"docflow/internal/docstore"
	"docflow/internal/hitl"
	"docflow/internal/logging"
	"docflow/internal/scheduler"
	"docflow/internal/services"
	"docflow/internal/services/review"
	"docflow/internal/stage"
	"docflow/internal/testsupport"
	"docflow/internal/tokens"
)

type stubHandler struct {
	execute func(ctx context.Context, doc *docstore.Document) (stage.Result, error)
}

func (s *stubHandler) Prepare(context.Context, *docstore.Document) error { return nil }

func (s *stubHandler) Execute(ctx context.Context, doc *docstore.Document) (stage.Result, error) {
	if s.execute != nil {
		return s.execute(ctx, doc)
	}
	return stage.Continue(), nil
}

func (s *stubHandler) HealthCheck(context.Context) stage.Health { return stage.Healthy("stub") }

type stubReviewTasks struct{}

func (stubReviewTasks) CreateTask(context.Context, review.TaskRequest) (string, error) {
	return "task-1", nil
}

func (stubReviewTasks) Status(context.Context, string) (review.TaskStatus, error) {
	return review.TaskStatus{}, nil
}

func (stubReviewTasks) CancelTask(context.Context, string) error { return nil }

type testDaemon struct {
	cfg      *config.Config
	daemon   *daemon.Daemon
	store    *docstore.Store
	registry *tokens.Registry
	baseURL  string
	token    string
}

func passingSet() scheduler.StageSet {
	return scheduler.StageSet{
		OCR:       &stubHandler{},
		Classify:  &stubHandler{},
		Extract:   &stubHandler{},
		Summarize: &stubHandler{},
		Finalize:  &stubHandler{},
	}
}

func newTestDaemon(t *testing.T, set scheduler.StageSet, mutate func(*config.Config)) *testDaemon {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Workflow.QueuePollInterval = 0
	cfg.Workflow.SweepInterval = 0
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	store := testsupport.MustOpenStore(t, cfg)
	registry, err := tokens.NewRegistry(store)
	if err != nil {
		t.Fatalf("tokens.NewRegistry: %v", err)
	}
	control, err := admission.New(store, cfg.Pipeline.ConcurrencyCeiling)
	if err != nil {
		t.Fatalf("admission.New: %v", err)
	}
	coordinator := hitl.NewCoordinator(store, registry, stubReviewTasks{}, nil, cfg, logging.NewNop())
	mgr, err := scheduler.NewManager(cfg, scheduler.Deps{
		Store:     store,
		Admission: control,
		Registry:  registry,
		HITL:      coordinator,
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	mgr.ConfigureStages(set)

	d, err := daemon.New(cfg, store, logging.NewNop(), mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	return &testDaemon{
		cfg:      cfg,
		daemon:   d,
		store:    store,
		registry: registry,
		baseURL:  "http://" + d.APIAddr(),
		token:    cfg.Paths.APIToken,
	}
}

func (td *testDaemon) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var payload *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		payload = bytes.NewReader(encoded)
	} else {
		payload = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, td.baseURL+path, payload)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if td.token != "" {
		req.Header.Set("Authorization", "Bearer "+td.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func waitForDocumentStatus(t *testing.T, store *docstore.Store, id string, want docstore.Status) {
	t.Helper()
	deadline := time.After(30 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", want)
		default:
		}
		doc, err := store.GetDocument(context.Background(), id)
		if err != nil {
			t.Fatalf("GetDocument failed: %v", err)
		}
		if doc != nil && doc.Status == want {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestDaemonEnforcesSingleInstance(t *testing.T) {
	td := newTestDaemon(t, passingSet(), nil)

	cfg := testsupport.NewConfig(t)
	// Same lock directory as the running daemon.
	cfg.Paths.LogDir = td.cfg.Paths.LogDir

	store := testsupport.MustOpenStore(t, cfg)
	registry, err := tokens.NewRegistry(store)
	if err != nil {
		t.Fatalf("tokens.NewRegistry: %v", err)
	}
	control, err := admission.New(store, cfg.Pipeline.ConcurrencyCeiling)
	if err != nil {
		t.Fatalf("admission.New: %v", err)
	}
	mgr, err := scheduler.NewManager(cfg, scheduler.Deps{Store: store, Admission: control, Registry: registry}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	mgr.ConfigureStages(passingSet())
	second, err := daemon.New(cfg, store, logging.NewNop(), mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second daemon start to fail while the lock is held")
	}
}

func TestDaemonSubmitValidates(t *testing.T) {
	td := newTestDaemon(t, passingSet(), nil)
	ctx := context.Background()

	if _, err := td.daemon.Submit(ctx, "", "   ", ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty location, got %v", err)
	}
	if _, err := td.daemon.Submit(ctx, "", "inbox/a.pdf", "bespoke"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown pattern, got %v", err)
	}
	doc, err := td.daemon.Submit(ctx, "", "inbox/a.pdf", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if doc.Pattern != "composed" {
		t.Fatalf("expected default pattern, got %q", doc.Pattern)
	}
}

func TestAPISubmitAndFetchDocument(t *testing.T) {
	td := newTestDaemon(t, passingSet(), nil)

	resp := td.request(t, http.MethodPost, "/api/v1/documents", api.SubmitRequest{
		InputLocation: "inbox/contract.pdf",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	created := decodeBody[api.DocumentResponse](t, resp)
	if created.Document.ID == "" {
		t.Fatal("expected document id in response")
	}

	waitForDocumentStatus(t, td.store, created.Document.ID, docstore.StatusCompleted)

	resp = td.request(t, http.MethodGet, "/api/v1/documents/"+created.Document.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	fetched := decodeBody[api.DocumentResponse](t, resp)
	if fetched.Document.Status != string(docstore.StatusCompleted) {
		t.Fatalf("expected completed document, got %s", fetched.Document.Status)
	}

	resp = td.request(t, http.MethodGet, "/api/v1/documents?status=completed", nil)
	listed := decodeBody[api.DocumentListResponse](t, resp)
	if len(listed.Documents) != 1 {
		t.Fatalf("expected one completed document, got %d", len(listed.Documents))
	}

	resp = td.request(t, http.MethodGet, "/api/v1/documents/no-such-id", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown document, got %d", resp.StatusCode)
	}

	resp = td.request(t, http.MethodPost, "/api/v1/documents", api.SubmitRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing input location, got %d", resp.StatusCode)
	}
}

func TestAPIJobCallbackResumesDocument(t *testing.T) {
	set := passingSet()
	tokenCh := make(chan string, 1)
	registered := false
	var td *testDaemon
	set.Extract = &stubHandler{execute: func(ctx context.Context, doc *docstore.Document) (stage.Result, error) {
		if registered {
			return stage.Continue(), nil
		}
		registered = true
		executionID, ok := services.ExecutionIDFromContext(ctx)
		if !ok {
			return stage.Result{}, errors.New("execution id missing from stage context")
		}
		token, err := td.registry.Register(ctx, executionID, doc.ID, "", "extract", tokens.KindJob, "job-9")
		if err != nil {
			return stage.Result{}, err
		}
		tokenCh <- token.Token
		return stage.Suspend(token.Token), nil
	}}
	td = newTestDaemon(t, set, nil)

	doc, err := td.daemon.Submit(context.Background(), "", "inbox/async.pdf", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForDocumentStatus(t, td.store, doc.ID, docstore.StatusAwaitingJobs)
	tokenValue := <-tokenCh

	resp := td.request(t, http.MethodPost, "/api/v1/callbacks/jobs", api.JobCallbackRequest{
		Token: tokenValue,
		State: "running",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-terminal state, got %d", resp.StatusCode)
	}

	resp = td.request(t, http.MethodPost, "/api/v1/callbacks/jobs", api.JobCallbackRequest{
		Token:     tokenValue,
		State:     "succeeded",
		ResultRef: "sha256:cafe",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp = td.request(t, http.MethodPost, "/api/v1/callbacks/jobs", api.JobCallbackRequest{
		Token: "no-such-token",
		State: "succeeded",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown token, got %d", resp.StatusCode)
	}

	waitForDocumentStatus(t, td.store, doc.ID, docstore.StatusCompleted)
}

func TestAPIRequiresBearerToken(t *testing.T) {
	td := newTestDaemon(t, passingSet(), func(cfg *config.Config) {
		cfg.Paths.APIToken = "sesame"
	})

	req, err := http.NewRequest(http.MethodGet, td.baseURL+"/api/v1/documents", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	authed := td.request(t, http.MethodGet, "/api/v1/documents", nil)
	if authed.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", authed.StatusCode)
	}

	// Health stays open for liveness probes.
	open, err := http.Get(td.baseURL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer open.Body.Close()
	if open.StatusCode != http.StatusOK {
		t.Fatalf("expected open health endpoint, got %d", open.StatusCode)
	}
	health := decodeBody[api.DaemonStatus](t, open)
	if !health.Running {
		t.Fatal("expected running daemon in health payload")
	}
}

func TestAPIRetryEndpoint(t *testing.T) {
	set := passingSet()
	attempts := 0
	set.OCR = &stubHandler{execute: func(context.Context, *docstore.Document) (stage.Result, error) {
		attempts++
		if attempts == 1 {
			return stage.Result{}, services.Wrap(services.ErrValidation, "ocr", "execute", "unreadable input", nil)
		}
		return stage.Continue(), nil
	}}
	td := newTestDaemon(t, set, nil)

	doc, err := td.daemon.Submit(context.Background(), "", "inbox/retry.pdf", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForDocumentStatus(t, td.store, doc.ID, docstore.StatusFailed)

	resp := td.request(t, http.MethodPost, fmt.Sprintf("/api/v1/documents/%s/retry", doc.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	count := decodeBody[api.CountResponse](t, resp)
	if count.Affected != 1 {
		t.Fatalf("expected one retried document, got %d", count.Affected)
	}
	waitForDocumentStatus(t, td.store, doc.ID, docstore.StatusCompleted)

	resp = td.request(t, http.MethodPost, "/api/v1/documents/no-such-id/retry", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown document, got %d", resp.StatusCode)
	}

	resp = td.request(t, http.MethodPost, fmt.Sprintf("/api/v1/documents/%s/retry", doc.ID), nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for non-failed document, got %d", resp.StatusCode)
	}
}
