package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"docflow/internal/api"
	"docflow/internal/config"
	"docflow/internal/docstore"
	"docflow/internal/logging"
	"docflow/internal/scheduler"
	"docflow/internal/services"
	"docflow/internal/services/jobs"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	docSvc *api.DocumentService

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
		docSvc: api.NewDocumentService(d.store),
	}

	token := strings.TrimSpace(cfg.Paths.APIToken)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/documents", authMiddleware(token, srv.handleDocuments))
	mux.HandleFunc("/api/v1/documents/", authMiddleware(token, srv.handleDocumentItem))
	mux.HandleFunc("/api/v1/callbacks/jobs", authMiddleware(token, srv.handleJobCallback))
	mux.HandleFunc("/api/v1/callbacks/reviews", authMiddleware(token, srv.handleReviewCallback))
	// Health stays open so liveness probes work without credentials.
	mux.HandleFunc("/api/v1/health", srv.handleHealth)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listDocuments(w, r)
	case http.MethodPost:
		s.submitDocument(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) listDocuments(w http.ResponseWriter, r *http.Request) {
	var statuses []docstore.Status
	for _, value := range r.URL.Query()["status"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		statuses = append(statuses, docstore.Status(trimmed))
	}
	docs, err := s.docSvc.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.DocumentListResponse{Documents: docs})
}

func (s *apiServer) submitDocument(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	doc, err := s.daemon.Submit(r.Context(), req.DocumentID, req.InputLocation, req.Pattern)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, api.DocumentResponse{
		Document: api.DocumentDetail{Document: api.FromDocument(doc)},
	})
}

func (s *apiServer) handleDocumentItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/documents/")
	if rest == "" {
		s.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if rest == "retry" {
		s.retryAllFailed(w, r)
		return
	}
	if rest == "clear" {
		s.clearDocuments(w, r)
		return
	}
	if id, ok := strings.CutSuffix(rest, "/retry"); ok {
		s.retryDocument(w, r, id)
		return
	}
	if strings.Contains(rest, "/") {
		s.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	detail, err := s.docSvc.Describe(r.Context(), rest)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if detail == nil {
		s.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.DocumentResponse{Document: *detail})
}

func (s *apiServer) retryDocument(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	count, err := s.daemon.RetryFailed(r.Context(), []string{id})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if count == 0 {
		doc, err := s.daemon.store.GetDocument(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if doc == nil {
			s.writeError(w, http.StatusNotFound, "document not found")
			return
		}
		s.writeError(w, http.StatusConflict, "document is not failed")
		return
	}
	s.writeJSON(w, http.StatusOK, api.CountResponse{Affected: count})
}

func (s *apiServer) retryAllFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	count, err := s.daemon.RetryFailed(r.Context(), nil)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.CountResponse{Affected: count})
}

func (s *apiServer) clearDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var (
		count int64
		err   error
	)
	switch scope := strings.TrimSpace(r.URL.Query().Get("scope")); scope {
	case "completed":
		count, err = s.daemon.ClearCompleted(r.Context())
	case "failed":
		count, err = s.daemon.ClearFailed(r.Context())
	case "all":
		count, err = s.daemon.Clear(r.Context())
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("scope %q must be completed, failed, or all", scope))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.CountResponse{Affected: count})
}

func (s *apiServer) handleJobCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.JobCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		s.writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	state := jobs.State(strings.ToLower(strings.TrimSpace(req.State)))
	if state != jobs.StateSucceeded && state != jobs.StateFailed {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("state %q is not terminal", req.State))
		return
	}

	err := s.daemon.ResumeJob(r.Context(), req.Token, scheduler.JobOutcome{
		State:       state,
		ResultRef:   req.ResultRef,
		ErrorDetail: req.ErrorDetail,
		Metering:    req.Metering,
	})
	s.writeCallbackResult(w, err)
}

func (s *apiServer) handleReviewCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.ReviewCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		s.writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	s.writeCallbackResult(w, s.daemon.ResumeReview(r.Context(), req.Token, req.CorrectedAttributes))
}

func (s *apiServer) writeCallbackResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "unknown task token")
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          os.Getpid(),
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		Scheduler:    api.FromStatusSummary(status.Scheduler),
		Store:        api.FromHealthSummary(status.Store),
	})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
