// Package server exposes the dispatch pipeline and job tracking over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/alfredjeanlab/eventbroker/internal/dispatch"
	"github.com/alfredjeanlab/eventbroker/internal/jobctx"
	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/store"
	"github.com/alfredjeanlab/eventbroker/internal/watchdog"
)

// Dispatcher starts dispatches. *dispatch.Orchestrator implements it.
type Dispatcher interface {
	Start(ctx context.Context, ev model.Event) *dispatch.Run
}

// BrokerServer serves the broker HTTP API.
type BrokerServer struct {
	dispatcher Dispatcher
	store      store.Store
	watchdog   *watchdog.Watchdog
	logger     *slog.Logger

	// base outlives requests; asynchronous dispatches run under it.
	base     context.Context
	inflight sync.WaitGroup
}

// NewBrokerServer returns a server. wd may be nil when job tracking is off.
func NewBrokerServer(base context.Context, d Dispatcher, s store.Store, wd *watchdog.Watchdog, logger *slog.Logger) *BrokerServer {
	if logger == nil {
		logger = slog.Default()
	}
	if base == nil {
		base = context.Background()
	}
	return &BrokerServer{dispatcher: d, store: s, watchdog: wd, logger: logger, base: base}
}

// Wait blocks until every asynchronous dispatch started by the server has
// finished.
func (s *BrokerServer) Wait() {
	s.inflight.Wait()
}

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *BrokerServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", s.handleDispatchEvent)
	mux.HandleFunc("POST /v1/jobs/{id}/complete", s.handleCompleteJob)
	mux.HandleFunc("POST /v1/jobs/{id}/fail", s.handleFailJob)
	mux.HandleFunc("GET /v1/jobs/outstanding", s.handleOutstandingJobs)
	mux.HandleFunc("GET /v1/executions", s.handleListExecutions)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return RecoveryMiddleware(LoggingMiddleware(AuthMiddleware(authToken, mux)))
}

// handleHealth handles GET /v1/health.
func (s *BrokerServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps dispatch errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, jobctx.ErrApplicationNotFound), errors.Is(err, jobctx.ErrOrganisationNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrDependencyLookupFailed),
		errors.Is(err, dispatch.ErrProvisioningFailure),
		errors.Is(err, dispatch.ErrPublishFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
