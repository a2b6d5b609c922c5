package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/alfredjeanlab/eventbroker/internal/watchdog"
)

// FailJobRequest is the optional body of POST /v1/jobs/{id}/fail.
type FailJobRequest struct {
	Reason string `json:"reason"`
}

// handleCompleteJob handles POST /v1/jobs/{id}/complete.
func (s *BrokerServer) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	if s.watchdog == nil {
		writeError(w, http.StatusNotFound, "job tracking is disabled")
		return
	}
	id := r.PathValue("id")
	if !s.watchdog.Complete(id) {
		writeError(w, http.StatusNotFound, "job not outstanding: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "outcome": watchdog.Completed.String()})
}

// handleFailJob handles POST /v1/jobs/{id}/fail.
func (s *BrokerServer) handleFailJob(w http.ResponseWriter, r *http.Request) {
	if s.watchdog == nil {
		writeError(w, http.StatusNotFound, "job tracking is disabled")
		return
	}
	var req FailJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	id := r.PathValue("id")
	if !s.watchdog.Fail(id, req.Reason) {
		writeError(w, http.StatusNotFound, "job not outstanding: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "outcome": watchdog.Failed.String()})
}

// handleOutstandingJobs handles GET /v1/jobs/outstanding.
func (s *BrokerServer) handleOutstandingJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := []watchdog.Job{}
	if s.watchdog != nil {
		jobs = s.watchdog.Outstanding()
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}
