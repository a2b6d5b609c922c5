package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/eventbroker/internal/dispatch"
	"github.com/alfredjeanlab/eventbroker/internal/model"
)

// maxEventBody caps the size of a dispatch request body.
const maxEventBody = 1 << 20

// DispatchAccepted is returned for asynchronous dispatches.
type DispatchAccepted struct {
	EventID       string `json:"event_id"`
	CorrelationID string `json:"correlation_id"`
}

// handleDispatchEvent handles POST /v1/events. With ?wait=true the response
// is the dispatch result; otherwise the dispatch runs in the background and
// the response carries its ids.
func (s *BrokerServer) handleDispatchEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := ev.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if wait {
		run := s.dispatcher.Start(r.Context(), ev)
		if err := run.Err(); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, run.Result())
		return
	}

	run := s.dispatcher.Start(s.base, ev)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		<-run.Done()
	}()
	started := run.Event()
	writeJSON(w, http.StatusAccepted, DispatchAccepted{
		EventID:       started.EventID,
		CorrelationID: started.CorrelationID,
	})
}

// handleListExecutions handles GET /v1/executions?after=<id>&limit=<n>.
func (s *BrokerServer) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after int64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid after")
			return
		}
		after = n
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	logs, err := s.store.ListExecutionLogs(r.Context(), after, limit)
	if err != nil {
		s.logger.Error("server: listing execution logs", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list execution logs")
		return
	}
	if logs == nil {
		logs = []*model.ExecutionLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": logs})
}

var _ Dispatcher = (*dispatch.Orchestrator)(nil)
