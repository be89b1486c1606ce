package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"syscall"

	"github.com/nerrad567/gray-logic-supervisor/internal/history"
	"github.com/nerrad567/gray-logic-supervisor/internal/supervisor"
)

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	State      supervisor.State  `json:"state"`
	Components map[string]string `json:"components,omitempty"`
}

// handleHealth checks every enabled infrastructure component. Any failure
// makes the response 503 "degraded" with the failing component's error.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: s.version,
		State:   s.supervisor.Stats().State,
	}

	if len(s.components) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp.Components = make(map[string]string, len(s.components))
		for _, c := range s.components {
			if err := c.check.HealthCheck(ctx); err != nil {
				resp.Status = "degraded"
				resp.Components[c.name] = err.Error()
				s.logger.Warn("health check failed", "component", c.name, "error", err)
				continue
			}
			resp.Components[c.name] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleStatus returns the live supervisor snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.supervisor.Stats())
}

// historyResponse is the body of GET /api/v1/history.
type historyResponse struct {
	Entries []history.Entry `json:"entries"`
	Count   int             `json:"count"`
}

// handleHistory lists recorded transitions, newest first.
//
// Query parameters:
//   - run_id: restrict to one run; "current" selects this run
//   - limit: maximum entries (default 50, capped at 200)
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		fail(w, r, http.StatusServiceUnavailable, "history is disabled")
		return
	}

	runID := r.URL.Query().Get("run_id")
	if runID == "current" {
		runID = s.supervisor.Stats().RunID
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			fail(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), runID, limit)
	if err != nil {
		s.logger.Error("reading history failed", "error", err, "request_id", requestID(r))
		fail(w, r, http.StatusInternalServerError, "failed to read history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	writeJSON(w, http.StatusOK, historyResponse{Entries: entries, Count: len(entries)})
}

// shutdownRequest is the optional body of POST /api/v1/shutdown.
type shutdownRequest struct {
	Reason string `json:"reason"`
}

// handleShutdown asks the supervisor to stop the worker and exit. The
// request is accepted before the worker has exited.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	var req shutdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.logger.Info("shutdown requested over HTTP",
		"reason", req.Reason,
		"request_id", requestID(r),
	)
	s.supervisor.RequestShutdown(syscall.SIGTERM)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "shutting_down",
	})
}
