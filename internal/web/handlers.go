package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/branchworks/branchmerge/internal/core"
	"github.com/branchworks/branchmerge/internal/logging"
)

// handleHealth reports whether the database answers a ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus returns the ops snapshot: active runs, limiter state,
// and the current branch count.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Status(r.Context())
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type startRunRequest struct {
	DryRun bool `json:"dryRun"`
}

type startRunResponse struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

// handleStartRun triggers a merge run in the background and returns its
// ID. Responds 409 when the concurrent-run limit is already held.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	ctx := core.ContextWithRemoteIP(r.Context(), r.RemoteAddr)
	runID, err := s.service.StartRun(ctx, core.RunOptions{
		Trigger: core.TriggerAPI,
		DryRun:  req.DryRun,
	})
	if errors.Is(err, core.ErrRunInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, startRunResponse{
		RunID:  runID,
		Status: string(core.RunStatusRunning),
	})
}

// handleListRuns returns recent runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 20)
	runs, err := s.service.RecentRuns(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// handleGetRun returns one run's summary, including runs still active.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGetManifest returns the per-source audit manifest of one run.
func (s *Server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res.Manifest)
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*core.RunResult, bool) {
	runID := chi.URLParam(r, "runID")
	res, err := s.service.GetRun(r.Context(), runID)
	if errors.Is(err, core.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return nil, false
	}
	return res, true
}

// handleListSources returns the source catalog.
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.service.Sources(r.Context())
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sources": sources})
}

// respondError logs the failure with its request id and returns the
// error text as JSON.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	logging.FromContext(r.Context()).Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)
	writeError(w, status, err.Error())
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", "error", err)
	}
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
