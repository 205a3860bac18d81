package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/healdb/heal/internal/history"
	"github.com/healdb/heal/internal/model"
	"github.com/healdb/heal/internal/monitor"
	"github.com/healdb/heal/internal/planner"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// handleHealthReport returns the latest issue list segmented by severity.
func (s *Server) handleHealthReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mon.Report())
}

// handleScan triggers a manual cycle. The response acknowledges scheduling,
// never the run's result.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	accepted, coalesced := s.mon.Trigger()
	if !accepted {
		writeError(w, http.StatusConflict, "monitor is stopped")
		return
	}
	writeJSON(w, http.StatusAccepted, model.ScanAck{Accepted: true, Coalesced: coalesced})
}

// handleFix runs a targeted fix for one issue from the last report.
func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	issueID := chi.URLParam(r, "issueID")

	rec, err := s.mon.FixIssue(r.Context(), issueID)
	switch {
	case errors.Is(err, monitor.ErrIssueNotFound):
		writeError(w, http.StatusNotFound, "issue not found: "+issueID)
		return
	case errors.Is(err, monitor.ErrStopped):
		writeError(w, http.StatusConflict, "monitor is stopped")
		return
	case errors.Is(err, planner.ErrCooldownActive):
		writeError(w, http.StatusConflict, "issue is within its cooldown window")
		return
	case errors.Is(err, planner.ErrUnplannable):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "fix failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleRollback reverses a prior fix by id.
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	fixID := chi.URLParam(r, "fixID")

	rec, err := s.mon.Rollback(r.Context(), fixID)
	switch {
	case errors.Is(err, history.ErrNotFound):
		writeError(w, http.StatusNotFound, "fix not found: "+fixID)
		return
	case errors.Is(err, history.ErrAlreadyRolledBack):
		writeError(w, http.StatusConflict, "fix already rolled back: "+fixID)
		return
	case errors.Is(err, monitor.ErrStopped):
		writeError(w, http.StatusConflict, "monitor is stopped")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "rollback failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// historyResponse is the paginated fix history payload.
type historyResponse struct {
	Records []model.FixRecord `json:"records"`
	Count   int               `json:"count"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
}

// handleHistory returns fix records, newest first, filtered by ?since= and
// ?table= and paginated with ?limit=/?offset=.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	f := history.Filter{
		Table:  r.URL.Query().Get("table"),
		Limit:  clampInt(queryInt(r, "limit", defaultHistoryLimit), 1, maxHistoryLimit),
		Offset: queryInt(r, "offset", 0),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since: expected RFC3339 timestamp")
			return
		}
		f.Since = t
	}

	records, err := s.mon.History(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list history: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Records: records,
		Count:   len(records),
		Limit:   f.Limit,
		Offset:  f.Offset,
	})
}

// writeJSON serializes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError writes the standard error envelope.
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// queryInt extracts an integer query parameter with a default.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// clampInt constrains val to [min, max].
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
