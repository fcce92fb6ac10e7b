package controlapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hollows-hunter/agent/internal/config"
	"github.com/hollows-hunter/agent/internal/history"
)

// HistoryStore is the subset of *history.SQLiteStore (or PostgresStore,
// via a hostID-binding adapter) the control API reads from.
type HistoryStore interface {
	Recent(ctx context.Context, n int) ([]history.Record, error)
}

// ScanTrigger requests an out-of-band scan of pid, mirroring
// Scheduler.RequestScan without exposing the Scheduler type directly.
type ScanTrigger func(pid uint32)

// Server holds the dependencies the control API handlers need.
type Server struct {
	history HistoryStore
	trigger ScanTrigger
	cfg     *config.HHParams
}

// NewServer constructs a Server.
func NewServer(history HistoryStore, trigger ScanTrigger, cfg *config.HHParams) *Server {
	return &Server{history: history, trigger: trigger, cfg: cfg}
}

// handleHealthz responds to GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetReports responds to GET /api/v1/reports.
//
// Supported query parameters:
//
//	limit – maximum number of results (default 100, max 1000)
func (s *Server) handleGetReports(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		if n > 1000 {
			n = 1000
		}
		limit = n
	}

	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query scan history")
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handlePostScan responds to POST /api/v1/scan/{pid}, requesting an
// out-of-band scan of the given PID.
func (s *Server) handlePostScan(w http.ResponseWriter, r *http.Request, pidParam string) {
	pid, err := strconv.ParseUint(pidParam, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "pid must be a non-negative integer")
		return
	}
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "scan triggering is not available in this mode")
		return
	}
	s.trigger(uint32(pid))
	writeJSON(w, http.StatusAccepted, map[string]any{"pid": pid, "status": "requested"})
}

// handleGetConfig responds to GET /api/v1/config with the active HHParams
// snapshot.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
