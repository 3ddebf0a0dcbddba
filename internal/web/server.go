package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"labwatch/internal/models"
)

// Store is the read-only view the ops server exposes.
type Store interface {
	Ping(ctx context.Context) error
	OutboxCounts(ctx context.Context) (map[models.SentState]int, error)
	MachineStatus(ctx context.Context, machineID int64) (models.Level, error)
}

type Server struct {
	store Store
	log   *slog.Logger
}

func NewServer(store Store, logger *slog.Logger) *Server {
	return &Server{store: store, log: logger}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/outbox", s.handleOutbox)
	mux.HandleFunc("/api/machines/", s.handleMachineStatus)
	return logMiddleware(mux, s.log)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Warn("readiness check failed", "err", err)
		http.Error(w, "db not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.OutboxCounts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make(map[string]int, len(counts))
	for state, n := range counts {
		out[state.String()] = n
	}
	writeJSON(w, out)
}

// handleMachineStatus serves GET /api/machines/{id}/status.
func (s *Server) handleMachineStatus(w http.ResponseWriter, r *http.Request) {
	if path.Base(r.URL.Path) != "status" {
		http.NotFound(w, r)
		return
	}
	rawID := strings.TrimPrefix(path.Dir(r.URL.Path), "/api/machines/")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid machine id", http.StatusBadRequest)
		return
	}
	status, err := s.store.MachineStatus(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"machine_id": id, "status": status})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
