// Package server exposes the HTTP observability surface: provider
// health, batch history, owner balances and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/validly/dispatchd/internal/dispatch/health"
	"github.com/validly/dispatchd/internal/infra/storage"
)

// Status is the aggregate service health.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// Server provides HTTP endpoints for monitoring the dispatch engine.
type Server struct {
	tracker   *health.Tracker
	providers []string
	ledger    storage.Ledger
	archive   storage.BatchArchive
	server    *http.Server
}

// NewServer creates the observability server for the given provider
// names.
func NewServer(tracker *health.Tracker, providers []string, ledger storage.Ledger, archive storage.BatchArchive, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		tracker:   tracker,
		providers: providers,
		ledger:    ledger,
		archive:   archive,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/providers", s.handleProviders)
	mux.HandleFunc("/batches", s.handleBatches)
	mux.HandleFunc("/balance", s.handleBalance)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the underlying handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	available := 0
	for _, name := range s.providers {
		if s.tracker.IsAvailable(name) {
			available++
		}
	}

	// Worst case wins: no provider left means no batch can run.
	status := StatusHealthy
	if available < len(s.providers) {
		status = StatusDegraded
	}
	if available == 0 && len(s.providers) > 0 {
		status = StatusCritical
	}

	response := map[string]any{
		"status":    string(status),
		"providers": len(s.providers),
		"available": available,
	}
	w.Header().Set("Content-Type", "application/json")

	if status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	snapshots := make([]health.Snapshot, 0, len(s.providers))
	for _, name := range s.providers {
		snapshots = append(snapshots, s.tracker.SnapshotFor(name))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshots)
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		http.Error(w, "owner query parameter required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	summaries, err := s.archive.RecentForOwner(r.Context(), owner, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		http.Error(w, "owner query parameter required", http.StatusBadRequest)
		return
	}

	balance, err := s.ledger.BalanceFor(r.Context(), owner)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"owner_id": owner, "balance": balance})
}
