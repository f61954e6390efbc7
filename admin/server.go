// Package admin exposes a small HTTP surface for observing a running pool:
// /status, /health, and /metrics. Trimmed down from the teacher's
// multi-tenant REST API to the single pool this module manages.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quillsql/quill/pool"
	"github.com/quillsql/quill/pool/metrics"
)

// Server is the pool's HTTP admin/status surface.
type Server struct {
	ds         *pool.DataSource
	httpServer *http.Server
	log        *slog.Logger
}

// NewServer builds a Server bound to ds. If ds.Metrics() is a
// *metrics.PrometheusTracker, /metrics serves its registry; otherwise
// /metrics reports the tracker's Snapshot as JSON.
func NewServer(addr string, ds *pool.DataSource, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	r := mux.NewRouter()
	s := &Server{ds: ds, log: log}

	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	if pt, ok := ds.Metrics().(*metrics.PrometheusTracker); ok {
		r.Handle("/metrics", promhttp.HandlerFor(pt.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	} else {
		r.HandleFunc("/metrics", s.handleMetricsJSON).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in the background. Call Stop for a graceful shutdown.
func (s *Server) Start() {
	go func() {
		s.log.Info("admin server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("admin server stopped", "error", err)
		}
	}()
}

// Stop gracefully shuts down the admin server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.ds.Status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.ds.Status()
	if status.Size == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unhealthy: no connections available"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.ds.Metrics().Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}
