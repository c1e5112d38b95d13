// Package observability provides metrics and monitoring HTTP server.
package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"ops-coordination-service/internal/models"
)

// SnapshotFunc returns the latest readiness snapshot for /readyz.
type SnapshotFunc func() models.ReadinessSnapshot

// Server provides HTTP endpoints for observability.
type Server struct {
	server *http.Server
	addr   string
}

// NewServer creates a new observability HTTP server. The readiness probe
// reports the live coordination readiness: ALERT maps to 503 so orchestration
// can route traffic away while the backend path is down.
func NewServer(addr string, snapshot SnapshotFunc) *Server {
	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Liveness check endpoint
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Readiness check endpoint, backed by the ReadinessEngine
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		snap := snapshot()
		if snap.State == models.StateAlert {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(string(snap.State)))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(string(snap.State)))
	})

	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.addr).Msg("Starting observability HTTP server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Observability HTTP server error")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down observability HTTP server")
	return s.server.Shutdown(ctx)
}
