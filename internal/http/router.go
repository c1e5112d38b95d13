// Package http exposes the coordination core over HTTP and WebSocket.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ops-coordination-service/internal/app"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application, h *Handlers) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoint
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/readiness", h.GetReadiness)
		r.Get("/roster", h.GetRoster)
		r.Get("/stream", h.Stream)

		r.Post("/command", h.PostCommand)

		r.Route("/session", func(r chi.Router) {
			r.Post("/join", h.JoinSession)
			r.Post("/leave", h.LeaveSession)
			r.Post("/transmit", h.SetTransmitting)
			r.Get("/status", h.SessionStatus)
		})
	})

	return r
}
