package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)

	// Client WebSocket endpoints. Both speak the same protocol.
	r.Get("/ws/unified", s.handleWebSocket)
	r.Get("/ws/topic", s.handleWebSocket)
	if p := s.wsCfg.Path; p != "" && p != "/ws/unified" && p != "/ws/topic" {
		r.Get(p, s.handleWebSocket)
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.bodySizeLimitMiddleware)

		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/hub", func(r chi.Router) {
			r.Get("/states", s.handleHubStates)
			r.Get("/states/{domain}", s.handleHubDomainStates)
		})
	})

	return r
}
