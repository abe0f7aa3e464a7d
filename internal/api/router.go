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
	r.Use(s.bodySizeLimitMiddleware)

	r.Method(http.MethodGet, "/metrics", s.metrics.handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Ticket auth is checked inside the handler
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/shades", func(r chi.Router) {
				r.Get("/", s.handleListShades)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetShade)
					r.Put("/position", s.handleSetShadePosition)
					r.Post("/{command}", s.handleShadeCommand)
				})
			})

			r.Route("/scenes", func(r chi.Router) {
				r.Get("/", s.handleListScenes)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetScene)
					r.Post("/activate", s.handleActivateScene)
				})
			})

			r.Get("/events", s.handleEvents)
			r.Post("/discover", s.handleDiscover)
			r.Post("/query", s.handleQueryAll)

			if s.audit != nil {
				r.Get("/commands", s.handleListCommands)
			}
		})
	})

	return r
}

// handleHealth reports liveness and whether the hub event stream is up.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.engine.ListenerStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"hub_connected": stats.Connected,
		"ws_clients":    s.hub.ClientCount(),
	})
}

// handleEvents reports the pending event log length and listener counters.
func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":  s.engine.Log().Len(),
		"listener": s.engine.ListenerStats(),
	})
}
