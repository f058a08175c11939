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

	// Webhook ingest sits outside /api/v1 and outside bearer auth;
	// payloads carry their own per-integration HMAC signature.
	r.Post("/webhook/{integration_id}", s.handleWebhookIngest)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// WS ticket requires a valid bearer token; the ticket then
			// authenticates the WebSocket upgrade without a token in the URL.
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Post("/sync", s.handleTriggerSync)
			r.Post("/sync-config", s.handleSyncConfig)

			r.Route("/sync/runs", func(r chi.Router) {
				r.Get("/", s.handleListRuns)
				r.Get("/{id}", s.handleGetRun)
			})

			r.Route("/conflicts", func(r chi.Router) {
				r.Get("/", s.handleListConflicts)
				r.Post("/{id}/resolve", s.handleResolveConflict)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", s.handleListNotifications)
				r.Post("/", s.handleSendNotification)
				r.Post("/{id}/retry", s.handleRetryNotification)
			})

			r.Get("/activity", s.handleListActivity)

			// WebSocket (auth via ticket, validated in handler)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
