package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, serveWS http.HandlerFunc) {
	r.Get("/health", h.Health)
	r.Get("/ws", serveWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Objectives
		r.Post("/objectives", h.CreateObjective)
		r.Get("/objectives", h.ListObjectives)
		r.Get("/objectives/{id}", h.GetObjective)
		r.Get("/objectives/{id}/tasks", h.ListObjectiveTasks)
		r.Get("/objectives/{id}/dispatches", h.ListObjectiveDispatches)
		r.Post("/objectives/{id}/cancel", h.CancelObjective)
		r.Post("/objectives/{id}/feedback", h.SubmitFeedback)

		// Agents
		r.Post("/agents", h.RegisterAgent)
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/{id}", h.GetAgent)
		r.Delete("/agents/{id}", h.DeregisterAgent)
		r.Post("/agents/{id}/heartbeat", h.AgentHeartbeat)

		// Memory
		r.Get("/memory/search", h.SearchMemory)
	})
}
