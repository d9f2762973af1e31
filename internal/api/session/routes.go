package session

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers session routes on the /api/chat router
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/users/{user_id}/sessions", h.ListSessions)
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/{id}/messages", h.GetMessages)
		r.Get("/{id}/context", h.GetContext)
		r.Get("/{id}/summary", h.GetSummary)
		r.Post("/{id}/summarize", h.Summarize)
		r.Get("/{id}/export", h.Export)
		r.Delete("/{id}", h.DeleteSession)
	})
}
