package chat

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers chat routes on the /api/chat router
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/conversational", h.Conversational)
	r.Post("/conversational/stream", h.ConversationalStream)
	r.Post("/completions", h.Completions)
	r.Post("/rag", h.RAG)
	r.Post("/debug/session", h.DebugSession)
}
