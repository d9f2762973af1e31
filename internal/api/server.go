package api

import (
	"net/http"
	"time"

	chatapi "github.com/futig/rag-chat-backend/internal/api/chat"
	"github.com/futig/rag-chat-backend/internal/api/docs"
	healthapi "github.com/futig/rag-chat-backend/internal/api/health"
	"github.com/futig/rag-chat-backend/internal/api/middleware"
	sessionapi "github.com/futig/rag-chat-backend/internal/api/session"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const requestTimeout = 2 * time.Minute

type Handlers struct {
	Chat    *chatapi.Handler
	Session *sessionapi.Handler
	Health  *healthapi.Handler
	Metrics http.Handler
}

// SetupRouter creates and configures the HTTP router
func SetupRouter(h Handlers, apiKey string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS)
	r.Use(chimiddleware.Timeout(requestTimeout))

	healthapi.RegisterRoutes(r, h.Health)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	// Swagger documentation endpoints
	docs.RegisterRoutes(r)

	r.Route("/api/chat", func(r chi.Router) {
		r.Use(middleware.APIKey(apiKey))
		chatapi.RegisterRoutes(r, h.Chat)
		sessionapi.RegisterRoutes(r, h.Session)
	})

	return r
}
