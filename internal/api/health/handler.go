package health

import (
	"context"
	"net/http"
	"time"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/pkg/response"
	"github.com/go-chi/chi/v5"
)

type HealthUsecase interface {
	Health(ctx context.Context) entity.HealthReport
}

type Handler struct {
	usecase HealthUsecase
}

func NewHandler(usecase HealthUsecase) *Handler {
	return &Handler{usecase: usecase}
}

// Live handles GET /health
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	response.Success(w, map[string]any{
		"status":    entity.HealthHealthy,
		"timestamp": time.Now().UTC(),
	})
}

// Services handles GET /health/services. A degraded report is served with
// 200 as well.
func (h *Handler) Services(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.usecase.Health(r.Context()))
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/health", h.Live)
	r.Get("/health/services", h.Services)
}
