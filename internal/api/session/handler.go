package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/pkg/logger"
	"github.com/futig/rag-chat-backend/internal/pkg/response"
	"github.com/futig/rag-chat-backend/internal/pkg/validator"
	"github.com/go-chi/chi/v5"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

const defaultMessagesLimit = 50

type Handler struct {
	usecase   SessionUsecase
	validator *validator.Validator
}

func NewHandler(usecase SessionUsecase, validator *validator.Validator) *Handler {
	return &Handler{
		usecase:   usecase,
		validator: validator,
	}
}

// CreateSession handles POST /api/chat/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithAction(r.Context(), "CreateSession")

	var req entity.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(ctx, w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := h.validator.ValidateCreateSession(&req); err != nil {
		response.Error(ctx, w, http.StatusBadRequest, "validation failed", err)
		return
	}

	session, err := h.usecase.CreateSession(ctx, req.UserID, req.Title)
	if err != nil {
		response.UsecaseError(ctx, w, err)
		return
	}
	response.Created(w, session)
}

// ListSessions handles GET /api/chat/users/{user_id}/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	ctx := logger.WithSession(logger.WithAction(r.Context(), "ListSessions"), "", userID)

	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		response.Error(ctx, w, http.StatusBadRequest, "invalid parameter", err)
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		response.Error(ctx, w, http.StatusBadRequest, "invalid parameter", err)
		return
	}

	sessions, total, err := h.usecase.ListSessions(ctx, userID, limit, offset)
	if err != nil {
		response.UsecaseError(ctx, w, err)
		return
	}

	ctxzap.Debug(ctx, "sessions listed", zap.Int("count", len(sessions)), zap.Int("total", total))
	response.Success(w, entity.SessionListResponse{
		Sessions: sessions,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

// GetMessages handles GET /api/chat/sessions/{id}/messages
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	ctx := logger.WithSession(logger.WithAction(r.Context(), "GetMessages"), sessionID, "")

	limit, err := intQuery(r, "limit", defaultMessagesLimit)
	if err != nil {
		response.Error(ctx, w, http.StatusBadRequest, "invalid parameter", err)
		return
	}

	msgs, err := h.usecase.SessionMessages(ctx, sessionID, limit)
	if err != nil {
		response.UsecaseError(ctx, w, err)
		return
	}
	response.Success(w, entity.SessionMessagesResponse{
		SessionID:     sessionID,
		Messages:      msgs,
		TotalMessages: len(msgs),
	})
}

// GetContext handles GET /api/chat/sessions/{id}/context
func (h *Handler) GetContext(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	ctx := logger.WithSession(logger.WithAction(r.Context(), "GetContext"), sessionID, "")

	convCtx, err := h.usecase.SessionContext(ctx, sessionID, r.URL.Query().Get("user_id"))
	if err != nil {
		response.UsecaseError(ctx, w, err)
		return
	}
	response.Success(w, entity.SessionContextResponse{
		SessionID: sessionID,
		Context:   convCtx,
		Timestamp: time.Now().UTC(),
	})
}

// GetSummary handles GET /api/chat/sessions/{id}/summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	ctx := logger.WithSession(logger.WithAction(r.Context(), "GetSummary"), sessionID, "")

	summary, err := h.usecase.SessionSummary(ctx, sessionID)
	if err != nil {
		response.UsecaseError(ctx, w, err)
		return
	}
	if summary == nil {
		response.Error(ctx, w, http.StatusNotFound, "session has no summary yet", nil)
		return
	}
	response.Success(w, entity.SessionSummaryResponse{SessionID: sessionID, Summary: *summary})
}

// Summarize handles POST /api/chat/sessions/{id}/summarize
func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	ctx := logger.WithSession(logger.WithAction(r.Context(), "Summarize"), sessionID, "")

	summary, err := h.usecase.SummarizeSession(ctx, sessionID)
	if err != nil {
		response.UsecaseError(ctx, w, err)
		return
	}
	response.Success(w, entity.SessionSummaryResponse{SessionID: sessionID, Summary: summary})
}

// Export handles GET /api/chat/sessions/{id}/export
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	ctx := logger.WithSession(logger.WithAction(r.Context(), "Export"), sessionID, "")

	format, err := h.validator.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		response.Error(ctx, w, http.StatusBadRequest, "invalid format parameter", err)
		return
	}

	export, err := h.usecase.ExportSession(ctx, sessionID, format)
	if err != nil {
		response.UsecaseError(ctx, w, err)
		return
	}

	ctxzap.Info(ctx, "session exported", zap.String("format", string(format)), zap.Int("bytes", len(export.Data)))
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Data)
}

// DeleteSession handles DELETE /api/chat/sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	ctx := logger.WithSession(logger.WithAction(r.Context(), "DeleteSession"), sessionID, "")

	if err := h.usecase.DeleteSession(ctx, sessionID); err != nil {
		response.UsecaseError(ctx, w, err)
		return
	}
	response.Success(w, map[string]string{
		"message": fmt.Sprintf("Session %s deleted successfully", sessionID),
	})
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", entity.ErrInvalidParameter, name)
	}
	return v, nil
}
