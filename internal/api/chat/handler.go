package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/pkg/logger"
	"github.com/futig/rag-chat-backend/internal/pkg/response"
	"github.com/futig/rag-chat-backend/internal/pkg/validator"
	chatuc "github.com/futig/rag-chat-backend/internal/usecase/chat"
	"github.com/futig/rag-chat-backend/internal/usecase/resolver"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

var errUseStreamEndpoint = errors.New("use /api/chat/conversational/stream for streaming responses")

type Handler struct {
	usecase   ChatUsecase
	validator *validator.Validator
	now       func() time.Time
}

func NewHandler(usecase ChatUsecase, validator *validator.Validator) *Handler {
	return &Handler{
		usecase:   usecase,
		validator: validator,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Conversational handles POST /api/chat/conversational
func (h *Handler) Conversational(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithAction(r.Context(), "Conversational")

	var req entity.ConversationalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(ctx, w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := h.validator.ValidateConversational(&req); err != nil {
		response.Error(ctx, w, http.StatusBadRequest, "validation failed", err)
		return
	}
	if req.Stream {
		response.Error(ctx, w, http.StatusBadRequest, "streaming is not supported here", errUseStreamEndpoint)
		return
	}

	result, err := h.usecase.ProcessTurn(ctx, toTurnRequest(&req, false))
	if err != nil {
		response.UsecaseError(ctx, w, err)
		return
	}

	response.Success(w, entity.ConversationalResponse{
		Response:  result.Response,
		SessionID: result.SessionID,
		Metadata:  result.Metadata,
		Timestamp: h.now(),
	})
}

// ConversationalStream handles POST /api/chat/conversational/stream
func (h *Handler) ConversationalStream(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithAction(r.Context(), "ConversationalStream")

	var req entity.ConversationalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(ctx, w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := h.validator.ValidateConversational(&req); err != nil {
		response.Error(ctx, w, http.StatusBadRequest, "validation failed", err)
		return
	}

	result, err := h.usecase.ProcessTurn(ctx, toTurnRequest(&req, true))
	if err != nil {
		response.UsecaseError(ctx, w, err)
		return
	}

	sse := newSSEWriter(w, result.SessionID)
	sse.data(entity.StreamEvent{Type: "metadata", Data: result.Metadata})

	var full strings.Builder
	if result.Stream == nil {
		full.WriteString(result.Response)
		sse.data(entity.StreamEvent{Type: "chunk", Data: map[string]string{"content": result.Response}})
	}
	// drained to the end so the turn can persist even after the client left
	for chunk := range result.Stream {
		full.WriteString(chunk)
		sse.data(entity.StreamEvent{Type: "chunk", Data: map[string]string{"content": chunk}})
	}

	md := result.Metadata
	if result.Done != nil {
		if final, ok := <-result.Done; ok {
			md = final
		}
	}

	if md.State == entity.StateError && md.Error != "" {
		sse.data(entity.StreamEvent{Type: "error", Data: map[string]string{"error": md.Error}})
	}
	sse.data(entity.StreamEvent{Type: "complete", Data: entity.StreamComplete{
		FullResponse: full.String(),
		SessionID:    result.SessionID,
		Metadata:     md,
		Timestamp:    h.now(),
	}})
	sse.done()

	if sse.err != nil {
		ctxzap.Info(ctx, "stream client went away", zap.Error(sse.err))
	}
}

// Completions handles POST /api/chat/completions in the OpenAI format
func (h *Handler) Completions(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithAction(r.Context(), "Completions")

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(ctx, w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	messages := resolver.MessagesFromBody(body)
	query, ok := resolver.LastUserMessage(messages)
	if !ok {
		response.Error(ctx, w, http.StatusBadRequest, "validation failed",
			fmt.Errorf("%w: no user message in messages", entity.ErrMissingField))
		return
	}
	if err := h.validator.ValidateCompletionMessage(query); err != nil {
		response.Error(ctx, w, http.StatusBadRequest, "validation failed", err)
		return
	}

	model := defaultModel
	if m, ok := body["model"].(string); ok && m != "" {
		model = m
	}
	stream, _ := body["stream"].(bool)

	resolution := h.usecase.ResolveSession(body, r.Header)
	userID := resolution.UserID
	if u, ok := body["user_id"].(string); ok && strings.TrimSpace(u) != "" {
		userID = strings.TrimSpace(u)
	}
	if userID == entity.AnonymousUser {
		if detected, ok := h.usecase.DetectUser(ctx); ok {
			ctxzap.Info(ctx, "using detected document owner", zap.String("user_id", detected))
			userID = detected
		}
	}
	analysis := resolver.AnalyzeConversation(messages)

	ctx = logger.AddFields(logger.WithSession(ctx, resolution.SessionID, userID),
		zap.String("resolution_strategy", string(resolution.Strategy)),
		zap.Int("turn_count", analysis.TurnCount),
	)

	now := h.now()
	id := completionID(now)
	sessionID := resolution.SessionID

	out := completionResponse{
		SessionID:           sessionID,
		ConversationContext: analysis,
	}

	result, err := h.usecase.ProcessTurn(ctx, entity.TurnRequest{
		UserID:    userID,
		SessionID: &sessionID,
		Message:   query,
	})
	content := result.Response
	switch {
	case err != nil:
		ctxzap.Error(ctx, "completion turn failed", zap.Error(err))
		content = "I apologize, but I encountered an error processing your request. Please try again."
		out.Error = &completionError{Type: internalErrorType, Message: "Request processing failed", Timestamp: now}
	case result.Metadata.State == entity.StateError:
		out.Error = &completionError{Type: internalErrorType, Message: result.Metadata.Error, Timestamp: now}
	}
	if err == nil {
		md := result.Metadata
		md.IsInferred = resolution.IsInferred
		md.ResolutionStrategy = resolution.Strategy
		out.Metadata = &md
	}

	w.Header().Set("X-Session-ID", sessionID)
	if !stream {
		out.ChatCompletionResponse = toCompletionResponse(id, model, now, query, content)
		response.Success(w, out)
		return
	}

	sse := newSSEWriter(w, sessionID)
	created := now.Unix()
	for _, token := range chatuc.GenerateTokens(content) {
		sse.data(completionChunk{
			ChatCompletionStreamResponse: toChunk(id, model, created, token, ""),
			SessionID:                    sessionID,
		})
	}
	sse.data(completionChunk{
		ChatCompletionStreamResponse: toChunk(id, model, created, "", "stop"),
		SessionID:                    sessionID,
	})
	sse.done()
}

// RAG handles POST /api/chat/rag, a single question without conversation
func (h *Handler) RAG(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithAction(r.Context(), "RAG")

	var req entity.RAGRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(ctx, w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := h.validator.ValidateRAG(&req); err != nil {
		response.Error(ctx, w, http.StatusBadRequest, "validation failed", err)
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" || userID == entity.AnonymousUser {
		userID = entity.AnonymousUser
		if detected, ok := h.usecase.DetectUser(ctx); ok {
			userID = detected
		}
	}

	answer, err := h.usecase.Answer(ctx, req.Query, userID)
	if err != nil {
		response.UsecaseError(ctx, w, err)
		return
	}

	response.Success(w, entity.RAGResponse{
		Success:   true,
		Query:     req.Query,
		RAGAnswer: answer,
	})
}

// DebugSession handles POST /api/chat/debug/session
func (h *Handler) DebugSession(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithAction(r.Context(), "DebugSession")

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(ctx, w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	messages := resolver.MessagesFromBody(body)
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	model := "not_specified"
	if m, ok := body["model"].(string); ok && m != "" {
		model = m
	}
	_, hasMessages := body["messages"]

	debug := entity.SessionDebugResponse{
		Resolution: h.usecase.ResolveSession(body, r.Header),
		RequestAnalysis: entity.RequestAnalysis{
			Keys:         keys,
			HasMessages:  hasMessages,
			MessageCount: len(messages),
			Model:        model,
		},
		ConversationContext: resolver.AnalyzeConversation(messages),
		HeadersAnalysis:     analyzeHeaders(r.Header),
		Timestamp:           h.now(),
	}

	ctxzap.Debug(ctx, "session debug", zap.Any("result", debug))
	response.Success(w, debug)
}

func analyzeHeaders(headers http.Header) entity.HeadersAnalysis {
	relevant := []string{}
	for name := range headers {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "session") || strings.Contains(lower, "user") || strings.Contains(lower, "conversation") {
			relevant = append(relevant, lower)
		}
	}
	sort.Strings(relevant)

	ua := headers.Get("User-Agent")
	if ua == "" {
		ua = "not_provided"
	}
	return entity.HeadersAnalysis{RelevantHeaders: relevant, UserAgent: ua}
}
