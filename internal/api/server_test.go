package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chatapi "github.com/futig/rag-chat-backend/internal/api/chat"
	healthapi "github.com/futig/rag-chat-backend/internal/api/health"
	sessionapi "github.com/futig/rag-chat-backend/internal/api/session"
	"github.com/futig/rag-chat-backend/internal/config"
	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/integration/llm"
	"github.com/futig/rag-chat-backend/internal/integration/rag"
	"github.com/futig/rag-chat-backend/internal/metrics"
	"github.com/futig/rag-chat-backend/internal/pkg/formatter"
	"github.com/futig/rag-chat-backend/internal/pkg/validator"
	"github.com/futig/rag-chat-backend/internal/repository"
	"github.com/futig/rag-chat-backend/internal/usecase/analyzer"
	"github.com/futig/rag-chat-backend/internal/usecase/chat"
	"github.com/futig/rag-chat-backend/internal/usecase/memory"
	"github.com/futig/rag-chat-backend/internal/usecase/resolver"
	"github.com/futig/rag-chat-backend/internal/usecase/rewriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAPIKey = "test-key"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := zap.NewNop()

	model := llm.NewMockConnector(logger)
	an := analyzer.NewAnalyzer(config.AnalyzerConfig{TopicOverlapThreshold: 0.3, Timeout: time.Second}, model, logger)
	store := memory.NewStore(repository.NewMemoryKV(time.Hour, time.Minute), an, config.MemoryConfig{
		CacheTTL:           time.Hour,
		ShortTermLimit:     2,
		SummaryThreshold:   16,
		MaxContextMessages: 10,
		MaxMemories:        3,
		ImportanceWeight:   1,
		AccessWeight:       0.25,
		RelevanceWeight:    1,
		SummaryTimeout:     time.Second,
	}, logger)
	t.Cleanup(store.Wait)

	chatCfg := config.ChatConfig{
		ResponseModel:      "gpt-4",
		MaxRetrievedDocs:   5,
		ContextWindowLimit: 4000,
		GenerationTimeout:  5 * time.Second,
		RetrievalTimeout:   5 * time.Second,
		CacheTimeout:       time.Second,
		MaxMessageLength:   8000,
	}
	m := metrics.New()
	svc := chat.NewService(
		resolver.New(),
		store,
		an,
		rewriter.NewRewriter(config.RewriterConfig{UseLLM: false, RecentMessages: 6}, model, logger),
		rag.NewMockConnector(logger),
		model,
		repository.NewSessionMemory(),
		formatter.NewFactory(),
		chatCfg,
		logger,
		chat.WithRecorder(m),
	)

	v := validator.NewValidator(chatCfg)
	return SetupRouter(Handlers{
		Chat:    chatapi.NewHandler(svc, v),
		Session: sessionapi.NewHandler(svc, v),
		Health:  healthapi.NewHandler(svc),
		Metrics: m.Handler(),
	}, testAPIKey, logger)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// sseData returns the payloads of all data frames in order.
func sseData(t *testing.T, body string) []string {
	t.Helper()
	var out []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		if p, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
			out = append(out, p)
		}
	}
	require.NoError(t, sc.Err())
	return out
}

func TestConversational_TwoTurns(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/chat/conversational", map[string]any{
		"message": "What is retrieval?",
		"user_id": "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[entity.ConversationalResponse](t, rec)
	assert.True(t, strings.HasPrefix(first.Response, "[MOCK] Answer to"))
	assert.NotEmpty(t, first.SessionID)
	assert.Equal(t, entity.StateDone, first.Metadata.State)
	assert.Equal(t, 1, first.Metadata.ConversationDepth)
	assert.NotEmpty(t, first.Metadata.Sources)

	rec = do(t, h, http.MethodPost, "/api/chat/conversational", map[string]any{
		"message":    "How does it combine search?",
		"user_id":    "alice",
		"session_id": first.SessionID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[entity.ConversationalResponse](t, rec)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, 2, second.Metadata.ConversationDepth)
	assert.True(t, second.Metadata.ContextUsed)

	rec = do(t, h, http.MethodGet, "/api/chat/sessions/"+first.SessionID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[entity.SessionMessagesResponse](t, rec)
	assert.Equal(t, 4, msgs.TotalMessages)
	assert.Equal(t, entity.RoleUser, msgs.Messages[0].Role)
}

func TestConversational_Validation(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/chat/conversational", map[string]any{"message": "", "user_id": "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/chat/conversational", map[string]any{"message": "hi", "user_id": "alice", "stream": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/chat/conversational/stream")
}

func TestAuth(t *testing.T) {
	h := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/rag", strings.NewReader(`{"query":"x"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConversationalStream(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/chat/conversational/stream", map[string]any{
		"message": "How are follow-up questions rewritten?",
		"user_id": "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Session-ID"))

	frames := sseData(t, rec.Body.String())
	require.GreaterOrEqual(t, len(frames), 4)
	assert.Equal(t, "[DONE]", frames[len(frames)-1])

	var events []entity.StreamEvent
	for _, f := range frames[:len(frames)-1] {
		var ev entity.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(f), &ev))
		events = append(events, ev)
	}
	assert.Equal(t, "metadata", events[0].Type)
	assert.Equal(t, "chunk", events[1].Type)
	assert.Equal(t, "complete", events[len(events)-1].Type)

	complete := events[len(events)-1].Data.(map[string]any)
	assert.True(t, strings.HasPrefix(complete["full_response"].(string), "[MOCK] Answer to"))
}

func TestCompletions(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/chat/completions", map[string]any{
		"model": "librechat-model",
		"user":  "bob",
		"messages": []map[string]string{
			{"role": "system", "content": "be nice"},
			{"role": "user", "content": "How does retrieval work?"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sessionID := rec.Header().Get("X-Session-ID")
	assert.True(t, strings.HasPrefix(sessionID, "conv_bob_"), sessionID)

	var body struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens int `json:"prompt_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
		SessionID           string                      `json:"session_id"`
		ConversationContext entity.ConversationAnalysis `json:"conversation_context"`
		Error               *struct{}                   `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, strings.HasPrefix(body.ID, "chatcmpl-"))
	assert.Equal(t, "chat.completion", body.Object)
	assert.Equal(t, "librechat-model", body.Model)
	require.Len(t, body.Choices, 1)
	assert.Equal(t, "assistant", body.Choices[0].Message.Role)
	assert.Equal(t, "stop", body.Choices[0].FinishReason)
	assert.True(t, strings.HasPrefix(body.Choices[0].Message.Content, "[MOCK] Answer to"))
	assert.Equal(t, len("How does retrieval work?")/4, body.Usage.PromptTokens)
	assert.Equal(t, sessionID, body.SessionID)
	assert.Equal(t, 1, body.ConversationContext.TurnCount)
	assert.Nil(t, body.Error)

	// the same conversation start maps to the same session
	rec = do(t, h, http.MethodPost, "/api/chat/completions", map[string]any{
		"user": "bob",
		"messages": []map[string]string{
			{"role": "user", "content": "How does retrieval work?"},
			{"role": "assistant", "content": "It searches."},
			{"role": "user", "content": "Tell me more"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sessionID, rec.Header().Get("X-Session-ID"))
}

func TestCompletions_Stream(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/chat/completions", map[string]any{
		"stream":   true,
		"user":     "bob",
		"messages": []map[string]string{{"role": "user", "content": "What is retrieval?"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	frames := sseData(t, rec.Body.String())
	require.GreaterOrEqual(t, len(frames), 3)
	assert.Equal(t, "[DONE]", frames[len(frames)-1])

	type chunk struct {
		Object  string `json:"object"`
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
	}
	var text strings.Builder
	for _, f := range frames[:len(frames)-2] {
		var c chunk
		require.NoError(t, json.Unmarshal([]byte(f), &c))
		assert.Equal(t, "chat.completion.chunk", c.Object)
		text.WriteString(c.Choices[0].Delta.Content)
	}
	assert.True(t, strings.HasPrefix(text.String(), "[MOCK] Answer to"))

	var last chunk
	require.NoError(t, json.Unmarshal([]byte(frames[len(frames)-2]), &last))
	require.NotNil(t, last.Choices[0].FinishReason)
	assert.Equal(t, "stop", *last.Choices[0].FinishReason)
}

func TestCompletions_AnonymousUsesDocumentOwner(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/chat/completions", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "What is retrieval?"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Metadata entity.TurnMetadata `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "demo_user", body.Metadata.UserID)
}

func TestCompletions_NoUserMessage(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/chat/completions", map[string]any{
		"messages": []map[string]string{{"role": "system", "content": "only instructions"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRAG(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/chat/rag", map[string]any{"query": "How are follow-up questions rewritten?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[entity.RAGResponse](t, rec)
	assert.True(t, resp.Success)
	assert.True(t, resp.HasContext)
	assert.Contains(t, resp.Sources, "query-rewriting.md")
	assert.Positive(t, resp.ContextChunks)
}

func TestDebugSession(t *testing.T) {
	h := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/debug/session", strings.NewReader(
		`{"model":"m","messages":[{"role":"user","content":"What is TCS?"}]}`))
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("X-Session-ID", "client-session")
	req.Header.Set("X-User-ID", "carol")
	req.Header.Set("User-Agent", "librechat")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[entity.SessionDebugResponse](t, rec)
	assert.Equal(t, "client-session", resp.Resolution.SessionID)
	assert.Equal(t, entity.StrategyHeader, resp.Resolution.Strategy)
	assert.Equal(t, []string{"messages", "model"}, resp.RequestAnalysis.Keys)
	assert.Equal(t, 1, resp.RequestAnalysis.MessageCount)
	assert.Contains(t, resp.HeadersAnalysis.RelevantHeaders, "x-session-id")
	assert.Equal(t, "librechat", resp.HeadersAnalysis.UserAgent)
	assert.Equal(t, []string{"TCS"}, resp.ConversationContext.Topics)
}

func TestSessionsLifecycle(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/chat/sessions", map[string]any{"user_id": "dave"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[entity.ChatSession](t, rec)
	assert.True(t, strings.HasPrefix(created.Title, "Chat "))

	rec = do(t, h, http.MethodPost, "/api/chat/conversational", map[string]any{
		"message": "What is retrieval?", "user_id": "dave", "session_id": created.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// two messages fit the retained window
	rec = do(t, h, http.MethodPost, "/api/chat/sessions/"+created.ID+"/summarize", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/chat/conversational", map[string]any{
		"message": "How does it combine search?", "user_id": "dave", "session_id": created.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/chat/users/dave/sessions?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[entity.SessionListResponse](t, rec)
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, 4, list.Sessions[0].MessageCount)

	rec = do(t, h, http.MethodGet, "/api/chat/users/dave/sessions?offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/chat/sessions/"+created.ID+"/context?user_id=dave", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ctxResp := decode[entity.SessionContextResponse](t, rec)
	assert.Equal(t, 2, ctxResp.Context.State.ConversationDepth)

	rec = do(t, h, http.MethodGet, "/api/chat/sessions/"+created.ID+"/context?user_id=mallory", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/chat/sessions/"+created.ID+"/summary", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/chat/sessions/"+created.ID+"/summarize", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[entity.SessionSummaryResponse](t, rec)
	assert.Contains(t, summary.Summary, "[MOCK] Summary")

	rec = do(t, h, http.MethodGet, "/api/chat/sessions/"+created.ID+"/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, summary.Summary, decode[entity.SessionSummaryResponse](t, rec).Summary)

	rec = do(t, h, http.MethodGet, "/api/chat/sessions/"+created.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[entity.SessionMessagesResponse](t, rec).TotalMessages)

	rec = do(t, h, http.MethodGet, "/api/chat/sessions/"+created.ID+"/export?format=markdown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "conversation_"+created.ID+".md")
	assert.Contains(t, rec.Body.String(), "How does it combine search?")

	rec = do(t, h, http.MethodGet, "/api/chat/sessions/"+created.ID+"/export?format=json", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/chat/sessions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/chat/sessions/"+created.ID+"/export", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthServicesAndMetrics(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/health/services", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[entity.HealthReport](t, rec)
	assert.Equal(t, entity.HealthHealthy, report.Status)
	assert.Equal(t, map[string]string{
		"cache":     entity.HealthHealthy,
		"retrieval": entity.HealthHealthy,
		"llm":       entity.HealthHealthy,
		"registry":  entity.HealthHealthy,
	}, report.Services)

	rec = do(t, h, http.MethodPost, "/api/chat/conversational", map[string]any{"message": "What is retrieval?", "user_id": "erin"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `rag_chat_turn_total{degraded="false",state="DONE"} 1`)
}

func TestDocs(t *testing.T) {
	h := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/swagger.yaml", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/chat/conversational")
}
