package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/futig/rag-chat-backend/internal/config"
	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/pkg/formatter"
	"github.com/futig/rag-chat-backend/internal/usecase/analyzer"
	"github.com/futig/rag-chat-backend/internal/usecase/memory"
	"github.com/futig/rag-chat-backend/internal/usecase/resolver"
	"github.com/futig/rag-chat-backend/internal/usecase/rewriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mapKV struct {
	mu      sync.Mutex
	data    map[string][]byte
	failSet error
	failKey func(key string) error
	pingErr error
}

func newMapKV() *mapKV {
	return &mapKV{data: map[string][]byte{}}
}

func (m *mapKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, entity.ErrCacheMiss
	}
	return append([]byte(nil), v...), nil
}

func (m *mapKV) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	if m.failKey != nil {
		if err := m.failKey(key); err != nil {
			return err
		}
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *mapKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *mapKV) Ping(context.Context) error { return m.pingErr }

type fakeRetriever struct {
	mu      sync.Mutex
	docs    []entity.RetrievedDocument
	err     error
	queries []string
	pingErr error
	owner   string
}

func (f *fakeRetriever) Search(_ context.Context, query, _ string, limit int) ([]entity.RetrievedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	docs := f.docs
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (f *fakeRetriever) Ping(context.Context) error { return f.pingErr }

func (f *fakeRetriever) DetectOwner(context.Context) (string, error) {
	if f.owner == "" {
		return "", errors.New("no documents")
	}
	return f.owner, nil
}

func (f *fakeRetriever) lastQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return ""
	}
	return f.queries[len(f.queries)-1]
}

type fakeLLM struct {
	mu       sync.Mutex
	reply    string
	err      error
	chunks   []string
	hold     bool
	requests []entity.CompletionRequest
}

func (f *fakeLLM) Complete(_ context.Context, req entity.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func (f *fakeLLM) Stream(ctx context.Context, req entity.CompletionRequest) (<-chan entity.StreamChunk, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	chunks, hold, err := f.chunks, f.hold, f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan entity.StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- entity.StreamChunk{Text: c}:
			case <-ctx.Done():
				return
			}
		}
		if hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

type memRegistry struct {
	mu       sync.Mutex
	sessions map[string]entity.ChatSession
	touchErr error
}

func newMemRegistry() *memRegistry {
	return &memRegistry{sessions: map[string]entity.ChatSession{}}
}

func (r *memRegistry) Create(_ context.Context, s entity.ChatSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

func (r *memRegistry) Touch(_ context.Context, s entity.ChatSession, added int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.touchErr != nil {
		return r.touchErr
	}
	existing, ok := r.sessions[s.ID]
	if !ok {
		existing = s
	}
	existing.MessageCount += added
	existing.UpdatedAt = s.UpdatedAt
	r.sessions[s.ID] = existing
	return nil
}

func (r *memRegistry) Get(_ context.Context, id string) (entity.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return entity.ChatSession{}, entity.ErrSessionNotFound
	}
	return s, nil
}

func (r *memRegistry) ListByUser(_ context.Context, userID string, limit, offset int) ([]entity.ChatSession, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.ChatSession
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	if offset >= total {
		return []entity.ChatSession{}, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *memRegistry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return entity.ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

type recordedTurn struct {
	state    entity.TurnState
	degraded bool
}

type fakeRecorder struct {
	mu    sync.Mutex
	turns []recordedTurn
	calls map[string]int
}

func (r *fakeRecorder) TurnFinished(state entity.TurnState, degraded bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, recordedTurn{state, degraded})
}

func (r *fakeRecorder) ExternalCall(service string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[service]++
}

type harness struct {
	svc       *Service
	kv        *mapKV
	store     *memory.Store
	retriever *fakeRetriever
	llm       *fakeLLM
	registry  *memRegistry
	recorder  *fakeRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		kv:        newMapKV(),
		retriever: &fakeRetriever{docs: []entity.RetrievedDocument{{Content: "TCS is an IT services company.", Filename: "tcs.md", Score: 0.9, DocumentID: "doc-1"}}},
		llm:       &fakeLLM{reply: "TCS is Tata Consultancy Services."},
		registry:  newMemRegistry(),
		recorder:  &fakeRecorder{},
	}

	clock := func() time.Time { return testNow }
	h.store = memory.NewStore(h.kv, nil, config.MemoryConfig{
		CacheTTL:           time.Hour,
		ShortTermLimit:     10,
		SummaryThreshold:   16,
		MaxContextMessages: 10,
		MaxMemories:        3,
		ImportanceWeight:   1,
		AccessWeight:       0.25,
		RelevanceWeight:    1,
	}, zap.NewNop(), memory.WithClock(clock))
	t.Cleanup(h.store.Wait)

	logger := zap.NewNop()
	h.svc = NewService(
		resolver.New(resolver.WithClock(clock)),
		h.store,
		analyzer.NewAnalyzer(config.AnalyzerConfig{TopicOverlapThreshold: 0.3}, nil, logger),
		rewriter.NewRewriter(config.RewriterConfig{UseLLM: false, RecentMessages: 6}, nil, logger),
		h.retriever,
		h.llm,
		h.registry,
		formatter.NewFactory(),
		config.ChatConfig{
			ResponseModel:      "test-model",
			MaxRetrievedDocs:   5,
			ContextWindowLimit: 4000,
			GenerationTimeout:  time.Second,
			RetrievalTimeout:   time.Second,
			CacheTimeout:       time.Second,
		},
		logger,
		WithRecorder(h.recorder),
		WithClock(clock),
	)
	return h
}

func (h *harness) messages(t *testing.T, sessionID string) []entity.ChatMessage {
	t.Helper()
	msgs, err := h.store.Messages(context.Background(), sessionID, 0)
	require.NoError(t, err)
	return msgs
}

func (h *harness) state(t *testing.T, sessionID string) entity.ConversationState {
	t.Helper()
	st, err := h.store.LoadState(context.Background(), sessionID)
	require.NoError(t, err)
	return st
}

func TestProcessTurn_FollowUpResolvesReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.ProcessTurn(ctx, entity.TurnRequest{UserID: "alice", Message: "What is TCS?"})
	require.NoError(t, err)

	assert.Equal(t, "conv_alice_446800a7", first.SessionID)
	assert.Equal(t, "TCS is Tata Consultancy Services.", first.Response)
	assert.Equal(t, entity.IntentDefinition, first.Metadata.Intent)
	assert.Equal(t, entity.StateDone, first.Metadata.State)
	assert.Equal(t, entity.StrategyEssence, first.Metadata.ResolutionStrategy)
	assert.True(t, first.Metadata.IsInferred)
	assert.Equal(t, 1, first.Metadata.ConversationDepth)
	assert.Equal(t, []string{"tcs.md"}, first.Metadata.Sources)
	assert.False(t, first.Metadata.ContextUsed)

	sessionID := first.SessionID
	second, err := h.svc.ProcessTurn(ctx, entity.TurnRequest{UserID: "alice", SessionID: &sessionID, Message: "How can it improve?"})
	require.NoError(t, err)

	assert.Equal(t, sessionID, second.SessionID)
	assert.Equal(t, entity.StrategyDirect, second.Metadata.ResolutionStrategy)
	assert.Equal(t, entity.IntentImprovement, second.Metadata.Intent)
	assert.Equal(t, "How can TCS improve?", second.Metadata.RewrittenQuery)
	assert.Contains(t, h.retriever.lastQuery(), "TCS")
	assert.True(t, second.Metadata.ContextUsed)
	assert.Equal(t, 2, second.Metadata.ConversationDepth)

	msgs := h.messages(t, sessionID)
	require.Len(t, msgs, 4)
	assert.Equal(t, "How can it improve?", msgs[2].Content)
	assert.Equal(t, "How can TCS improve?", msgs[3].Metadata[entity.MetaRewritten])

	st := h.state(t, sessionID)
	assert.Equal(t, "alice", st.UserID)
	assert.Equal(t, "TCS", st.CurrentEntities["organization"])
	assert.Equal(t, []entity.Intent{entity.IntentDefinition, entity.IntentImprovement}, st.IntentHistory)
	assert.Equal(t, []string{"doc-1"}, st.LastRetrievedDocs)

	session, err := h.registry.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 4, session.MessageCount)
	assert.Equal(t, "What is TCS?", session.Title)

	assert.Equal(t, []recordedTurn{{entity.StateDone, false}, {entity.StateDone, false}}, h.recorder.turns)
}

func TestProcessTurn_PromptCarriesContext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.ProcessTurn(ctx, entity.TurnRequest{UserID: "alice", Message: "What is TCS?"})
	require.NoError(t, err)
	sessionID := first.SessionID
	_, err = h.svc.ProcessTurn(ctx, entity.TurnRequest{SessionID: &sessionID, Message: "How can it improve?"})
	require.NoError(t, err)

	require.Len(t, h.llm.requests, 2)
	req := h.llm.requests[1]
	assert.Equal(t, "test-model", req.Model)
	assert.Contains(t, req.System, intentGuidance[entity.IntentImprovement])
	assert.Contains(t, req.Prompt, "USER: What is TCS?")
	assert.Contains(t, req.Prompt, "[1] tcs.md:")
	assert.True(t, strings.HasSuffix(req.Prompt, "Question: How can TCS improve?"))
}

func TestProcessTurn_EmptyMessage(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.ProcessTurn(context.Background(), entity.TurnRequest{UserID: "alice", Message: "   "})
	assert.ErrorIs(t, err, entity.ErrMissingField)
}

func TestProcessTurn_RetrievalFailureDegrades(t *testing.T) {
	h := newHarness(t)
	h.retriever.err = errors.New("connection refused")

	res, err := h.svc.ProcessTurn(context.Background(), entity.TurnRequest{UserID: "alice", Message: "What is TCS?"})
	require.NoError(t, err)

	assert.Equal(t, apologyResponse, res.Response)
	assert.Equal(t, entity.StateError, res.Metadata.State)
	assert.True(t, res.Metadata.Degraded)
	assert.Contains(t, res.Metadata.Error, "connection refused")
	assert.Empty(t, h.llm.requests)

	msgs := h.messages(t, res.SessionID)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Contains(t, m.Metadata[entity.MetaError], "connection refused")
	}
	assert.Equal(t, apologyResponse, msgs[1].Content)

	st := h.state(t, res.SessionID)
	assert.Equal(t, 1, st.ConversationDepth)
	assert.Empty(t, st.IntentHistory)
	assert.Empty(t, st.CurrentEntities)
	assert.Nil(t, st.CurrentTopic)
	assert.Equal(t, []recordedTurn{{entity.StateError, true}}, h.recorder.turns)
}

func TestProcessTurn_GenerationFailureUsesDocuments(t *testing.T) {
	h := newHarness(t)
	h.llm.err = errors.New("rate limited")

	res, err := h.svc.ProcessTurn(context.Background(), entity.TurnRequest{UserID: "alice", Message: "What is TCS?"})
	require.NoError(t, err)

	assert.Equal(t, entity.StateError, res.Metadata.State)
	assert.True(t, res.Metadata.Degraded)
	assert.Contains(t, res.Response, "tcs.md")
	assert.Contains(t, res.Response, "TCS is an IT services company.")
	assert.Equal(t, []string{"tcs.md"}, res.Metadata.Sources)
}

func TestProcessTurn_EmptyCompletionDegrades(t *testing.T) {
	h := newHarness(t)
	h.llm.reply = "  "
	h.retriever.docs = nil

	res, err := h.svc.ProcessTurn(context.Background(), entity.TurnRequest{UserID: "alice", Message: "What is TCS?"})
	require.NoError(t, err)
	assert.Equal(t, apologyResponse, res.Response)
	assert.Contains(t, res.Metadata.Error, entity.ErrMalformedModelOutput.Error())
}

func TestProcessTurn_PersistFailureKeepsAnswer(t *testing.T) {
	h := newHarness(t)
	h.kv.failSet = errors.New("read-only replica")

	res, err := h.svc.ProcessTurn(context.Background(), entity.TurnRequest{UserID: "alice", Message: "What is TCS?"})
	require.NoError(t, err)

	assert.Equal(t, "TCS is Tata Consultancy Services.", res.Response)
	assert.Equal(t, entity.StateError, res.Metadata.State)
	assert.True(t, res.Metadata.Degraded)
	assert.Contains(t, res.Metadata.Error, "read-only replica")
}

func TestProcessTurn_BufferFailureDoesNotAdvanceState(t *testing.T) {
	h := newHarness(t)
	h.kv.failKey = func(key string) error {
		if strings.HasSuffix(key, ":messages") {
			return errors.New("buffer unavailable")
		}
		return nil
	}

	res, err := h.svc.ProcessTurn(context.Background(), entity.TurnRequest{UserID: "alice", Message: "What is TCS?"})
	require.NoError(t, err)
	assert.Equal(t, entity.StateError, res.Metadata.State)
	assert.Equal(t, "TCS is Tata Consultancy Services.", res.Response)

	st := h.state(t, res.SessionID)
	assert.Equal(t, 1, st.ConversationDepth)
	assert.Empty(t, st.IntentHistory)
	assert.Empty(t, st.CurrentEntities)
	assert.Nil(t, st.CurrentTopic)
	assert.Empty(t, h.messages(t, res.SessionID))
}

func TestProcessTurn_StateFailureKeepsBufferedTurn(t *testing.T) {
	h := newHarness(t)
	failed := false
	h.kv.failKey = func(key string) error {
		if strings.HasSuffix(key, ":state") && !failed {
			failed = true
			return errors.New("state write lost")
		}
		return nil
	}

	res, err := h.svc.ProcessTurn(context.Background(), entity.TurnRequest{UserID: "alice", Message: "What is TCS?"})
	require.NoError(t, err)
	assert.Equal(t, entity.StateError, res.Metadata.State)

	msgs := h.messages(t, res.SessionID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "What is TCS?", msgs[0].Content)

	st := h.state(t, res.SessionID)
	assert.Equal(t, 1, st.ConversationDepth)
	assert.Empty(t, st.IntentHistory)
	assert.Empty(t, st.CurrentEntities)
}

func TestAdvanceState_IntentHistoryIsAppendOnly(t *testing.T) {
	history := make([]entity.Intent, 60)
	for i := range history {
		history[i] = entity.IntentExplanation
	}
	state := entity.ConversationState{SessionID: "s1", UserID: "alice", IntentHistory: history}

	next := advanceState(state, &turn{intent: entity.IntentDefinition}, testNow)

	require.Len(t, next.IntentHistory, 61)
	assert.Equal(t, entity.IntentExplanation, next.IntentHistory[0])
	assert.Equal(t, entity.IntentDefinition, next.IntentHistory[60])
	assert.Len(t, state.IntentHistory, 60)
}

func TestProcessTurn_RegistryFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.registry.touchErr = errors.New("db down")

	res, err := h.svc.ProcessTurn(context.Background(), entity.TurnRequest{UserID: "alice", Message: "What is TCS?"})
	require.NoError(t, err)
	assert.Equal(t, entity.StateDone, res.Metadata.State)
	assert.Len(t, h.messages(t, res.SessionID), 2)
}

func TestProcessTurn_SessionTurnsAreSerialized(t *testing.T) {
	h := newHarness(t)
	sessionID := "shared"

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.ProcessTurn(context.Background(), entity.TurnRequest{
				UserID:    "alice",
				SessionID: &sessionID,
				Message:   fmt.Sprintf("question number %d", i),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, h.state(t, sessionID).ConversationDepth)
	msgs := h.messages(t, sessionID)
	require.Len(t, msgs, 10)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, entity.RoleUser, msgs[i].Role)
		assert.Equal(t, entity.RoleAssistant, msgs[i+1].Role)
	}
}

func TestProcessTurn_AnonymousUserOverride(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.ProcessTurn(context.Background(), entity.TurnRequest{
		UserID:  "bob",
		Message: "What is TCS?",
		Body:    map[string]any{"session_id": "from-body"},
	})
	require.NoError(t, err)
	assert.Equal(t, "from-body", res.SessionID)
	assert.Equal(t, "bob", res.Metadata.UserID)
}

func drain(t *testing.T, res entity.TurnResult) (string, entity.TurnMetadata) {
	t.Helper()
	require.NotNil(t, res.Stream)
	var b strings.Builder
	for chunk := range res.Stream {
		b.WriteString(chunk)
	}
	select {
	case md := <-res.Done:
		return b.String(), md
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not report completion")
		return "", entity.TurnMetadata{}
	}
}

func TestProcessTurn_Stream(t *testing.T) {
	h := newHarness(t)
	h.llm.chunks = []string{"TCS is ", "a company."}

	res, err := h.svc.ProcessTurn(context.Background(), entity.TurnRequest{UserID: "alice", Message: "What is TCS?", Stream: true})
	require.NoError(t, err)
	assert.Equal(t, "conv_alice_446800a7", res.SessionID)
	assert.Equal(t, entity.StateGenerating, res.Metadata.State)
	assert.Equal(t, []string{"tcs.md"}, res.Metadata.Sources)

	text, md := drain(t, res)
	assert.Equal(t, "TCS is a company.", text)
	assert.Equal(t, entity.StateDone, md.State)
	assert.Equal(t, 1, md.ConversationDepth)

	msgs := h.messages(t, res.SessionID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "TCS is a company.", msgs[1].Content)
	assert.Empty(t, msgs[1].Metadata[entity.MetaIncomplete])
}

func TestProcessTurn_StreamFailureSendsDegradedText(t *testing.T) {
	h := newHarness(t)
	h.llm.err = errors.New("upstream 500")

	res, err := h.svc.ProcessTurn(context.Background(), entity.TurnRequest{UserID: "alice", Message: "What is TCS?", Stream: true})
	require.NoError(t, err)

	text, md := drain(t, res)
	assert.Contains(t, text, "TCS is an IT services company.")
	assert.Equal(t, entity.StateError, md.State)
	assert.True(t, md.Degraded)
}

func TestProcessTurn_StreamCancelledKeepsPartial(t *testing.T) {
	h := newHarness(t)
	h.llm.chunks = []string{"TCS is"}
	h.llm.hold = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := h.svc.ProcessTurn(ctx, entity.TurnRequest{UserID: "alice", Message: "What is TCS?", Stream: true})
	require.NoError(t, err)

	first, ok := <-res.Stream
	require.True(t, ok)
	assert.Equal(t, "TCS is", first)
	cancel()

	_, md := drain(t, res)
	assert.Equal(t, entity.StateError, md.State)
	assert.Equal(t, context.Canceled.Error(), md.Error)

	msgs := h.messages(t, res.SessionID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "TCS is", msgs[1].Content)
	assert.Equal(t, "true", msgs[1].Metadata[entity.MetaIncomplete])

	st := h.state(t, res.SessionID)
	assert.Zero(t, st.ConversationDepth)
	assert.Empty(t, st.IntentHistory)
}

func TestSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.svc.CreateSession(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "Chat 2026-03-01 12:00", created.Title)
	assert.Equal(t, "alice", h.state(t, created.ID).UserID)

	_, err = h.svc.CreateSession(ctx, "", "x")
	assert.ErrorIs(t, err, entity.ErrMissingField)

	sessionID := created.ID
	_, err = h.svc.ProcessTurn(ctx, entity.TurnRequest{UserID: "alice", SessionID: &sessionID, Message: "What is TCS?"})
	require.NoError(t, err)

	list, total, err := h.svc.ListSessions(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].MessageCount)
	assert.Equal(t, created.Title, list[0].Title)

	msgs, err := h.svc.SessionMessages(ctx, sessionID, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, entity.RoleAssistant, msgs[0].Role)

	convCtx, err := h.svc.SessionContext(ctx, sessionID, "alice")
	require.NoError(t, err)
	assert.Len(t, convCtx.RecentMessages, 2)

	_, err = h.svc.SessionContext(ctx, sessionID, "mallory")
	assert.ErrorIs(t, err, entity.ErrSessionNotFound)

	export, err := h.svc.ExportSession(ctx, sessionID, entity.FormatMarkdown)
	require.NoError(t, err)
	assert.Equal(t, "conversation_"+sessionID+".md", export.Filename)
	assert.Contains(t, string(export.Data), created.Title)
	assert.Contains(t, string(export.Data), "What is TCS?")

	_, err = h.svc.ExportSession(ctx, sessionID, entity.ResultFormat("html"))
	assert.ErrorIs(t, err, entity.ErrUnsupportedFormat)
	_, err = h.svc.ExportSession(ctx, "missing", entity.FormatMarkdown)
	assert.ErrorIs(t, err, entity.ErrSessionNotFound)

	require.NoError(t, h.svc.DeleteSession(ctx, sessionID))
	assert.Empty(t, h.messages(t, sessionID))
	_, err = h.registry.Get(ctx, sessionID)
	assert.ErrorIs(t, err, entity.ErrSessionNotFound)
	assert.NoError(t, h.svc.DeleteSession(ctx, sessionID), "deleting twice is fine")
}

func TestSessionSummary(t *testing.T) {
	h := newHarness(t)
	summary, err := h.svc.SessionSummary(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Nil(t, summary)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	report := h.svc.Health(context.Background())
	assert.Equal(t, entity.HealthHealthy, report.Status)
	assert.Equal(t, map[string]string{"cache": entity.HealthHealthy, "retrieval": entity.HealthHealthy}, report.Services)
	assert.Empty(t, report.UnhealthyServices)

	h.retriever.pingErr = errors.New("weaviate not ready")
	h.kv.pingErr = errors.New("redis down")
	report = h.svc.Health(context.Background())
	assert.Equal(t, entity.HealthDegraded, report.Status)
	assert.Equal(t, []string{"cache", "retrieval"}, report.UnhealthyServices)
	assert.Equal(t, testNow, report.Timestamp)
}

func TestAnswer(t *testing.T) {
	h := newHarness(t)

	ans, err := h.svc.Answer(context.Background(), "What is TCS?", "")
	require.NoError(t, err)
	assert.Equal(t, "TCS is Tata Consultancy Services.", ans.Response)
	assert.Equal(t, []string{"tcs.md"}, ans.Sources)
	assert.True(t, ans.HasContext)
	assert.Equal(t, 1, ans.ContextChunks)

	_, err = h.svc.Answer(context.Background(), "", "alice")
	assert.ErrorIs(t, err, entity.ErrMissingField)

	h.retriever.err = errors.New("down")
	_, err = h.svc.Answer(context.Background(), "What is TCS?", "alice")
	assert.ErrorIs(t, err, entity.ErrExternalService)
}

func TestDetectUser(t *testing.T) {
	h := newHarness(t)
	_, ok := h.svc.DetectUser(context.Background())
	assert.False(t, ok)

	h.retriever.owner = "alice"
	user, ok := h.svc.DetectUser(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "alice", user)
}

func TestGenerateTokens(t *testing.T) {
	tokens := GenerateTokens("TCS  is a\ncompany.")
	assert.Equal(t, []string{"TCS", " is", " a", " company."}, tokens)
	assert.Equal(t, "TCS is a company.", strings.Join(tokens, ""))
	assert.Empty(t, GenerateTokens("   "))
}
