package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/futig/rag-chat-backend/internal/config"
	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mapKV struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMapKV() *mapKV {
	return &mapKV{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
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

func (m *mapKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	m.ttls[key] = ttl
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

func (m *mapKV) Ping(context.Context) error { return nil }

func (m *mapKV) snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = string(v)
	}
	return out
}

// gatedSummarizer blocks every call until release is closed when a gate is set.
type gatedSummarizer struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	reply   string
	err     error
	inputs  [][]entity.ChatMessage
	mu      sync.Mutex
}

func (g *gatedSummarizer) SummarizeMessages(_ context.Context, msgs []entity.ChatMessage) (string, error) {
	if g.calls.Add(1) == 1 && g.started != nil {
		close(g.started)
	}
	g.mu.Lock()
	g.inputs = append(g.inputs, msgs)
	g.mu.Unlock()
	if g.release != nil {
		<-g.release
	}
	return g.reply, g.err
}

type outcomes struct {
	mu  sync.Mutex
	got []string
}

func (o *outcomes) SummarizationFinished(outcome string) {
	o.mu.Lock()
	o.got = append(o.got, outcome)
	o.mu.Unlock()
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() config.MemoryConfig {
	return config.MemoryConfig{
		CacheTTL:           time.Hour,
		ShortTermLimit:     10,
		SummaryThreshold:   16,
		MaxContextMessages: 10,
		MaxMemories:        3,
		ImportanceWeight:   1,
		AccessWeight:       0.25,
		RelevanceWeight:    1,
	}
}

func newTestStore(kv KVStore, sum Summarizer, obs Observer) *Store {
	var n atomic.Int64
	opts := []Option{
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%d", n.Add(1)) }),
	}
	if obs != nil {
		opts = append(opts, WithObserver(obs))
	}
	return NewStore(kv, sum, testConfig(), zap.NewNop(), opts...)
}

func appendN(t *testing.T, s *Store, sessionID string, n int) []entity.ChatMessage {
	t.Helper()
	var out []entity.ChatMessage
	for i := range n {
		role := entity.RoleUser
		if i%2 == 1 {
			role = entity.RoleAssistant
		}
		m := s.NewMessage(sessionID, role, fmt.Sprintf("message %d", len(out)))
		require.NoError(t, s.Append(context.Background(), sessionID, m))
		out = append(out, m)
	}
	return out
}

func TestGetContext_NewSession(t *testing.T) {
	s := newTestStore(newMapKV(), &gatedSummarizer{}, nil)

	got, err := s.GetContext(context.Background(), "s1", "hello", 0)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
	assert.Empty(t, got.RecentMessages)
	assert.Nil(t, got.ContextSummary)
	assert.Equal(t, entity.IntentGeneral, got.State.CurrentIntent)
	assert.Zero(t, got.State.ConversationDepth)
	assert.Empty(t, got.Memories)
}

func TestGetContext_Idempotent(t *testing.T) {
	kv := newMapKV()
	s := newTestStore(kv, &gatedSummarizer{}, nil)
	msgs := appendN(t, s, "s1", 6)

	before := kv.snapshot()
	first, err := s.GetContext(context.Background(), "s1", "q", 4)
	require.NoError(t, err)
	second, err := s.GetContext(context.Background(), "s1", "q", 4)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, kv.snapshot())
	require.Len(t, first.RecentMessages, 4)
	assert.Equal(t, msgs[2].ID, first.RecentMessages[0].ID, "oldest first")
	assert.Equal(t, msgs[5].ID, first.RecentMessages[3].ID)
}

func TestAppend_WritesWithTTL(t *testing.T) {
	kv := newMapKV()
	s := newTestStore(kv, &gatedSummarizer{}, nil)
	appendN(t, s, "s1", 1)

	assert.Equal(t, time.Hour, kv.ttls["conv:s1:messages"])
}

func TestAppend_EvictionTriggersSingleSummarization(t *testing.T) {
	kv := newMapKV()
	sum := &gatedSummarizer{
		started: make(chan struct{}),
		release: make(chan struct{}),
		reply:   "They discussed TCS.",
	}
	obs := &outcomes{}
	s := newTestStore(kv, sum, obs)

	msgs := appendN(t, s, "s1", 17)
	<-sum.started

	// appends while the first run is in flight must not start another one
	msgs = append(msgs, appendN(t, s, "s1", 2)...)
	close(sum.release)
	s.Wait()

	assert.Equal(t, int32(1), sum.calls.Load())
	assert.Len(t, sum.inputs[0], 7)
	assert.Equal(t, []string{OutcomeSuccess}, obs.got)

	buffered, err := s.Messages(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, buffered, 12)
	assert.Equal(t, msgs[7].ID, buffered[0].ID)
	assert.Equal(t, msgs[18].ID, buffered[11].ID)

	got, err := s.GetContext(context.Background(), "s1", "TCS", 0)
	require.NoError(t, err)
	require.NotNil(t, got.ContextSummary)
	assert.Equal(t, "They discussed TCS.", *got.ContextSummary)
	require.Len(t, got.Memories, 1)
	assert.Equal(t, "general", got.Memories[0].Topic)
	assert.Equal(t, "They discussed TCS.", got.Memories[0].Summary)
}

func TestAppend_SummarizationFailureKeepsBuffer(t *testing.T) {
	sum := &gatedSummarizer{err: errors.New("model unavailable")}
	obs := &outcomes{}
	s := newTestStore(newMapKV(), sum, obs)

	appendN(t, s, "s1", 17)
	s.Wait()

	buffered, err := s.Messages(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Len(t, buffered, 17)

	state, err := s.LoadState(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, state.ContextSummary)
	assert.Equal(t, []string{OutcomeFailure}, obs.got)
}

func TestSummarize_Manual(t *testing.T) {
	t.Run("nothing to summarize", func(t *testing.T) {
		s := newTestStore(newMapKV(), &gatedSummarizer{reply: "x"}, nil)
		appendN(t, s, "s1", 3)

		_, err := s.Summarize(context.Background(), "s1")
		assert.ErrorIs(t, err, entity.ErrNothingToSummarize)
	})

	t.Run("includes earlier summary", func(t *testing.T) {
		sum := &gatedSummarizer{reply: "second"}
		s := newTestStore(newMapKV(), sum, nil)
		appendN(t, s, "s1", 12)

		earlier := "first"
		state, err := s.LoadState(context.Background(), "s1")
		require.NoError(t, err)
		state.ContextSummary = &earlier
		require.NoError(t, s.saveJSON(context.Background(), stateKey("s1"), state))

		got, err := s.Summarize(context.Background(), "s1")
		require.NoError(t, err)
		assert.Equal(t, "second", got)
		require.Len(t, sum.inputs[0], 3)
		assert.Equal(t, entity.RoleSystem, sum.inputs[0][0].Role)
		assert.Contains(t, sum.inputs[0][0].Content, "first")
	})

	t.Run("in progress", func(t *testing.T) {
		sum := &gatedSummarizer{started: make(chan struct{}), release: make(chan struct{}), reply: "x"}
		s := newTestStore(newMapKV(), sum, nil)
		appendN(t, s, "s1", 17)
		<-sum.started

		_, err := s.Summarize(context.Background(), "s1")
		assert.ErrorIs(t, err, entity.ErrSummarizationInProgress)

		close(sum.release)
		s.Wait()
	})
}

func TestClear_DuringSummarizationDropsResult(t *testing.T) {
	kv := newMapKV()
	sum := &gatedSummarizer{started: make(chan struct{}), release: make(chan struct{}), reply: "late"}
	obs := &outcomes{}
	s := newTestStore(kv, sum, obs)

	appendN(t, s, "s1", 17)
	<-sum.started
	require.NoError(t, s.Clear(context.Background(), "s1"))
	close(sum.release)
	s.Wait()

	assert.Empty(t, kv.snapshot())
	assert.Equal(t, []string{OutcomeStale}, obs.got)
}

func TestSessionsAreIndependent(t *testing.T) {
	s := newTestStore(newMapKV(), &gatedSummarizer{}, nil)
	appendN(t, s, "a", 2)
	appendN(t, s, "b", 5)

	require.NoError(t, s.Clear(context.Background(), "a"))

	a, err := s.Messages(context.Background(), "a", 0)
	require.NoError(t, err)
	b, err := s.Messages(context.Background(), "b", 0)
	require.NoError(t, err)
	assert.Empty(t, a)
	assert.Len(t, b, 5)
}

func TestTouchMemories(t *testing.T) {
	kv := newMapKV()
	s := newTestStore(kv, &gatedSummarizer{}, nil)
	require.NoError(t, s.saveJSON(context.Background(), memoriesKey("s1"), []entity.ConversationMemory{
		{ID: "m1", Topic: "pricing", ImportanceScore: 0.5},
		{ID: "m2", Topic: "security", ImportanceScore: 0.5},
	}))

	require.NoError(t, s.TouchMemories(context.Background(), "s1", []string{"m2", "missing"}))

	got, err := s.GetContext(context.Background(), "s1", "", 0)
	require.NoError(t, err)
	require.Len(t, got.Memories, 2)
	assert.Equal(t, "m2", got.Memories[0].ID)
	assert.Equal(t, 1, got.Memories[0].AccessCount)
	assert.Equal(t, testNow, got.Memories[0].LastAccessed)
}

func TestRankMemories(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMemories = 2
	older := testNow.Add(-time.Hour)

	got := rankMemories([]entity.ConversationMemory{
		{ID: "low", Topic: "a", ImportanceScore: 0.1},
		{ID: "tie-old", Topic: "b", ImportanceScore: 0.5, LastAccessed: older},
		{ID: "tie-new", Topic: "c", ImportanceScore: 0.5, LastAccessed: testNow},
	}, "", cfg)

	require.Len(t, got, 2)
	assert.Equal(t, "tie-new", got[0].ID)
	assert.Equal(t, "tie-old", got[1].ID)

	relevant := rankMemories([]entity.ConversationMemory{
		{ID: "other", Topic: "pricing", ImportanceScore: 0.5},
		{ID: "match", Topic: "security audit", ImportanceScore: 0.5},
	}, "security audit", cfg)
	assert.Equal(t, "match", relevant[0].ID)
}

func TestUpsertMemory_KeyedByTopic(t *testing.T) {
	got := upsertMemory([]entity.ConversationMemory{
		{ID: "m1", Topic: "TCS", Summary: "old", ImportanceScore: 0.8, AccessCount: 2, KeyEntities: map[string]string{"organization": "TCS"}},
	}, entity.ConversationMemory{ID: "m2", Topic: "tcs", Summary: "new", ImportanceScore: 0.4, KeyEntities: map[string]string{"technology": "ai"}})

	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "new", got[0].Summary)
	assert.Equal(t, 0.8, got[0].ImportanceScore)
	assert.Equal(t, 2, got[0].AccessCount)
	assert.Equal(t, map[string]string{"organization": "TCS", "technology": "ai"}, got[0].KeyEntities)
}

func TestSaveState_KeepsStoredSummary(t *testing.T) {
	s := newTestStore(newMapKV(), &gatedSummarizer{}, nil)
	ctx := context.Background()

	summary := "from summarization"
	stored := entity.NewConversationState("s1", "alice", testNow)
	stored.ContextSummary = &summary
	require.NoError(t, s.saveJSON(ctx, stateKey("s1"), stored))

	stale := entity.NewConversationState("s1", "alice", testNow)
	stale.ConversationDepth = 3
	require.NoError(t, s.SaveState(ctx, stale))

	got, err := s.LoadState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.ConversationDepth)
	require.NotNil(t, got.ContextSummary)
	assert.Equal(t, summary, *got.ContextSummary)
}
