package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/futig/rag-chat-backend/internal/config"
	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/pkg/keylock"
	"github.com/google/uuid"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// Summarization outcomes reported to the Observer
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeStale   = "stale"
	OutcomeSkipped = "skipped"
)

const defaultMemoryTopic = "general"

var errStaleSnapshot = errors.New("buffer changed during summarization")

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observer = o
	}
}

// Store keeps the short-term buffer, the conversation state and the
// long-term memories of every session on top of a KVStore. Operations on
// the same session are serialized; different sessions never block each
// other.
type Store struct {
	kv         KVStore
	summarizer Summarizer
	cfg        config.MemoryConfig
	logger     *zap.Logger

	locks    *keylock.Locker
	now      func() time.Time
	newID    func() string
	observer Observer

	inflightMu sync.Mutex
	inflight   map[string]bool
	wg         sync.WaitGroup
}

func NewStore(kv KVStore, summarizer Summarizer, cfg config.MemoryConfig, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		kv:         kv,
		summarizer: summarizer,
		cfg:        cfg,
		logger:     logger,
		locks:      keylock.New(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		inflight:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewMessage stamps a message with an id and the store clock.
func (s *Store) NewMessage(sessionID string, role entity.MessageRole, content string) entity.ChatMessage {
	return entity.ChatMessage{
		ID:        s.newID(),
		SessionID: sessionID,
		Content:   content,
		Role:      role,
		Timestamp: s.now(),
	}
}

// GetContext returns the latest maxMessages messages (oldest first), the
// state and the best long-term memories for query. It does not modify the
// session.
func (s *Store) GetContext(ctx context.Context, sessionID, query string, maxMessages int) (entity.ConversationContext, error) {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return entity.ConversationContext{}, err
	}
	defer unlock()

	if maxMessages <= 0 {
		maxMessages = s.cfg.MaxContextMessages
	}

	msgs, err := s.loadMessages(ctx, sessionID)
	if err != nil {
		return entity.ConversationContext{}, fmt.Errorf("get context: %w", err)
	}
	if len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}

	state, err := s.loadState(ctx, sessionID)
	if err != nil {
		return entity.ConversationContext{}, fmt.Errorf("get context: %w", err)
	}

	memories, err := s.loadMemories(ctx, sessionID)
	if err != nil {
		return entity.ConversationContext{}, fmt.Errorf("get context: %w", err)
	}

	return entity.ConversationContext{
		SessionID:      sessionID,
		RecentMessages: msgs,
		ContextSummary: state.ContextSummary,
		State:          state,
		Memories:       rankMemories(memories, query, s.cfg),
	}, nil
}

// Messages returns up to limit latest buffered messages; limit <= 0 means all.
func (s *Store) Messages(ctx context.Context, sessionID string, limit int) ([]entity.ChatMessage, error) {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	msgs, err := s.loadMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// Append adds msgs to the end of the buffer and schedules a background
// summarization once the buffer grows past the summary threshold.
func (s *Store) Append(ctx context.Context, sessionID string, msgs ...entity.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	buffer, err := s.loadMessages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	buffer = append(buffer, msgs...)
	if err := s.saveJSON(ctx, messagesKey(sessionID), buffer); err != nil {
		return fmt.Errorf("append messages: %w", err)
	}

	if len(buffer) > s.cfg.SummaryThreshold {
		s.schedule(sessionID)
	}
	return nil
}

// LoadState returns the stored state or the zero state of a new session.
func (s *Store) LoadState(ctx context.Context, sessionID string) (entity.ConversationState, error) {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return entity.ConversationState{}, err
	}
	defer unlock()

	return s.loadState(ctx, sessionID)
}

// SaveState stores state. The context summary is owned by summarization, so
// the stored summary is kept whatever state carries.
func (s *Store) SaveState(ctx context.Context, state entity.ConversationState) error {
	unlock, err := s.locks.Lock(ctx, state.SessionID)
	if err != nil {
		return err
	}
	defer unlock()

	var stored entity.ConversationState
	found, err := s.loadJSON(ctx, stateKey(state.SessionID), &stored)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if found {
		state.ContextSummary = stored.ContextSummary
		state.CreatedAt = stored.CreatedAt
	} else {
		state.ContextSummary = nil
	}

	state.UpdatedAt = s.now()
	if err := s.saveJSON(ctx, stateKey(state.SessionID), state); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// TouchMemories bumps the access counters of the memories with the given ids.
func (s *Store) TouchMemories(ctx context.Context, sessionID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	memories, err := s.loadMemories(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("touch memories: %w", err)
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	now := s.now()
	touched := false
	for i := range memories {
		if wanted[memories[i].ID] {
			memories[i].AccessCount++
			memories[i].LastAccessed = now
			touched = true
		}
	}
	if !touched {
		return nil
	}

	if err := s.saveJSON(ctx, memoriesKey(sessionID), memories); err != nil {
		return fmt.Errorf("touch memories: %w", err)
	}
	return nil
}

// Clear irreversibly removes the buffer, state and memories of a session.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.kv.Delete(ctx, sessionKeys(sessionID)...); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Summarize condenses the buffer beyond the retained window right away and
// returns the new context summary.
func (s *Store) Summarize(ctx context.Context, sessionID string) (string, error) {
	if !s.acquire(sessionID) {
		return "", entity.ErrSummarizationInProgress
	}
	defer s.releaseInflight(sessionID)

	summary, err := s.summarize(ctx, sessionID)
	s.observe(err)
	return summary, err
}

// Wait blocks until every background summarization has finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

func (s *Store) schedule(sessionID string) {
	if !s.acquire(sessionID) {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.releaseInflight(sessionID)

		logger := s.logger.With(zap.String("session_id", sessionID))
		ctx := ctxzap.ToContext(context.Background(), logger)

		_, err := s.summarize(ctx, sessionID)
		s.observe(err)
		switch {
		case err == nil:
			logger.Info("buffer summarized")
		case errors.Is(err, errStaleSnapshot), errors.Is(err, entity.ErrNothingToSummarize):
			logger.Debug("summarization skipped", zap.Error(err))
		default:
			logger.Warn("background summarization failed, buffer kept", zap.Error(err))
		}
	}()
}

func (s *Store) acquire(sessionID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if s.inflight[sessionID] {
		return false
	}
	s.inflight[sessionID] = true
	return true
}

func (s *Store) releaseInflight(sessionID string) {
	s.inflightMu.Lock()
	delete(s.inflight, sessionID)
	s.inflightMu.Unlock()
}

func (s *Store) observe(err error) {
	if s.observer == nil {
		return
	}
	switch {
	case err == nil:
		s.observer.SummarizationFinished(OutcomeSuccess)
	case errors.Is(err, errStaleSnapshot):
		s.observer.SummarizationFinished(OutcomeStale)
	case errors.Is(err, entity.ErrNothingToSummarize):
		s.observer.SummarizationFinished(OutcomeSkipped)
	default:
		s.observer.SummarizationFinished(OutcomeFailure)
	}
}

// summarize snapshots the prefix under the session lock, calls the model
// without holding it and evicts the prefix only if the buffer still starts
// with it.
func (s *Store) summarize(ctx context.Context, sessionID string) (string, error) {
	prefix, state, err := s.snapshotPrefix(ctx, sessionID)
	if err != nil {
		return "", err
	}

	input := prefix
	if state.ContextSummary != nil && *state.ContextSummary != "" {
		previous := entity.ChatMessage{
			Role:    entity.RoleSystem,
			Content: "Earlier summary: " + *state.ContextSummary,
		}
		input = append([]entity.ChatMessage{previous}, prefix...)
	}

	llmCtx := ctx
	if s.cfg.SummaryTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, s.cfg.SummaryTimeout)
		defer cancel()
	}

	summary, err := s.summarizer.SummarizeMessages(llmCtx, input)
	if err != nil {
		return "", fmt.Errorf("summarize session %s: %w", sessionID, err)
	}

	if err := s.commitSummary(ctx, sessionID, prefix, summary); err != nil {
		return "", err
	}
	return summary, nil
}

func (s *Store) snapshotPrefix(ctx context.Context, sessionID string) ([]entity.ChatMessage, entity.ConversationState, error) {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, entity.ConversationState{}, err
	}
	defer unlock()

	msgs, err := s.loadMessages(ctx, sessionID)
	if err != nil {
		return nil, entity.ConversationState{}, fmt.Errorf("summarize: %w", err)
	}
	if len(msgs) <= s.cfg.ShortTermLimit {
		return nil, entity.ConversationState{}, entity.ErrNothingToSummarize
	}

	state, err := s.loadState(ctx, sessionID)
	if err != nil {
		return nil, entity.ConversationState{}, fmt.Errorf("summarize: %w", err)
	}

	cut := len(msgs) - s.cfg.ShortTermLimit
	prefix := make([]entity.ChatMessage, cut)
	copy(prefix, msgs[:cut])
	return prefix, state, nil
}

func (s *Store) commitSummary(ctx context.Context, sessionID string, prefix []entity.ChatMessage, summary string) error {
	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	msgs, err := s.loadMessages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("commit summary: %w", err)
	}
	if !hasPrefix(msgs, prefix) {
		return errStaleSnapshot
	}

	state, err := s.loadState(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("commit summary: %w", err)
	}
	memories, err := s.loadMemories(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("commit summary: %w", err)
	}

	now := s.now()
	topic := defaultMemoryTopic
	if state.CurrentTopic != nil && *state.CurrentTopic != "" {
		topic = *state.CurrentTopic
	}
	memories = upsertMemory(memories, entity.ConversationMemory{
		ID:              s.newID(),
		UserID:          state.UserID,
		SessionID:       sessionID,
		Topic:           topic,
		Summary:         summary,
		KeyEntities:     collectEntities(prefix),
		ImportanceScore: importance(prefix),
		LastAccessed:    now,
		CreatedAt:       now,
	})

	state.ContextSummary = &summary
	state.UpdatedAt = now

	// the buffer is written last so a failed write above leaves it intact
	if err := s.saveJSON(ctx, memoriesKey(sessionID), memories); err != nil {
		return fmt.Errorf("commit summary: %w", err)
	}
	if err := s.saveJSON(ctx, stateKey(sessionID), state); err != nil {
		return fmt.Errorf("commit summary: %w", err)
	}
	if err := s.saveJSON(ctx, messagesKey(sessionID), msgs[len(prefix):]); err != nil {
		return fmt.Errorf("commit summary: %w", err)
	}
	return nil
}

func hasPrefix(msgs, prefix []entity.ChatMessage) bool {
	if len(msgs) < len(prefix) {
		return false
	}
	for i := range prefix {
		if msgs[i].ID != prefix[i].ID {
			return false
		}
	}
	return true
}

func (s *Store) loadMessages(ctx context.Context, sessionID string) ([]entity.ChatMessage, error) {
	var msgs []entity.ChatMessage
	if _, err := s.loadJSON(ctx, messagesKey(sessionID), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Store) loadState(ctx context.Context, sessionID string) (entity.ConversationState, error) {
	var state entity.ConversationState
	found, err := s.loadJSON(ctx, stateKey(sessionID), &state)
	if err != nil {
		return entity.ConversationState{}, err
	}
	if !found {
		return entity.NewConversationState(sessionID, "", s.now()), nil
	}
	if state.CurrentEntities == nil {
		state.CurrentEntities = map[string]string{}
	}
	return state, nil
}

func (s *Store) loadMemories(ctx context.Context, sessionID string) ([]entity.ConversationMemory, error) {
	var memories []entity.ConversationMemory
	if _, err := s.loadJSON(ctx, memoriesKey(sessionID), &memories); err != nil {
		return nil, err
	}
	return memories, nil
}

func (s *Store) loadJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, entity.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) saveJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, raw, s.cfg.CacheTTL); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
