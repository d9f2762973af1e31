package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/pkg/formatter"
	"github.com/futig/rag-chat-backend/internal/pkg/logger"
	"github.com/google/uuid"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

const (
	defaultSessionsLimit = 20
	maxSessionsLimit     = 100
	sessionTitleLayout   = "2006-01-02 15:04"
)

// Export is a rendered session transcript.
type Export struct {
	Data        []byte
	ContentType string
	Filename    string
}

func (s *Service) CreateSession(ctx context.Context, userID, title string) (entity.ChatSession, error) {
	ctx = logger.WithAction(ctx, "create_session")

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return entity.ChatSession{}, fmt.Errorf("%w: user_id", entity.ErrMissingField)
	}

	now := s.now()
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Chat " + now.Format(sessionTitleLayout)
	}

	session := entity.ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.registry.Create(ctx, session); err != nil {
		return entity.ChatSession{}, fmt.Errorf("create session: %w", err)
	}
	if err := s.memory.SaveState(ctx, entity.NewConversationState(session.ID, userID, now)); err != nil {
		return entity.ChatSession{}, fmt.Errorf("init session state: %w", err)
	}

	ctxzap.Info(ctx, "session created", zap.String("session_id", session.ID), zap.String("user_id", userID))
	return session, nil
}

// ListSessions returns a page of the user's sessions and the total count.
func (s *Service) ListSessions(ctx context.Context, userID string, limit, offset int) ([]entity.ChatSession, int, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, 0, fmt.Errorf("%w: user_id", entity.ErrMissingField)
	}
	if limit <= 0 {
		limit = defaultSessionsLimit
	}
	if limit > maxSessionsLimit {
		limit = maxSessionsLimit
	}
	if offset < 0 {
		return nil, 0, fmt.Errorf("%w: offset must not be negative", entity.ErrInvalidParameter)
	}

	sessions, total, err := s.registry.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, total, nil
}

func (s *Service) SessionMessages(ctx context.Context, sessionID string, limit int) ([]entity.ChatMessage, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", entity.ErrInvalidParameter)
	}
	msgs, err := s.memory.Messages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("session messages: %w", err)
	}
	return msgs, nil
}

// SessionContext returns what the next turn of the session would see. A
// session owned by another user is reported as not found.
func (s *Service) SessionContext(ctx context.Context, sessionID, userID string) (entity.ConversationContext, error) {
	convCtx, err := s.memory.GetContext(ctx, sessionID, "", 0)
	if err != nil {
		return entity.ConversationContext{}, fmt.Errorf("session context: %w", err)
	}
	owner := convCtx.State.UserID
	if userID != "" && owner != "" && owner != userID {
		return entity.ConversationContext{}, entity.ErrSessionNotFound
	}
	return convCtx, nil
}

// DeleteSession waits for a running turn of the session and then drops all
// of its data.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	ctx = logger.WithSession(logger.WithAction(ctx, "delete_session"), sessionID, "")

	unlock, err := s.turnLocks.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.memory.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := s.registry.Delete(ctx, sessionID); err != nil && !errors.Is(err, entity.ErrSessionNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}

	ctxzap.Info(ctx, "session deleted")
	return nil
}

func (s *Service) SummarizeSession(ctx context.Context, sessionID string) (string, error) {
	ctx = logger.WithSession(logger.WithAction(ctx, "summarize_session"), sessionID, "")

	summary, err := s.memory.Summarize(ctx, sessionID)
	if err != nil {
		return "", err
	}
	ctxzap.Info(ctx, "session summarized", zap.Int("summary_length", len(summary)))
	return summary, nil
}

// SessionSummary returns the stored context summary, nil when the session
// has not been summarized yet.
func (s *Service) SessionSummary(ctx context.Context, sessionID string) (*string, error) {
	state, err := s.memory.LoadState(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session summary: %w", err)
	}
	return state.ContextSummary, nil
}

func (s *Service) ExportSession(ctx context.Context, sessionID string, format entity.ResultFormat) (Export, error) {
	ctx = logger.WithSession(logger.WithAction(ctx, "export_session"), sessionID, "")

	f, err := s.formatters.Create(format)
	if err != nil {
		return Export{}, err
	}

	msgs, err := s.memory.Messages(ctx, sessionID, 0)
	if err != nil {
		return Export{}, fmt.Errorf("export session: %w", err)
	}
	if len(msgs) == 0 {
		return Export{}, entity.ErrSessionNotFound
	}

	state, err := s.memory.LoadState(ctx, sessionID)
	if err != nil {
		return Export{}, fmt.Errorf("export session: %w", err)
	}

	transcript := formatter.Transcript{
		SessionID: sessionID,
		UserID:    state.UserID,
		Summary:   state.ContextSummary,
		Messages:  msgs,
	}
	if session, err := s.registry.Get(ctx, sessionID); err == nil {
		transcript.Title = session.Title
	} else if !errors.Is(err, entity.ErrSessionNotFound) {
		ctxzap.Warn(ctx, "failed to read session title", zap.Error(err))
	}

	data, err := f.Format(transcript)
	if err != nil {
		return Export{}, fmt.Errorf("format transcript: %w", err)
	}

	return Export{
		Data:        data,
		ContentType: f.ContentType(),
		Filename:    "conversation_" + sessionID + f.FileExtension(),
	}, nil
}
