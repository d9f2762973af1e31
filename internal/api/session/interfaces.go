package session

import (
	"context"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/usecase/chat"
)

type SessionUsecase interface {
	CreateSession(ctx context.Context, userID, title string) (entity.ChatSession, error)
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]entity.ChatSession, int, error)
	SessionMessages(ctx context.Context, sessionID string, limit int) ([]entity.ChatMessage, error)
	SessionContext(ctx context.Context, sessionID, userID string) (entity.ConversationContext, error)
	SessionSummary(ctx context.Context, sessionID string) (*string, error)
	SummarizeSession(ctx context.Context, sessionID string) (string, error)
	ExportSession(ctx context.Context, sessionID string, format entity.ResultFormat) (chat.Export, error)
	DeleteSession(ctx context.Context, sessionID string) error
}
