package chat

import (
	"context"
	"net/http"
	"time"

	"github.com/futig/rag-chat-backend/internal/entity"
)

type LLMConnector interface {
	Complete(ctx context.Context, req entity.CompletionRequest) (string, error)
	Stream(ctx context.Context, req entity.CompletionRequest) (<-chan entity.StreamChunk, error)
}

type Retriever interface {
	Search(ctx context.Context, query, userID string, limit int) ([]entity.RetrievedDocument, error)
}

// OwnerDetector is implemented by retrievers that can guess the user owning
// most of the indexed documents.
type OwnerDetector interface {
	DetectOwner(ctx context.Context) (string, error)
}

// Pinger is implemented by dependencies that report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type SessionResolver interface {
	Resolve(body map[string]any, headers http.Header) entity.Resolution
}

type TextAnalyzer interface {
	ClassifyIntent(ctx context.Context, text string) entity.Intent
	ExtractEntities(ctx context.Context, text string) map[string]string
	ExtractTopic(ctx context.Context, text string) *string
	DetectTopicChange(text string, previousTopic *string) bool
}

type QueryRewriter interface {
	Rewrite(ctx context.Context, query string, recent []entity.ChatMessage, state entity.ConversationState) entity.RewriteResult
}

type MemoryStore interface {
	NewMessage(sessionID string, role entity.MessageRole, content string) entity.ChatMessage
	GetContext(ctx context.Context, sessionID, query string, maxMessages int) (entity.ConversationContext, error)
	Messages(ctx context.Context, sessionID string, limit int) ([]entity.ChatMessage, error)
	Append(ctx context.Context, sessionID string, msgs ...entity.ChatMessage) error
	LoadState(ctx context.Context, sessionID string) (entity.ConversationState, error)
	SaveState(ctx context.Context, state entity.ConversationState) error
	TouchMemories(ctx context.Context, sessionID string, ids []string) error
	Summarize(ctx context.Context, sessionID string) (string, error)
	Clear(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
}

// SessionRegistry lists sessions per user. Get returns
// entity.ErrSessionNotFound for unknown ids.
type SessionRegistry interface {
	Create(ctx context.Context, session entity.ChatSession) error
	Touch(ctx context.Context, session entity.ChatSession, addedMessages int) error
	Get(ctx context.Context, sessionID string) (entity.ChatSession, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]entity.ChatSession, int, error)
	Delete(ctx context.Context, sessionID string) error
}

// Recorder receives turn and dependency measurements.
type Recorder interface {
	TurnFinished(state entity.TurnState, degraded bool, elapsed time.Duration)
	ExternalCall(service string, elapsed time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) TurnFinished(entity.TurnState, bool, time.Duration) {}
func (nopRecorder) ExternalCall(string, time.Duration, error)        {}
