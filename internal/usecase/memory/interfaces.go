package memory

import (
	"context"
	"time"

	"github.com/futig/rag-chat-backend/internal/entity"
)

// KVStore is the cache substrate. Get returns entity.ErrCacheMiss for absent
// keys.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

type Summarizer interface {
	SummarizeMessages(ctx context.Context, messages []entity.ChatMessage) (string, error)
}

// Observer is notified about finished summarization runs.
type Observer interface {
	SummarizationFinished(outcome string)
}
