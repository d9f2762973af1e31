package analyzer

import (
	"context"

	"github.com/futig/rag-chat-backend/internal/entity"
)

type LLMConnector interface {
	Complete(ctx context.Context, req entity.CompletionRequest) (string, error)
}
