package chat

import (
	"context"
	"net/http"

	"github.com/futig/rag-chat-backend/internal/entity"
)

type ChatUsecase interface {
	ProcessTurn(ctx context.Context, req entity.TurnRequest) (entity.TurnResult, error)
	Answer(ctx context.Context, query, userID string) (entity.RAGAnswer, error)
	ResolveSession(body map[string]any, headers http.Header) entity.Resolution
	DetectUser(ctx context.Context) (string, bool)
}
