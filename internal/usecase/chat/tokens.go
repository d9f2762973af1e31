package chat

import (
	"context"
	"net/http"
	"strings"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// GenerateTokens splits text into word tokens for simulated streaming.
// Every token but the first carries its leading space, so joining them
// gives back the words of text separated by single spaces.
func GenerateTokens(text string) []string {
	words := strings.Fields(text)
	tokens := make([]string, 0, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		tokens = append(tokens, w)
	}
	return tokens
}

// DetectUser guesses the user for anonymous requests from the owners of the
// indexed documents. It reports false when the retriever cannot tell.
func (s *Service) DetectUser(ctx context.Context) (string, bool) {
	d, ok := s.retriever.(OwnerDetector)
	if !ok {
		return "", false
	}
	owner, err := d.DetectOwner(ctx)
	if err != nil {
		ctxzap.Debug(ctx, "owner detection failed", zap.Error(err))
		return "", false
	}
	if owner == "" || owner == entity.AnonymousUser {
		return "", false
	}
	return owner, true
}

func (s *Service) ResolveSession(body map[string]any, headers http.Header) entity.Resolution {
	return s.resolver.Resolve(body, headers)
}
