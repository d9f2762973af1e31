package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/pkg/logger"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// Answer is a single retrieval augmented completion without conversation
// memory.
func (s *Service) Answer(ctx context.Context, query, userID string) (entity.RAGAnswer, error) {
	ctx = logger.WithAction(ctx, "rag_answer")

	query = strings.TrimSpace(query)
	if query == "" {
		return entity.RAGAnswer{}, fmt.Errorf("%w: query", entity.ErrMissingField)
	}
	if userID == "" {
		userID = entity.AnonymousUser
	}

	rctx, cancel := withTimeout(ctx, s.cfg.RetrievalTimeout)
	start := time.Now()
	docs, err := s.retriever.Search(rctx, query, userID, s.cfg.MaxRetrievedDocs)
	cancel()
	s.recorder.ExternalCall("retrieval", time.Since(start), err)
	if err != nil {
		return entity.RAGAnswer{}, fmt.Errorf("%w: retrieval: %w", entity.ErrExternalService, err)
	}

	gctx, cancel := withTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()
	start = time.Now()
	out, err := s.llm.Complete(gctx, s.buildCompletion(generationInput{query: query, docs: docs}))
	s.recorder.ExternalCall("llm", time.Since(start), err)
	if err != nil {
		return entity.RAGAnswer{}, fmt.Errorf("%w: generation: %w", entity.ErrExternalService, err)
	}

	ctxzap.Info(ctx, "rag answer generated", zap.Int("context_chunks", len(docs)))
	return entity.RAGAnswer{
		Response:      strings.TrimSpace(out),
		Sources:       sourcesOf(docs),
		HasContext:    len(docs) > 0,
		ContextChunks: len(docs),
	}, nil
}
