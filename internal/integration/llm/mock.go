package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// MockConnector answers without a model. Classification prompts get neutral
// replies so callers fall back to their rules.
type MockConnector struct {
	logger *zap.Logger
}

func NewMockConnector(logger *zap.Logger) *MockConnector {
	return &MockConnector{
		logger: logger,
	}
}

func (m *MockConnector) Complete(ctx context.Context, req entity.CompletionRequest) (string, error) {
	ctxzap.Info(ctx, "[MOCK] chat completion", zap.Int("prompt_length", len(req.Prompt)))

	prompt := strings.TrimSpace(req.Prompt)
	switch {
	case req.System != "":
		return mockAnswer(prompt), nil
	case strings.HasSuffix(prompt, "Return only the category name:"):
		return string(entity.IntentGeneral), nil
	case strings.HasSuffix(prompt, "JSON:"):
		return "{}", nil
	case strings.HasSuffix(prompt, "Topic:"):
		return "", nil
	case strings.HasSuffix(prompt, "Summary:"):
		lines := strings.Count(prompt, "\n")
		return fmt.Sprintf("[MOCK] Summary of a conversation of about %d lines.", lines), nil
	default:
		return "", fmt.Errorf("%w: mock cannot answer this prompt", entity.ErrExternalService)
	}
}

func (m *MockConnector) Stream(ctx context.Context, req entity.CompletionRequest) (<-chan entity.StreamChunk, error) {
	ctxzap.Info(ctx, "[MOCK] streaming chat completion")

	text, err := m.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan entity.StreamChunk)
	go func() {
		defer close(out)
		for i, w := range strings.Fields(text) {
			if i > 0 {
				w = " " + w
			}
			select {
			case out <- entity.StreamChunk{Text: w}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *MockConnector) Ping(ctx context.Context) error {
	ctxzap.Debug(ctx, "[MOCK] llm ping")
	return nil
}

func mockAnswer(prompt string) string {
	question := prompt
	if i := strings.LastIndex(prompt, "Question:"); i >= 0 {
		question = strings.TrimSpace(prompt[i+len("Question:"):])
	}
	docs := strings.Count(prompt, "\n[")
	if strings.HasPrefix(prompt, "[") {
		docs++
	}
	return fmt.Sprintf("[MOCK] Answer to %q based on %d document(s).", question, docs)
}
