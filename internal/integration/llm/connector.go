package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/futig/rag-chat-backend/internal/config"
	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/integration/common"
	pkghttp "github.com/futig/rag-chat-backend/pkg/http"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const streamBuffer = 16

// Connector talks to an OpenAI compatible chat completions API.
type Connector struct {
	client *openai.Client
	config config.OpenAIConfig
	logger *zap.Logger
}

func NewConnector(cfg config.OpenAIConfig, logger *zap.Logger) *Connector {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Url != "" {
		clientCfg.BaseURL = cfg.Url
	}
	clientCfg.HTTPClient = common.NewHTTPClient(cfg.HTTPClientConfig, pkghttp.WithStreaming())

	return &Connector{
		client: openai.NewClientWithConfig(clientCfg),
		config: cfg,
		logger: logger,
	}
}

func (c *Connector) Complete(ctx context.Context, req entity.CompletionRequest) (string, error) {
	ctxzap.Debug(ctx, "requesting chat completion", zap.String("model", req.Model), zap.Int("prompt_length", len(req.Prompt)))

	resp, err := c.client.CreateChatCompletion(ctx, chatRequest(req))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", wrapError(err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", entity.ErrMalformedModelOutput)
	}

	ctxzap.Debug(ctx, "chat completion received",
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

// Stream sends the completion in increments. The channel is closed after the
// last chunk; a failure is reported as a final chunk carrying Err.
func (c *Connector) Stream(ctx context.Context, req entity.CompletionRequest) (<-chan entity.StreamChunk, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, chatRequest(req))
	if err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", wrapError(err))
	}

	out := make(chan entity.StreamChunk, streamBuffer)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case out <- entity.StreamChunk{Err: wrapError(err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case out <- entity.StreamChunk{Text: resp.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Ping lists the available models, which needs a valid key.
func (c *Connector) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", wrapError(err))
	}
	return nil
}

func chatRequest(req entity.CompletionRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

func wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: openai status %d: %s", entity.ErrExternalService, apiErr.HTTPStatusCode, apiErr.Message)
	}
	return fmt.Errorf("%w: %w", entity.ErrExternalService, err)
}
