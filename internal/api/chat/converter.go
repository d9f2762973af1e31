package chat

import (
	"fmt"
	"time"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
)

const (
	defaultModel      = "rag-chat"
	completionObject  = "chat.completion"
	chunkObject       = "chat.completion.chunk"
	internalErrorType = "internal_error"
)

type completionError struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// completionResponse is an OpenAI chat completion extended with the session
// it was answered in.
type completionResponse struct {
	openai.ChatCompletionResponse
	SessionID           string                      `json:"session_id"`
	ConversationContext entity.ConversationAnalysis `json:"conversation_context"`
	Metadata            *entity.TurnMetadata        `json:"metadata,omitempty"`
	Error               *completionError            `json:"error,omitempty"`
}

type completionChunk struct {
	openai.ChatCompletionStreamResponse
	SessionID string `json:"session_id"`
}

func completionID(now time.Time) string {
	return fmt.Sprintf("chatcmpl-%d-%s", now.Unix(), uuid.New().String()[:8])
}

// estimateUsage approximates token counts as a quarter of the byte length.
func estimateUsage(prompt, completion string) openai.Usage {
	return openai.Usage{
		PromptTokens:     max(1, len(prompt)/4),
		CompletionTokens: max(1, len(completion)/4),
		TotalTokens:      max(2, (len(prompt)+len(completion))/4),
	}
}

func toCompletionResponse(id, model string, now time.Time, prompt, content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:      id,
		Object:  completionObject,
		Created: now.Unix(),
		Model:   model,
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: estimateUsage(prompt, content),
	}
}

func toChunk(id, model string, created int64, delta string, finish openai.FinishReason) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		ID:      id,
		Object:  chunkObject,
		Created: created,
		Model:   model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			Delta:        openai.ChatCompletionStreamChoiceDelta{Content: delta},
			FinishReason: finish,
		}},
	}
}

func toTurnRequest(req *entity.ConversationalRequest, stream bool) entity.TurnRequest {
	return entity.TurnRequest{
		UserID:             req.UserID,
		SessionID:          req.SessionID,
		Message:            req.Message,
		Stream:             stream,
		MaxContextMessages: req.MaxContextMessages,
	}
}
