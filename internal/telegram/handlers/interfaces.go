package handlers

import (
	"context"

	"github.com/futig/rag-chat-backend/internal/entity"
	chatuc "github.com/futig/rag-chat-backend/internal/usecase/chat"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ChatUsecase is the part of the conversational service the bot talks to
type ChatUsecase interface {
	ProcessTurn(ctx context.Context, req entity.TurnRequest) (entity.TurnResult, error)
	DeleteSession(ctx context.Context, sessionID string) error
	SessionSummary(ctx context.Context, sessionID string) (*string, error)
	SummarizeSession(ctx context.Context, sessionID string) (string, error)
	ExportSession(ctx context.Context, sessionID string, format entity.ResultFormat) (chatuc.Export, error)
}

// Sender is satisfied by *tgbotapi.BotAPI
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}
