package telegram

import (
	"context"
	"fmt"

	"github.com/futig/rag-chat-backend/internal/config"
	"github.com/futig/rag-chat-backend/internal/telegram/bot"
	"github.com/futig/rag-chat-backend/internal/telegram/handlers"
	"go.uber.org/zap"
)

// Bot is the main telegram bot interface
type Bot interface {
	Start(ctx context.Context) error
	Stop() error
}

// NewBot initializes the telegram bot with all dependencies
func NewBot(cfg *config.TelegramConfig, chat handlers.ChatUsecase, logger *zap.Logger) (Bot, error) {
	b, err := bot.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	registerHandlers(b, chat, logger)
	logger.Info("telegram bot initialized successfully")
	return b, nil
}

func registerHandlers(b *bot.Bot, chat handlers.ChatUsecase, logger *zap.Logger) {
	sender := b.Sender()

	b.RegisterHandler(handlers.NewChatHandler(sender, chat, logger))
	b.RegisterHandler(handlers.NewStartHandler(sender, logger))
	b.RegisterHandler(handlers.NewHelpHandler(sender, logger))
	b.RegisterHandler(handlers.NewResetHandler(sender, chat, logger))
	b.RegisterHandler(handlers.NewSummaryHandler(sender, chat, logger))
	b.RegisterHandler(handlers.NewExportHandler(sender, chat, logger))
}
