package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/futig/rag-chat-backend/internal/config"
	"github.com/futig/rag-chat-backend/internal/telegram/handlers"
	"github.com/futig/rag-chat-backend/internal/telegram/middleware"
	"github.com/futig/rag-chat-backend/internal/telegram/render"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// Bot represents the Telegram bot
type Bot struct {
	api         *tgbotapi.BotAPI
	sender      handlers.Sender
	cfg         *config.TelegramConfig
	handlers    map[string]handlers.Handler
	logger      *zap.Logger
	loggingMW   *middleware.LoggingMiddleware
	recoveryMW  *middleware.RecoveryMiddleware
	rateLimitMW *middleware.RateLimiterMiddleware
	updatesChan tgbotapi.UpdatesChannel
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// New authorizes the bot token and prepares the middleware chain
func New(cfg *config.TelegramConfig, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot API: %w", err)
	}
	api.Debug = false

	logger.Info("telegram bot authorized",
		zap.String("username", api.Self.UserName),
		zap.Int64("id", api.Self.ID),
	)

	b := newBot(cfg, api, logger)
	b.api = api
	return b, nil
}

func newBot(cfg *config.TelegramConfig, sender handlers.Sender, logger *zap.Logger) *Bot {
	return &Bot{
		sender:      sender,
		cfg:         cfg,
		logger:      logger,
		handlers:    make(map[string]handlers.Handler),
		stopChan:    make(chan struct{}),
		loggingMW:   middleware.NewLoggingMiddleware(logger),
		recoveryMW:  middleware.NewRecoveryMiddleware(logger, sender),
		rateLimitMW: middleware.NewRateLimiterMiddleware(cfg.RateLimitPerMinute, cfg.RateLimitBurst, logger, sender),
	}
}

// Start starts polling for updates
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("starting telegram bot")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.UpdateTimeout
	b.updatesChan = b.api.GetUpdatesChan(u)

	ctx = ctxzap.ToContext(ctx, b.logger)
	go b.rateLimitMW.Run(ctx)
	go b.processUpdates(ctx)

	b.logger.Info("telegram bot started successfully")
	return nil
}

// Stop stops the bot gracefully with timeout
func (b *Bot) Stop() error {
	b.logger.Info("stopping telegram bot")

	b.stopOnce.Do(func() { close(b.stopChan) })
	if b.api != nil {
		b.api.StopReceivingUpdates()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	shutdownTimeout := time.Duration(b.cfg.ShutdownTimeout) * time.Second
	select {
	case <-done:
		b.logger.Info("all handlers completed gracefully")
	case <-time.After(shutdownTimeout):
		b.logger.Warn("shutdown timeout exceeded, some handlers may not have completed",
			zap.Duration("timeout", shutdownTimeout),
		)
		return fmt.Errorf("shutdown timeout exceeded")
	}

	b.logger.Info("telegram bot stopped successfully")
	return nil
}

func (b *Bot) processUpdates(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			ctxzap.Info(ctx, "context cancelled, stopping update processing")
			return
		case <-b.stopChan:
			ctxzap.Info(ctx, "stop signal received, stopping update processing")
			return
		case update, ok := <-b.updatesChan:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func(u tgbotapi.Update) {
				defer b.wg.Done()
				b.handleUpdateWithMiddleware(ctx, u)
			}(update)
		}
	}
}

// handleUpdateWithMiddleware runs rate limiting, logging and recovery around
// the routing
func (b *Bot) handleUpdateWithMiddleware(ctx context.Context, update tgbotapi.Update) {
	b.rateLimitMW.Handle(update, func(u tgbotapi.Update) {
		b.loggingMW.Handle(u, func(u2 tgbotapi.Update) {
			b.recoveryMW.Handle(u2, func(u3 tgbotapi.Update) {
				b.handleUpdate(ctx, u3)
			})
		})
	})
}

// handleUpdate routes commands by name and plain text to the chat handler
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	message := update.Message
	if message == nil || message.From == nil {
		return
	}

	msg := &handlers.Message{
		ChatID:    message.Chat.ID,
		UserID:    message.From.ID,
		MessageID: message.MessageID,
		Text:      message.Text,
	}

	route := handlers.RouteText
	if message.IsCommand() {
		route = message.Command()
		msg.Args = message.CommandArguments()
		ctxzap.Info(ctx, "command received",
			zap.String("command", route),
			zap.Int64("user_id", msg.UserID),
		)
	}

	handler, exists := b.handlers[route]
	if !exists {
		b.sendError(msg.ChatID, render.MsgUnknownCommand)
		return
	}

	if err := handler.Handle(ctx, msg); err != nil {
		ctxzap.Error(ctx, "handler error",
			zap.Error(err),
			zap.String("route", route),
			zap.Int64("user_id", msg.UserID),
		)
		b.sendError(msg.ChatID, render.ErrGeneric)
	}
}

func (b *Bot) sendError(chatID int64, text string) {
	if _, err := b.sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error("failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID),
		)
	}
}

// RegisterHandler registers a handler for its route
func (b *Bot) RegisterHandler(handler handlers.Handler) {
	route := handler.GetRoute()
	if !handlers.IsValidRoute(route) {
		b.logger.Fatal("invalid handler route", zap.String("route", route))
	}

	b.handlers[route] = handler
	b.logger.Info("handler registered", zap.String("route", route))
}

// Sender returns the Telegram client handlers send through
func (b *Bot) Sender() handlers.Sender {
	return b.sender
}
