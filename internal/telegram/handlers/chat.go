package handlers

import (
	"context"
	"strings"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/pkg/logger"
	"github.com/futig/rag-chat-backend/internal/telegram/render"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// ChatHandler runs a conversational turn for every plain text message
type ChatHandler struct {
	BaseHandler
	bot     Sender
	usecase ChatUsecase
	logger  *zap.Logger
}

func NewChatHandler(bot Sender, usecase ChatUsecase, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		BaseHandler: BaseHandler{
			route:         RouteText,
			messageSender: NewMessageSender(bot, logger),
		},
		bot:     bot,
		usecase: usecase,
		logger:  logger,
	}
}

func (h *ChatHandler) Handle(ctx context.Context, msg *Message) error {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		h.sendMessage(msg.ChatID, render.MsgEmptyMessage)
		return nil
	}

	sessionID := SessionID(msg.ChatID)
	ctx = logger.WithSession(logger.WithAction(ctx, "telegram_turn"), sessionID, UserID(msg.UserID))

	typing := NewTypingNotifier(h.bot, msg.ChatID, h.logger)
	typing.Start(ctx)
	result, err := h.usecase.ProcessTurn(ctx, entity.TurnRequest{
		UserID:    UserID(msg.UserID),
		SessionID: &sessionID,
		Message:   text,
	})
	typing.Stop()
	if err != nil {
		h.HandleError(ctx, msg.ChatID, err)
		return nil
	}

	if result.Metadata.State == entity.StateError {
		ctxzap.Warn(ctx, "turn finished with error", zap.String("error", result.Metadata.Error))
	}
	return h.messageSender.SendLong(msg.ChatID, render.Answer(result.Response, result.Metadata.Sources))
}
