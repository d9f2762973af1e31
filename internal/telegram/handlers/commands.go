package handlers

import (
	"context"
	"strings"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/telegram/render"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// TextCommandHandler answers a command with a fixed text
type TextCommandHandler struct {
	BaseHandler
	text string
}

func NewStartHandler(bot Sender, logger *zap.Logger) *TextCommandHandler {
	return &TextCommandHandler{
		BaseHandler: BaseHandler{route: RouteStart, messageSender: NewMessageSender(bot, logger)},
		text:        render.MsgWelcome,
	}
}

func NewHelpHandler(bot Sender, logger *zap.Logger) *TextCommandHandler {
	return &TextCommandHandler{
		BaseHandler: BaseHandler{route: RouteHelp, messageSender: NewMessageSender(bot, logger)},
		text:        render.MsgHelp,
	}
}

func (h *TextCommandHandler) Handle(_ context.Context, msg *Message) error {
	return h.messageSender.Send(msg.ChatID, h.text, nil)
}

// ResetHandler drops the conversation of the chat
type ResetHandler struct {
	BaseHandler
	usecase ChatUsecase
}

func NewResetHandler(bot Sender, usecase ChatUsecase, logger *zap.Logger) *ResetHandler {
	return &ResetHandler{
		BaseHandler: BaseHandler{route: RouteReset, messageSender: NewMessageSender(bot, logger)},
		usecase:     usecase,
	}
}

func (h *ResetHandler) Handle(ctx context.Context, msg *Message) error {
	if err := h.usecase.DeleteSession(ctx, SessionID(msg.ChatID)); err != nil {
		h.HandleError(ctx, msg.ChatID, err)
		return nil
	}
	ctxzap.Info(ctx, "telegram conversation reset", zap.Int64("chat_id", msg.ChatID))
	return h.messageSender.Send(msg.ChatID, render.MsgReset, nil)
}

// SummaryHandler shows the stored context summary, creating one when the
// conversation has none yet.
type SummaryHandler struct {
	BaseHandler
	usecase ChatUsecase
}

func NewSummaryHandler(bot Sender, usecase ChatUsecase, logger *zap.Logger) *SummaryHandler {
	return &SummaryHandler{
		BaseHandler: BaseHandler{route: RouteSummary, messageSender: NewMessageSender(bot, logger)},
		usecase:     usecase,
	}
}

func (h *SummaryHandler) Handle(ctx context.Context, msg *Message) error {
	sessionID := SessionID(msg.ChatID)

	summary, err := h.usecase.SessionSummary(ctx, sessionID)
	if err != nil {
		h.HandleError(ctx, msg.ChatID, err)
		return nil
	}
	if summary == nil || *summary == "" {
		s, err := h.usecase.SummarizeSession(ctx, sessionID)
		if err != nil {
			h.HandleError(ctx, msg.ChatID, err)
			return nil
		}
		summary = &s
	}
	return h.messageSender.SendLong(msg.ChatID, render.Summary(*summary))
}

// ExportHandler sends the transcript as a file, markdown unless an argument
// names another format.
type ExportHandler struct {
	BaseHandler
	usecase ChatUsecase
}

func NewExportHandler(bot Sender, usecase ChatUsecase, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{
		BaseHandler: BaseHandler{route: RouteExport, messageSender: NewMessageSender(bot, logger)},
		usecase:     usecase,
	}
}

func (h *ExportHandler) Handle(ctx context.Context, msg *Message) error {
	format := entity.FormatMarkdown
	if arg := strings.ToLower(strings.TrimSpace(msg.Args)); arg != "" {
		format = entity.ResultFormat(arg)
	}

	export, err := h.usecase.ExportSession(ctx, SessionID(msg.ChatID), format)
	if err != nil {
		h.HandleError(ctx, msg.ChatID, err)
		return nil
	}
	return h.messageSender.SendDocument(msg.ChatID, export.Filename, export.Data)
}
