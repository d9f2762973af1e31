package handlers

import (
	"context"
	"strconv"
)

// Routes the bot dispatches on. Commands use their own name.
const (
	RouteText    = "TEXT"
	RouteStart   = "start"
	RouteHelp    = "help"
	RouteReset   = "reset"
	RouteSummary = "summary"
	RouteExport  = "export"
)

// Message represents a normalized Telegram message
type Message struct {
	ChatID    int64
	UserID    int64
	MessageID int
	Text      string
	// Args holds the command arguments for command routes
	Args string
}

// Handler processes the messages of one route
type Handler interface {
	Handle(ctx context.Context, msg *Message) error

	// GetRoute returns the route this handler serves
	GetRoute() string
}

// BaseHandler provides common functionality for all handlers
type BaseHandler struct {
	route         string
	messageSender *MessageSender
}

// GetRoute implements Handler
func (h *BaseHandler) GetRoute() string {
	return h.route
}

// sendMessage is a convenience wrapper for messageSender.Send
func (h *BaseHandler) sendMessage(chatID int64, text string) {
	if h.messageSender != nil {
		h.messageSender.Send(chatID, text, nil)
	}
}

var validRoutes = map[string]bool{
	RouteText:    true,
	RouteStart:   true,
	RouteHelp:    true,
	RouteReset:   true,
	RouteSummary: true,
	RouteExport:  true,
}

// IsValidRoute checks if a route is valid for handler registration
func IsValidRoute(route string) bool {
	_, ok := validRoutes[route]
	return ok
}

// UserID is the conversational user id of a Telegram user.
func UserID(telegramUserID int64) string {
	return "tg_" + strconv.FormatInt(telegramUserID, 10)
}

// SessionID is the conversational session of a Telegram chat.
func SessionID(chatID int64) string {
	return "tg_" + strconv.FormatInt(chatID, 10)
}
