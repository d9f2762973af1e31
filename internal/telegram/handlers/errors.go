package handlers

import (
	"context"
	"errors"
	"net"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/telegram/render"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity int

const (
	SeverityWarning ErrorSeverity = iota
	SeverityError
)

func (s ErrorSeverity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// HandlerError represents a structured error with user message and logging info
type HandlerError struct {
	Err         error
	UserMessage string
	LogMessage  string
	Severity    ErrorSeverity
}

// classifyHandlerError maps an error to what the user is told and how it is logged
func classifyHandlerError(err error) *HandlerError {
	if err == nil {
		return &HandlerError{
			UserMessage: render.ErrGeneric,
			LogMessage:  "unknown error",
			Severity:    SeverityWarning,
		}
	}

	switch {
	case errors.Is(err, entity.ErrNothingToSummarize):
		return &HandlerError{Err: err, UserMessage: render.MsgNothingToSummary, LogMessage: "nothing to summarize", Severity: SeverityWarning}
	case errors.Is(err, entity.ErrSummarizationInProgress):
		return &HandlerError{Err: err, UserMessage: render.ErrSummaryInProgress, LogMessage: "summarization in progress", Severity: SeverityWarning}
	case errors.Is(err, entity.ErrSessionNotFound):
		return &HandlerError{Err: err, UserMessage: render.MsgNothingToExport, LogMessage: "session not found", Severity: SeverityWarning}
	case errors.Is(err, entity.ErrUnsupportedFormat):
		return &HandlerError{Err: err, UserMessage: render.ErrUnsupportedFormat, LogMessage: "unsupported export format", Severity: SeverityWarning}
	case errors.Is(err, entity.ErrMissingField), errors.Is(err, entity.ErrInvalidRequest):
		return &HandlerError{Err: err, UserMessage: render.ErrInvalidInput, LogMessage: "invalid input", Severity: SeverityWarning}
	case errors.Is(err, entity.ErrExternalService), errors.Is(err, entity.ErrSummarizationFailed):
		return &HandlerError{Err: err, UserMessage: render.ErrServiceUnavailable, LogMessage: "external service failure", Severity: SeverityError}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &HandlerError{Err: err, UserMessage: render.ErrTimeout, LogMessage: "operation timed out", Severity: SeverityError}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		msg := render.ErrServiceUnavailable
		if netErr.Timeout() {
			msg = render.ErrTimeout
		}
		return &HandlerError{Err: err, UserMessage: msg, LogMessage: "network error", Severity: SeverityError}
	}

	return &HandlerError{
		Err:         err,
		UserMessage: render.ErrGeneric,
		LogMessage:  "handler error",
		Severity:    SeverityError,
	}
}

// HandleError logs err with its severity and tells the user what happened
func (h *BaseHandler) HandleError(ctx context.Context, chatID int64, err error) {
	if err == nil {
		return
	}

	handlerErr := classifyHandlerError(err)
	switch handlerErr.Severity {
	case SeverityError:
		ctxzap.Error(ctx, handlerErr.LogMessage, zap.Error(handlerErr.Err), zap.Int64("chat_id", chatID))
	default:
		ctxzap.Warn(ctx, handlerErr.LogMessage, zap.Error(handlerErr.Err), zap.Int64("chat_id", chatID))
	}

	h.sendMessage(chatID, handlerErr.UserMessage)
}
