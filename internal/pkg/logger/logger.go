package logger

import (
	"context"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

const (
	FieldAction    = "action"
	FieldSessionID = "session_id"
	FieldUserID    = "user_id"
)

// AddFields adds fields to the logger in context and returns new context
func AddFields(ctx context.Context, fields ...zap.Field) context.Context {
	return ctxzap.ToContext(ctx, ctxzap.Extract(ctx).With(fields...))
}

// WithAction names the flow the following log lines belong to.
func WithAction(ctx context.Context, action string) context.Context {
	return AddFields(ctx, zap.String(FieldAction, action))
}

// WithSession tags the context logger with a conversation. Empty ids are
// skipped so anonymous or not yet resolved requests stay untagged.
func WithSession(ctx context.Context, sessionID, userID string) context.Context {
	fields := make([]zap.Field, 0, 2)
	if sessionID != "" {
		fields = append(fields, zap.String(FieldSessionID, sessionID))
	}
	if userID != "" {
		fields = append(fields, zap.String(FieldUserID, userID))
	}
	if len(fields) == 0 {
		return ctx
	}
	return AddFields(ctx, fields...)
}
