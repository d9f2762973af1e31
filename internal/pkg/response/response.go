package response

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// JSON writes a JSON response
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		// Can't change the response at this point
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error logs err and writes an error response
func Error(ctx context.Context, w http.ResponseWriter, status int, message string, err error) {
	if status >= http.StatusInternalServerError {
		ctxzap.Error(ctx, message, zap.Error(err))
	} else {
		ctxzap.Warn(ctx, message, zap.Error(err))
	}

	body := entity.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	if err != nil && status < http.StatusInternalServerError {
		body.Message = message + ": " + err.Error()
	}
	JSON(w, status, body)
}

// Success writes a success response
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created writes a 201 Created response
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// UsecaseError maps domain errors to HTTP status codes.
func UsecaseError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrSessionNotFound):
		Error(ctx, w, http.StatusNotFound, "resource not found", err)
	case errors.Is(err, entity.ErrInvalidRequest), errors.Is(err, entity.ErrInvalidParameter),
		errors.Is(err, entity.ErrMissingField), errors.Is(err, entity.ErrUnsupportedFormat):
		Error(ctx, w, http.StatusBadRequest, "invalid parameter", err)
	case errors.Is(err, entity.ErrSessionExists), errors.Is(err, entity.ErrSummarizationInProgress):
		Error(ctx, w, http.StatusConflict, "conflicting request", err)
	case errors.Is(err, entity.ErrNothingToSummarize):
		Error(ctx, w, http.StatusUnprocessableEntity, "nothing to summarize", err)
	case errors.Is(err, entity.ErrExternalService), errors.Is(err, entity.ErrSummarizationFailed),
		errors.Is(err, entity.ErrMalformedModelOutput):
		Error(ctx, w, http.StatusBadGateway, "upstream service failure", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		Error(ctx, w, http.StatusServiceUnavailable, "request was not completed in time", err)
	default:
		Error(ctx, w, http.StatusInternalServerError, "internal server error", err)
	}
}
