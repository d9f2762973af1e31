package response

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsecaseError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{entity.ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: user_id", entity.ErrMissingField), http.StatusBadRequest},
		{entity.ErrUnsupportedFormat, http.StatusBadRequest},
		{entity.ErrSummarizationInProgress, http.StatusConflict},
		{entity.ErrNothingToSummarize, http.StatusUnprocessableEntity},
		{fmt.Errorf("summarize: %w", entity.ErrSummarizationFailed), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			UsecaseError(context.Background(), rec, tt.err)
			assert.Equal(t, tt.want, rec.Code)

			var body entity.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, http.StatusText(tt.want), body.Error)
		})
	}
}

func TestError_HidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(context.Background(), rec, http.StatusInternalServerError, "internal server error", fmt.Errorf("dsn=postgres://secret"))

	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
