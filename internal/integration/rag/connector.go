package rag

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/futig/rag-chat-backend/internal/config"
	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/integration/common"
	pkghttp "github.com/futig/rag-chat-backend/pkg/http"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

const healthEndpoint = "/health"

type searchRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
}

type searchResult struct {
	Content    string  `json:"content"`
	Text       string  `json:"text"`
	Filename   string  `json:"filename"`
	Source     string  `json:"source"`
	Score      float64 `json:"score"`
	DocumentID string  `json:"document_id"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

// Connector retrieves documents from an external RAG service over HTTP.
type Connector struct {
	config    config.RAGConnectorConfig
	connector *pkghttp.Connector
	logger    *zap.Logger
}

func NewConnector(
	cfg config.RAGConnectorConfig,
	logger *zap.Logger,
) *Connector {
	return &Connector{
		connector: common.NewBaseConnector(cfg.HTTPClientConfig, logger),
		config:    cfg,
		logger:    logger,
	}
}

// Search posts the query to the search endpoint and normalizes the results.
func (c *Connector) Search(ctx context.Context, query, userID string, limit int) ([]entity.RetrievedDocument, error) {
	ctxzap.Debug(ctx, "searching RAG service", zap.Int("limit", limit))

	var resp searchResponse
	err := c.connector.DoRequest(ctx, http.MethodPost, c.config.SearchEndpoint, searchRequest{
		Query:  query,
		UserID: userID,
		Limit:  limit,
	}, &resp)
	if err != nil {
		ctxzap.Warn(ctx, "rag search failed", zap.Bool("temporary", pkghttp.IsTemporary(err)), zap.Error(err))
		return nil, fmt.Errorf("%w: rag search: %w", entity.ErrExternalService, err)
	}

	docs := make([]entity.RetrievedDocument, 0, len(resp.Results))
	for _, r := range resp.Results {
		content := r.Content
		if content == "" {
			content = r.Text
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		filename := r.Filename
		if filename == "" {
			filename = r.Source
		}
		docs = append(docs, entity.RetrievedDocument{
			Content:    content,
			Filename:   filename,
			Score:      r.Score,
			DocumentID: r.DocumentID,
		})
	}
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}

	ctxzap.Debug(ctx, "documents retrieved", zap.Int("count", len(docs)))
	return docs, nil
}

func (c *Connector) Ping(ctx context.Context) error {
	if err := c.connector.DoRequest(ctx, http.MethodGet, healthEndpoint, nil, nil); err != nil {
		return fmt.Errorf("rag service health: %w", err)
	}
	return nil
}
