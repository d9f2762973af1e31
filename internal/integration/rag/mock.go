package rag

import (
	"context"
	"sort"
	"strings"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

const mockOwner = "demo_user"

var mockDocuments = []entity.RetrievedDocument{
	{
		Content:    "The platform keeps a short-term buffer of recent messages per session and condenses older turns into summaries.",
		Filename:   "architecture.md",
		Score:      0.92,
		DocumentID: "mock-architecture",
	},
	{
		Content:    "Follow-up questions are rewritten into standalone queries before retrieval, so pronouns resolve to earlier entities.",
		Filename:   "query-rewriting.md",
		Score:      0.87,
		DocumentID: "mock-rewriting",
	},
	{
		Content:    "Retrieval combines keyword and vector search. Results are filtered by the owner of the documents.",
		Filename:   "retrieval.md",
		Score:      0.81,
		DocumentID: "mock-retrieval",
	},
}

// MockConnector serves a fixed document set, ordered by word overlap with the
// query.
type MockConnector struct {
	logger *zap.Logger
}

func NewMockConnector(logger *zap.Logger) *MockConnector {
	return &MockConnector{
		logger: logger,
	}
}

func (m *MockConnector) Search(ctx context.Context, query, userID string, limit int) ([]entity.RetrievedDocument, error) {
	ctxzap.Info(ctx, "[MOCK] searching documents", zap.String("user_id", userID), zap.Int("limit", limit))

	words := strings.Fields(strings.ToLower(query))
	type scored struct {
		doc  entity.RetrievedDocument
		hits int
	}
	var matches []scored
	for _, d := range mockDocuments {
		content := strings.ToLower(d.Content)
		hits := 0
		for _, w := range words {
			if len(w) > 3 && strings.Contains(content, strings.Trim(w, "?!.,")) {
				hits++
			}
		}
		if hits > 0 {
			matches = append(matches, scored{d, hits})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].hits > matches[j].hits })
	docs := make([]entity.RetrievedDocument, 0, len(matches))
	for _, match := range matches {
		docs = append(docs, match.doc)
	}
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}

	ctxzap.Info(ctx, "[MOCK] documents found", zap.Int("count", len(docs)))
	return docs, nil
}

func (m *MockConnector) DetectOwner(ctx context.Context) (string, error) {
	ctxzap.Debug(ctx, "[MOCK] detecting document owner")
	return mockOwner, nil
}

func (m *MockConnector) Ping(ctx context.Context) error {
	ctxzap.Debug(ctx, "[MOCK] retrieval ping")
	return nil
}
