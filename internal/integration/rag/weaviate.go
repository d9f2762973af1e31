package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/futig/rag-chat-backend/internal/config"
	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/futig/rag-chat-backend/internal/integration/common"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.uber.org/zap"
)

var errNotReady = errors.New("weaviate is not ready")

// score accepts both the string and the number encodings Weaviate uses.
type score float64

func (s *score) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("parse score %q: %w", raw, err)
	}
	*s = score(v)
	return nil
}

type weaviateObject struct {
	Content    string `json:"content"`
	Filename   string `json:"filename"`
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id"`
	Additional struct {
		ID    string `json:"id"`
		Score score  `json:"score"`
	} `json:"_additional"`
}

type getResponse struct {
	Get map[string][]weaviateObject `json:"Get"`
}

// WeaviateRetriever runs hybrid keyword and vector search over the document
// class.
type WeaviateRetriever struct {
	client *weaviate.Client
	config config.WeaviateConfig
	logger *zap.Logger
}

func NewWeaviateRetriever(cfg config.WeaviateConfig, logger *zap.Logger) (*WeaviateRetriever, error) {
	u, err := url.Parse(cfg.Url)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", cfg.Url)
	}

	clientCfg := weaviate.Config{
		Host:             u.Host,
		Scheme:           u.Scheme,
		ConnectionClient: common.NewHTTPClient(cfg.HTTPClientConfig),
	}
	if cfg.APIKey != "" {
		clientCfg.Headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}

	client, err := weaviate.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	return &WeaviateRetriever{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

// Search returns the best chunks for query. Documents are restricted to the
// user unless the user is anonymous.
func (r *WeaviateRetriever) Search(ctx context.Context, query, userID string, limit int) ([]entity.RetrievedDocument, error) {
	hybrid := r.client.GraphQL().HybridArgumentBuilder().
		WithQuery(query).
		WithAlpha(r.config.HybridAlpha)

	get := r.client.GraphQL().Get().
		WithClassName(r.config.ClassName).
		WithFields(documentFields()...).
		WithHybrid(hybrid).
		WithLimit(limit)

	if userID != "" && userID != entity.AnonymousUser {
		get = get.WithWhere(filters.Where().
			WithPath([]string{"user_id"}).
			WithOperator(filters.Equal).
			WithValueString(userID))
	}

	objects, err := r.run(ctx, get)
	if err != nil {
		return nil, fmt.Errorf("%w: weaviate search: %w", entity.ErrExternalService, err)
	}

	docs := make([]entity.RetrievedDocument, 0, len(objects))
	for _, o := range objects {
		if strings.TrimSpace(o.Content) == "" {
			continue
		}
		id := o.DocumentID
		if id == "" {
			id = o.Additional.ID
		}
		docs = append(docs, entity.RetrievedDocument{
			Content:    o.Content,
			Filename:   o.Filename,
			Score:      float64(o.Additional.Score),
			DocumentID: id,
		})
	}

	ctxzap.Debug(ctx, "weaviate search finished",
		zap.Int("documents", len(docs)),
		zap.Bool("user_filter", userID != "" && userID != entity.AnonymousUser),
	)
	return docs, nil
}

// DetectOwner returns the most frequent owner among a sample of indexed
// objects. Ties go to the lexicographically smallest user id.
func (r *WeaviateRetriever) DetectOwner(ctx context.Context) (string, error) {
	get := r.client.GraphQL().Get().
		WithClassName(r.config.ClassName).
		WithFields(graphql.Field{Name: "user_id"}).
		WithLimit(r.config.OwnerSample)

	objects, err := r.run(ctx, get)
	if err != nil {
		return "", fmt.Errorf("%w: weaviate owner sample: %w", entity.ErrExternalService, err)
	}

	counts := map[string]int{}
	for _, o := range objects {
		if o.UserID != "" && o.UserID != entity.AnonymousUser {
			counts[o.UserID]++
		}
	}
	if len(counts) == 0 {
		return "", fmt.Errorf("no document owners among %d objects", len(objects))
	}

	users := make([]string, 0, len(counts))
	for u := range counts {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if counts[users[i]] != counts[users[j]] {
			return counts[users[i]] > counts[users[j]]
		}
		return users[i] < users[j]
	})

	ctxzap.Debug(ctx, "document owner detected", zap.String("user_id", users[0]), zap.Int("objects", counts[users[0]]))
	return users[0], nil
}

func (r *WeaviateRetriever) Ping(ctx context.Context) error {
	ready, err := r.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate ready check: %w", err)
	}
	if !ready {
		return errNotReady
	}
	return nil
}

func (r *WeaviateRetriever) run(ctx context.Context, get *graphql.GetBuilder) ([]weaviateObject, error) {
	resp, err := get.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("graphql: %s", strings.Join(msgs, "; "))
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql data: %w", err)
	}
	var parsed getResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode graphql data: %w", err)
	}
	return parsed.Get[r.config.ClassName], nil
}

func documentFields() []graphql.Field {
	return []graphql.Field{
		{Name: "content"},
		{Name: "filename"},
		{Name: "user_id"},
		{Name: "document_id"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "score"},
		}},
	}
}
