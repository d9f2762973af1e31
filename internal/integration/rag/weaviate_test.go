package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/futig/rag-chat-backend/internal/config"
	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type graphqlCapture struct {
	queries []string
}

func newWeaviateServer(t *testing.T, capture *graphqlCapture, data string, ready bool) *WeaviateRetriever {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/graphql", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer wv-key", r.Header.Get("Authorization"))
		var body struct {
			Query string `json:"query"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		capture.queries = append(capture.queries, body.Query)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, data)
	})
	mux.HandleFunc("/v1/.well-known/ready", func(w http.ResponseWriter, r *http.Request) {
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/meta", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"version":"1.25.0"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	r, err := NewWeaviateRetriever(config.WeaviateConfig{
		HTTPClientConfig: config.HTTPClientConfig{
			Url:                   srv.URL,
			RequestTimeout:        5 * time.Second,
			ConnTimeout:           time.Second,
			ResponseHeaderTimeout: 5 * time.Second,
		},
		APIKey:      "wv-key",
		ClassName:   "Documents",
		HybridAlpha: 0.7,
		OwnerSample: 150,
	}, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestWeaviateRetriever_Search(t *testing.T) {
	capture := &graphqlCapture{}
	r := newWeaviateServer(t, capture, `{"data":{"Get":{"Documents":[
		{"content":"TCS is a services company.","filename":"tcs.pdf","user_id":"alice","document_id":"d1","_additional":{"id":"u1","score":"0.91"}},
		{"content":"   ","filename":"empty.pdf","user_id":"alice","document_id":"d2","_additional":{"id":"u2","score":"0.5"}},
		{"content":"Revenue grew.","filename":"report.pdf","user_id":"alice","_additional":{"id":"u3","score":0.4}}
	]}}}`, true)

	docs, err := r.Search(context.Background(), "What is TCS?", "alice", 5)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, entity.RetrievedDocument{Content: "TCS is a services company.", Filename: "tcs.pdf", Score: 0.91, DocumentID: "d1"}, docs[0])
	assert.Equal(t, "u3", docs[1].DocumentID)
	assert.InDelta(t, 0.4, docs[1].Score, 1e-9)

	require.Len(t, capture.queries, 1)
	q := capture.queries[0]
	assert.Contains(t, q, "Documents")
	assert.Contains(t, q, "hybrid")
	assert.Contains(t, q, "What is TCS?")
	assert.Contains(t, q, "alice")
}

func TestWeaviateRetriever_SearchAnonymousIsUnfiltered(t *testing.T) {
	capture := &graphqlCapture{}
	r := newWeaviateServer(t, capture, `{"data":{"Get":{"Documents":[]}}}`, true)

	docs, err := r.Search(context.Background(), "anything", entity.AnonymousUser, 3)
	require.NoError(t, err)
	assert.Empty(t, docs)

	require.Len(t, capture.queries, 1)
	assert.NotContains(t, capture.queries[0], "where")
}

func TestWeaviateRetriever_SearchGraphQLError(t *testing.T) {
	r := newWeaviateServer(t, &graphqlCapture{}, `{"errors":[{"message":"class Documents not found"}]}`, true)

	_, err := r.Search(context.Background(), "q", "alice", 3)
	require.ErrorIs(t, err, entity.ErrExternalService)
	assert.Contains(t, err.Error(), "class Documents not found")
}

func TestWeaviateRetriever_DetectOwner(t *testing.T) {
	r := newWeaviateServer(t, &graphqlCapture{}, `{"data":{"Get":{"Documents":[
		{"user_id":"bob"},{"user_id":"alice"},{"user_id":"anonymous"},
		{"user_id":""},{"user_id":"bob"},{"user_id":"alice"}
	]}}}`, true)

	owner, err := r.DetectOwner(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
}

func TestWeaviateRetriever_DetectOwnerNone(t *testing.T) {
	r := newWeaviateServer(t, &graphqlCapture{}, `{"data":{"Get":{"Documents":[{"user_id":"anonymous"}]}}}`, true)

	_, err := r.DetectOwner(context.Background())
	assert.Error(t, err)
}

func TestWeaviateRetriever_Ping(t *testing.T) {
	assert.NoError(t, newWeaviateServer(t, &graphqlCapture{}, `{}`, true).Ping(context.Background()))
	assert.Error(t, newWeaviateServer(t, &graphqlCapture{}, `{}`, false).Ping(context.Background()))
}

func TestNewWeaviateRetriever_InvalidURL(t *testing.T) {
	_, err := NewWeaviateRetriever(config.WeaviateConfig{
		HTTPClientConfig: config.HTTPClientConfig{Url: "not a url"},
	}, zap.NewNop())
	assert.Error(t, err)
}

func TestScore_UnmarshalJSON(t *testing.T) {
	var s struct {
		A score `json:"a"`
		B score `json:"b"`
		C score `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"0.25","b":0.5,"c":null}`), &s))
	assert.InDelta(t, 0.25, float64(s.A), 1e-9)
	assert.InDelta(t, 0.5, float64(s.B), 1e-9)
	assert.Zero(t, s.C)
}
