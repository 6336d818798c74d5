package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-agent-go/internal/config"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.CreateEmbedding(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) ModelVersion() string { return "fake-e5" }

func newSearchServer(t *testing.T, status int, hits []map[string]any, gotBody *map[string]any) (*httptest.Server, *elasticsearch.Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		assert.True(t, strings.HasSuffix(r.URL.Path, "/math-docs/_search"), r.URL.Path)
		if gotBody != nil {
			_ = json.NewDecoder(r.Body).Decode(gotBody)
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"hits": map[string]any{"hits": hits}})
	}))
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}, MaxRetries: 0, DisableRetry: true})
	require.NoError(t, err)
	return srv, client
}

func retrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{IndexName: "math-docs", Namespace: "engg-math-1", TopK: 3, NumCandidates: 50}
}

func TestRetrieve_ReturnsTextsInOrder(t *testing.T) {
	var body map[string]any
	srv, client := newSearchServer(t, http.StatusOK, []map[string]any{
		{"_score": 0.95, "_source": map[string]any{"chunk_id": "a", "text": "Definition of a limit."}},
		{"_score": 0.90, "_source": map[string]any{"chunk_id": "b", "text": "Epsilon-delta proofs."}},
		{"_score": 0.80, "_source": map[string]any{"chunk_id": "c", "text": "One-sided limits."}},
	}, &body)
	defer srv.Close()

	svc := NewRetrievalService(&fakeEmbedder{}, client, retrievalConfig())
	got := svc.Retrieve(context.Background(), "what is a limit")

	assert.Equal(t, []string{"Definition of a limit.", "Epsilon-delta proofs.", "One-sided limits."}, got)
	knn := body["knn"].(map[string]any)
	assert.EqualValues(t, 3, knn["k"])
}

func TestRetrieve_EmbeddingFailureYieldsEmpty(t *testing.T) {
	srv, client := newSearchServer(t, http.StatusOK, nil, nil)
	defer srv.Close()

	svc := NewRetrievalService(&fakeEmbedder{err: errors.New("quota exceeded")}, client, retrievalConfig())
	got := svc.Retrieve(context.Background(), "integral of sin x")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRetrieve_SearchFailureYieldsEmpty(t *testing.T) {
	srv, client := newSearchServer(t, http.StatusBadRequest, nil, nil)
	defer srv.Close()

	svc := NewRetrievalService(&fakeEmbedder{}, client, retrievalConfig())
	assert.Empty(t, svc.Retrieve(context.Background(), "integral of sin x"))
}

func TestRetrieve_EmptyQuerySkipsRemoteCalls(t *testing.T) {
	emb := &fakeEmbedder{}
	svc := NewRetrievalService(emb, nil, retrievalConfig())
	assert.Empty(t, svc.Retrieve(context.Background(), "   "))
	assert.Zero(t, emb.calls)
}
