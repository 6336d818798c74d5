package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-agent-go/internal/config"
)

func newEmbeddingServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/embeddings", r.URL.Path)

		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		// 倒序返回，验证按 index 归位
		data := make([]map[string]any, 0, len(body.Input))
		for i := len(body.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(len(body.Input[i])), float32(i)},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "model": body.Model, "data": data})
	}))
}

func TestClient_CreateEmbeddingsKeepsOrder(t *testing.T) {
	var calls int32
	srv := newEmbeddingServer(t, &calls)
	defer srv.Close()

	c := NewClient(config.EmbeddingConfig{APIKey: "k", BaseURL: srv.URL, Model: "e5"})
	out, err := c.CreateEmbeddings(context.Background(), []string{"a", "bbb"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []float32{1, 0}, out[0])
	assert.Equal(t, []float32{3, 1}, out[1])
	assert.Equal(t, "e5", c.ModelVersion())
}

type memoryCache struct {
	data   map[string][]float32
	getErr error
}

func (m *memoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryCache) Set(_ context.Context, key string, v []float32) error {
	m.data[key] = v
	return nil
}

func TestCachedClient_HitsCacheOnSecondCall(t *testing.T) {
	var calls int32
	srv := newEmbeddingServer(t, &calls)
	defer srv.Close()

	cache := &memoryCache{data: map[string][]float32{}}
	c := NewCachedClient(NewClient(config.EmbeddingConfig{APIKey: "k", BaseURL: srv.URL, Model: "e5"}), cache)

	first, err := c.CreateEmbedding(context.Background(), "integral")
	require.NoError(t, err)
	second, err := c.CreateEmbedding(context.Background(), "integral")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Contains(t, cache.data, CacheKey("e5", "integral"))
}

func TestCachedClient_CacheFailureFallsThrough(t *testing.T) {
	var calls int32
	srv := newEmbeddingServer(t, &calls)
	defer srv.Close()

	cache := &memoryCache{data: map[string][]float32{}, getErr: errors.New("redis down")}
	c := NewCachedClient(NewClient(config.EmbeddingConfig{APIKey: "k", BaseURL: srv.URL, Model: "e5"}), cache)

	v, err := c.CreateEmbedding(context.Background(), "limit")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0}, v)
}
