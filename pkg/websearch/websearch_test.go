package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-agent-go/internal/config"
)

func TestTavilyClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer tvly-test", r.Header.Get("Authorization"))

		var body tavilyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "fourier series", body.Query)
		assert.Equal(t, 3, body.MaxResults)
		assert.Equal(t, "basic", body.SearchDepth)

		_, _ = w.Write([]byte(`{"query":"fourier series","results":[{"title":"Fourier series","url":"https://example.org/fs","content":"A Fourier series is..."}]}`))
	}))
	defer srv.Close()

	c := NewTavilyClient(config.WebSearchConfig{TavilyAPIKey: "tvly-test", TavilyBaseURL: srv.URL})
	out, err := c.Search(context.Background(), "fourier series")
	require.NoError(t, err)
	assert.Contains(t, out, "\n  \"results\": [")
	assert.Contains(t, out, `"title": "Fourier series"`)
}

func TestTavilyClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewTavilyClient(config.WebSearchConfig{TavilyAPIKey: "bad", TavilyBaseURL: srv.URL}).
		Search(context.Background(), "x")
	assert.ErrorContains(t, err, "401")

	_, err = NewTavilyClient(config.WebSearchConfig{}).Search(context.Background(), "x")
	assert.Error(t, err)
}

type stubSearcher struct {
	out   string
	err   error
	query string
}

func (s *stubSearcher) Search(_ context.Context, q string) (string, error) {
	s.query = q
	return s.out, s.err
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = ToolName
	req.Params.Arguments = args
	return req
}

func TestToolHandler(t *testing.T) {
	s := &stubSearcher{out: `{"results": []}`}
	handler := NewToolHandler(s)

	res, err := handler(context.Background(), callRequest(map[string]any{"query": "taylor series"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, `{"results": []}`, ResultText(res))
	assert.Equal(t, "taylor series", s.query)
}

func TestToolHandler_SearchErrorBecomesText(t *testing.T) {
	handler := NewToolHandler(&stubSearcher{err: errors.New("rate limited")})

	res, err := handler(context.Background(), callRequest(map[string]any{"query": "x"}))
	require.NoError(t, err)
	assert.Equal(t, "Error: rate limited", ResultText(res))
}

func TestToolHandler_MissingQuery(t *testing.T) {
	handler := NewToolHandler(&stubSearcher{})

	res, err := handler(context.Background(), callRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestTool_Definition(t *testing.T) {
	tool := Tool()
	assert.Equal(t, "websearch_tool", tool.Name)
	assert.Contains(t, tool.InputSchema.Required, "query")
}
