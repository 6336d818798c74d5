// Package websearch 提供联网搜索能力：Tavily HTTP 客户端、对外暴露的 MCP 工具服务端，
// 以及通过 stdio 子进程调用该工具的 MCP 客户端。
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"math-agent-go/internal/config"
)

const defaultTavilyBaseURL = "https://api.tavily.com"

// Searcher 执行一次联网搜索，返回可直接展示给模型的文本。
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// TavilyClient 是 Tavily 搜索 API 的客户端。
type TavilyClient struct {
	apiKey      string
	baseURL     string
	maxResults  int
	searchDepth string
	client      *http.Client
}

// NewTavilyClient 创建一个新的 Tavily 客户端实例。
func NewTavilyClient(cfg config.WebSearchConfig) *TavilyClient {
	baseURL := strings.TrimRight(cfg.TavilyBaseURL, "/")
	if baseURL == "" {
		baseURL = defaultTavilyBaseURL
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 3
	}
	depth := cfg.SearchDepth
	if depth == "" {
		depth = "basic"
	}
	return &TavilyClient{
		apiKey:      cfg.TavilyAPIKey,
		baseURL:     baseURL,
		maxResults:  maxResults,
		searchDepth: depth,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

type tavilyRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

// Search 调用 /search 接口，返回缩进两格的原始 JSON 响应。
func (c *TavilyClient) Search(ctx context.Context, query string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("tavily api key is not configured")
	}
	reqBytes, err := json.Marshal(tavilyRequest{
		Query:       query,
		MaxResults:  c.maxResults,
		SearchDepth: c.searchDepth,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call tavily api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read tavily response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tavily api returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return "", fmt.Errorf("failed to format tavily response: %w", err)
	}
	return pretty.String(), nil
}
