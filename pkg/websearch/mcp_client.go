package websearch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"math-agent-go/internal/config"
	"math-agent-go/pkg/log"
)

// MCPClient 通过 stdio 子进程调用 websearch_tool，实现 Searcher 接口。
type MCPClient struct {
	client *client.Client
}

// StartMCPClient 启动 MCP 子进程并完成握手，确认对端提供 websearch_tool。
func StartMCPClient(ctx context.Context, cfg config.WebSearchConfig, env []string) (*MCPClient, error) {
	if cfg.Command == "" {
		return nil, errors.New("websearch command is not configured")
	}
	c, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start mcp subprocess: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "math-agent", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize mcp session: %w", err)
	}

	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to list mcp tools: %w", err)
	}
	found := false
	for _, t := range tools.Tools {
		if t.Name == ToolName {
			found = true
			break
		}
	}
	if !found {
		_ = c.Close()
		return nil, fmt.Errorf("mcp server does not provide %s", ToolName)
	}

	log.Infof("[WebSearch] MCP 工具加载成功: %s", ToolName)
	return &MCPClient{client: c}, nil
}

// Search 调用远端 websearch_tool 并拼接返回的文本内容。
func (m *MCPClient) Search(ctx context.Context, query string) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = ToolName
	req.Params.Arguments = map[string]any{"query": query}

	result, err := m.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("websearch tool call failed: %w", err)
	}
	text := ResultText(result)
	if result.IsError {
		return "", errors.New(text)
	}
	return text, nil
}

// Close 关闭子进程。
func (m *MCPClient) Close() error {
	return m.client.Close()
}

// ResultText 拼接工具结果中的所有文本内容。
func ResultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, c := range result.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
