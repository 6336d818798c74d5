package websearch

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ToolName 是 MCP 服务端暴露的联网搜索工具名。
const ToolName = "websearch_tool"

// NewMCPServer 创建注册了 websearch_tool 的 MCP 服务端。
func NewMCPServer(searcher Searcher, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"tavily_search",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.AddTool(Tool(), NewToolHandler(searcher))
	return s
}

// Tool 返回 websearch_tool 的定义。
func Tool() mcp.Tool {
	return mcp.NewTool(ToolName,
		mcp.WithDescription("MCP server based Websearch tool"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The web search query"),
		),
	)
}

// NewToolHandler 返回工具处理函数。搜索失败不作为协议错误返回，
// 而是以 "Error: ..." 文本交给调用方的模型。
func NewToolHandler(searcher Searcher) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		query, _ := args["query"].(string)
		if query == "" {
			return mcp.NewToolResultError("Error: query is required"), nil
		}
		result, err := searcher.Search(ctx, query)
		if err != nil {
			return mcp.NewToolResultText("Error: " + err.Error()), nil
		}
		return mcp.NewToolResultText(result), nil
	}
}
