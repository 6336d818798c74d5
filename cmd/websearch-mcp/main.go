// Package main 是联网搜索 MCP 服务端的入口，通过 stdio 与父进程通信。
package main

import (
	"flag"

	"github.com/mark3labs/mcp-go/server"

	"math-agent-go/internal/config"
	"math-agent-go/pkg/log"
	"math-agent-go/pkg/websearch"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config", err)
	}

	// stdout 承载 MCP 协议，日志只能写 stderr
	log.Init(cfg.Log.Level, cfg.Log.Format, "")
	defer log.Sync()

	if cfg.WebSearch.TavilyAPIKey == "" {
		log.Warnf("[WebSearchMCP] 未配置 TAVILY_API_KEY，每次搜索都将返回错误文本")
	}

	s := websearch.NewMCPServer(websearch.NewTavilyClient(cfg.WebSearch), version)
	log.Info("[WebSearchMCP] 服务端启动，等待 stdio 请求")
	if err := server.ServeStdio(s); err != nil {
		log.Fatal("mcp stdio server stopped", err)
	}
}
