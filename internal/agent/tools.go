package agent

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/tools"

	"math-agent-go/pkg/websearch"
)

// RAGToolName 是知识库检索工具的名称。
const RAGToolName = "rag_knowledge_search"

const ragToolDescription = "Search the mathematical knowledge base for relevant information. " +
	"Use this tool to find definitions, theorems, formulas, and examples related to mathematical concepts. " +
	"Input should be a clear query about a mathematical topic or problem type. Returns the most relevant text chunks."

const noKnowledgeFound = "No relevant entries found in the mathematical knowledge base."

// Retriever 是知识库检索的最小接口，由 service.RetrievalService 实现。
type Retriever interface {
	Retrieve(ctx context.Context, query string) []string
}

// RAGTool 把知识库检索包装为 langchaingo 工具。
type RAGTool struct {
	retriever Retriever
}

var _ tools.Tool = (*RAGTool)(nil)

// NewRAGTool 创建知识库检索工具。
func NewRAGTool(r Retriever) *RAGTool {
	return &RAGTool{retriever: r}
}

func (t *RAGTool) Name() string        { return RAGToolName }
func (t *RAGTool) Description() string { return ragToolDescription }

// Call 返回以分隔线连接的检索片段，检索失败或无命中时返回提示文本而不是错误。
func (t *RAGTool) Call(ctx context.Context, input string) (string, error) {
	snippets := t.retriever.Retrieve(ctx, cleanToolInput(input))
	if len(snippets) == 0 {
		return noKnowledgeFound, nil
	}
	return strings.Join(snippets, "\n\n---\n\n"), nil
}

// WebSearchTool 把联网搜索包装为 langchaingo 工具。
type WebSearchTool struct {
	searcher websearch.Searcher
}

var _ tools.Tool = (*WebSearchTool)(nil)

// NewWebSearchTool 创建联网搜索工具。
func NewWebSearchTool(s websearch.Searcher) *WebSearchTool {
	return &WebSearchTool{searcher: s}
}

func (t *WebSearchTool) Name() string { return websearch.ToolName }
func (t *WebSearchTool) Description() string {
	return "Search the web for mathematical information. Use only when the knowledge base results are insufficient. Input is a search query."
}

// Call 执行搜索，失败时以 "Error: ..." 文本作为观察结果返回给 Agent。
func (t *WebSearchTool) Call(ctx context.Context, input string) (string, error) {
	out, err := t.searcher.Search(ctx, cleanToolInput(input))
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	return out, nil
}

// cleanToolInput 去掉模型在 Action Input 中常带的引号和空白。
func cleanToolInput(input string) string {
	return strings.Trim(strings.TrimSpace(input), "\"'`")
}
