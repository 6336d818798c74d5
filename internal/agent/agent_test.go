package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"
)

// scriptedModel 按顺序返回预设回复，并记录收到的消息。
type scriptedModel struct {
	mu       sync.Mutex
	replies  []string
	err      error
	received [][]llms.MessageContent
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, messages)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.replies) == 0 {
		return nil, errors.New("no scripted reply left")
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func messageText(mc llms.MessageContent) string {
	var sb strings.Builder
	for _, p := range mc.Parts {
		if tc, ok := p.(llms.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

type staticRetriever struct {
	snippets []string
	queries  []string
}

func (r *staticRetriever) Retrieve(_ context.Context, q string) []string {
	r.queries = append(r.queries, q)
	return r.snippets
}

func TestToolAugmented_ChatWithoutTools(t *testing.T) {
	model := &scriptedModel{replies: []string{"  Step 1: x = 2  "}}
	s := NewToolAugmented(model, nil, 3)

	out, err := s.Run(context.Background(), "You are an Expert Mathematics Solver.", "solve 2x = 4")
	require.NoError(t, err)
	assert.Equal(t, "Step 1: x = 2", out)
	assert.Equal(t, NameToolAugmented, s.Name())

	require.Len(t, model.received, 1)
	msgs := model.received[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, "solve 2x = 4", messageText(msgs[1]))
}

func TestToolAugmented_ReActCallsTool(t *testing.T) {
	model := &scriptedModel{replies: []string{
		"Thought: I should look this up.\nAction: rag_knowledge_search\nAction Input: \"definition of a limit\"",
		"Thought: I now know the final answer.\nFinal Answer: A limit describes the value a function approaches.",
	}}
	retriever := &staticRetriever{snippets: []string{"lim_{x→a} f(x) = L"}}
	s := NewToolAugmented(model, []tools.Tool{NewRAGTool(retriever)}, 5)

	out, err := s.Run(context.Background(), "You are a Senior Mathematics Researcher.", "Provide context for: limits")
	require.NoError(t, err)
	assert.Equal(t, "A limit describes the value a function approaches.", out)
	assert.Equal(t, []string{"definition of a limit"}, retriever.queries)

	require.Len(t, model.received, 2)
	firstPrompt := messageText(model.received[0][0])
	assert.Contains(t, firstPrompt, "You are a Senior Mathematics Researcher.")
	assert.Contains(t, firstPrompt, RAGToolName)
	// 第二轮提示词中应包含工具的观察结果
	assert.Contains(t, messageText(model.received[1][0]), "lim_{x→a} f(x) = L")
}

func TestToolAugmented_ModelError(t *testing.T) {
	model := &scriptedModel{err: errors.New("503")}
	_, err := NewToolAugmented(model, nil, 1).Run(context.Background(), "", "2+2")
	assert.Error(t, err)
}

type fakeLLM struct {
	out    string
	err    error
	prompt string
}

func (f *fakeLLM) Complete(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.out, f.err
}

func TestDirectCompletion(t *testing.T) {
	f := &fakeLLM{out: "x = 2\n"}
	s := NewDirectCompletion(f)

	out, err := s.Run(context.Background(), "", "Solve 2x = 4")
	require.NoError(t, err)
	assert.Equal(t, "x = 2", out)
	assert.Equal(t, "Solve 2x = 4", f.prompt)
	assert.Equal(t, NameDirectCompletion, s.Name())

	_, err = NewDirectCompletion(&fakeLLM{out: "   "}).Run(context.Background(), "", "p")
	assert.ErrorIs(t, err, ErrEmptyOutput)
}

func TestRAGTool_NoHits(t *testing.T) {
	out, err := NewRAGTool(&staticRetriever{}).Call(context.Background(), "series")
	require.NoError(t, err)
	assert.Equal(t, noKnowledgeFound, out)
}

type failingSearcher struct{}

func (failingSearcher) Search(context.Context, string) (string, error) {
	return "", errors.New("quota exceeded")
}

func TestWebSearchTool_ErrorIsObservation(t *testing.T) {
	out, err := NewWebSearchTool(failingSearcher{}).Call(context.Background(), "'laplace transform'")
	require.NoError(t, err)
	assert.Equal(t, "Error: quota exceeded", out)
}

func TestReactPrefix_EscapesBraces(t *testing.T) {
	p := reactPrefix("use {{braces}}")
	assert.NotContains(t, p, "{{braces}}")
	assert.True(t, strings.HasSuffix(p, "{{.tool_descriptions}}"))
}
