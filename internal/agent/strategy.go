// Package agent 定义各阶段调用模型的执行策略：
// ToolAugmented 基于 langchaingo 的 ReAct Agent，可调用检索与联网搜索工具；
// DirectCompletion 直接向 LLM 发送单轮提示词，作为兜底。
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/agents"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/tools"

	"math-agent-go/internal/config"
	"math-agent-go/pkg/llm"
)

// 策略名，用于日志和指标
const (
	NameToolAugmented    = "tool_augmented"
	NameDirectCompletion = "direct_completion"
)

// ErrEmptyOutput 表示策略执行成功但没有产出任何文本。
var ErrEmptyOutput = errors.New("strategy produced empty output")

// Strategy 以系统提示词和用户提示词运行一次模型调用。
type Strategy interface {
	Name() string
	Run(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// ToolAugmented 在有工具时以 one-shot ReAct Agent 运行，没有工具时退化为带系统提示词的单轮对话。
type ToolAugmented struct {
	model         llms.Model
	tools         []tools.Tool
	maxIterations int
}

// NewToolAugmented 创建一个工具增强策略。
func NewToolAugmented(model llms.Model, agentTools []tools.Tool, maxIterations int) *ToolAugmented {
	if maxIterations <= 0 {
		maxIterations = 5
	}
	return &ToolAugmented{model: model, tools: agentTools, maxIterations: maxIterations}
}

// NewChatModel 根据配置创建 Agent 使用的 OpenAI 兼容聊天模型。
func NewChatModel(cfg config.AgentConfig) (llms.Model, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("agent api key is not configured")
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent chat model: %w", err)
	}
	return model, nil
}

func (a *ToolAugmented) Name() string { return NameToolAugmented }

// WithTools 返回使用另一组工具的同模型策略。
func (a *ToolAugmented) WithTools(agentTools []tools.Tool) *ToolAugmented {
	return &ToolAugmented{model: a.model, tools: agentTools, maxIterations: a.maxIterations}
}

// Run 执行一次 Agent 调用。
func (a *ToolAugmented) Run(ctx context.Context, systemPrompt, prompt string) (string, error) {
	var (
		out string
		err error
	)
	if len(a.tools) == 0 {
		out, err = a.chat(ctx, systemPrompt, prompt)
	} else {
		out, err = a.react(ctx, systemPrompt, prompt)
	}
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyOutput
	}
	return out, nil
}

func (a *ToolAugmented) chat(ctx context.Context, systemPrompt, prompt string) (string, error) {
	var messages []llms.MessageContent
	if systemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	resp, err := a.model.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("agent chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyOutput
	}
	return resp.Choices[0].Content, nil
}

func (a *ToolAugmented) react(ctx context.Context, systemPrompt, prompt string) (string, error) {
	var opts []agents.Option
	if systemPrompt != "" {
		opts = append(opts, agents.WithPromptPrefix(reactPrefix(systemPrompt)))
	}
	oneShot := agents.NewOneShotAgent(a.model, a.tools, opts...)
	executor := agents.NewExecutor(oneShot, agents.WithMaxIterations(a.maxIterations))

	out, err := chains.Run(ctx, executor, prompt)
	if err != nil {
		return "", fmt.Errorf("agent run failed: %w", err)
	}
	return out, nil
}

// reactPrefix 在系统提示词后追加工具列表，格式与 langchaingo 默认前缀一致。
// 系统提示词按模板渲染，其中的花括号需要转义。
func reactPrefix(systemPrompt string) string {
	escaped := strings.NewReplacer("{{", "{{`{{`}}", "}}", "{{`}}`}}").Replace(systemPrompt)
	return escaped + "\n\nYou have access to the following tools:\n\n{{.tool_descriptions}}"
}

// DirectCompletion 把提示词直接交给 llm.Client，不调用任何工具。
type DirectCompletion struct {
	client llm.Client
}

// NewDirectCompletion 创建直接补全策略。
func NewDirectCompletion(client llm.Client) *DirectCompletion {
	return &DirectCompletion{client: client}
}

func (d *DirectCompletion) Name() string { return NameDirectCompletion }

func (d *DirectCompletion) Run(ctx context.Context, systemPrompt, prompt string) (string, error) {
	full := prompt
	if systemPrompt != "" {
		full = systemPrompt + "\n\n" + prompt
	}
	out, err := d.client.Complete(ctx, full)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyOutput
	}
	return out, nil
}
