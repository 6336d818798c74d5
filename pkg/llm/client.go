// Package llm 提供单轮补全形式的大语言模型客户端。
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"math-agent-go/internal/config"
	"math-agent-go/pkg/log"
)

// ErrEmptyCompletion 表示模型没有返回任何文本。
var ErrEmptyCompletion = errors.New("llm returned empty completion")

// Client 定义了 LLM 客户端的接口。
type Client interface {
	// Complete 发送单条 user 提示词并返回模型的完整回答。
	Complete(ctx context.Context, prompt string) (string, error)
}

// NewClient 根据配置中的 provider 创建对应的 LLM 客户端。
func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "":
		return newGeminiClient(ctx, cfg)
	case "openai":
		return newOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}
}

type openAIClient struct {
	cfg    config.LLMConfig
	client *openai.Client
}

func newOpenAIClient(cfg config.LLMConfig) *openAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &openAIClient{cfg: cfg, client: openai.NewClientWithConfig(oc)}
}

// Complete 调用 OpenAI 兼容的 chat/completions 接口。
func (c *openAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	// 零值表示使用服务端默认值
	if c.cfg.Generation.Temperature != 0 {
		req.Temperature = float32(c.cfg.Generation.Temperature)
	}
	if c.cfg.Generation.TopP != 0 {
		req.TopP = float32(c.cfg.Generation.TopP)
	}
	if c.cfg.Generation.MaxTokens != 0 {
		req.MaxTokens = c.cfg.Generation.MaxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		log.Errorf("[LLMClient] 调用 chat completion 失败, model: %s, error: %v", c.cfg.Model, err)
		return "", fmt.Errorf("failed to call chat completion api: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

type geminiClient struct {
	cfg    config.LLMConfig
	client *genai.Client
}

func newGeminiClient(ctx context.Context, cfg config.LLMConfig) (*geminiClient, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &geminiClient{cfg: cfg, client: gc}, nil
}

// Complete 调用 Gemini GenerateContent 接口，并拼接首个候选的所有文本片段。
func (c *geminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, contents, c.generationConfig())
	if err != nil {
		log.Errorf("[LLMClient] 调用 Gemini 失败, model: %s, error: %v", c.cfg.Model, err)
		return "", fmt.Errorf("failed to call gemini api: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyCompletion
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyCompletion
	}
	return sb.String(), nil
}

func (c *geminiClient) generationConfig() *genai.GenerateContentConfig {
	gen := c.cfg.Generation
	if gen.Temperature == 0 && gen.TopP == 0 && gen.MaxTokens == 0 {
		return nil
	}
	cfg := &genai.GenerateContentConfig{}
	if gen.Temperature != 0 {
		t := float32(gen.Temperature)
		cfg.Temperature = &t
	}
	if gen.TopP != 0 {
		p := float32(gen.TopP)
		cfg.TopP = &p
	}
	if gen.MaxTokens != 0 {
		cfg.MaxOutputTokens = int32(gen.MaxTokens)
	}
	return cfg
}
