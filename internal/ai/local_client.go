package ai

import (
	"EliteCompanion/internal/config"
	"context"
	"errors"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
)

// Ensure interface compliance
var _ LanguageModel = (*LocalClient)(nil)

// LocalClient ходит в OpenAI-совместимый локальный сервер (llama.cpp server, LM Studio, Ollama).
type LocalClient struct {
	client *goopenai.Client
	cfg    config.LocalLLMConfig
}

func NewLocalClient(cfg config.LocalLLMConfig) *LocalClient {
	occ := goopenai.DefaultConfig(cfg.APIKey)
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		occ.BaseURL = u
	}
	return &LocalClient{client: goopenai.NewClientWithConfig(occ), cfg: cfg}
}

func (c *LocalClient) Generate(ctx context.Context, prompt string, history []string) (string, error) {
	msgs := make([]goopenai.ChatCompletionMessage, 0, 2)
	if h := historyBlock(history); h != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: h})
	}
	msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: prompt})

	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", wrap("local", err)
	}
	if len(resp.Choices) == 0 {
		return "", wrap("local", errors.New("no choices in response"))
	}
	return finish("local", resp.Choices[0].Message.Content)
}
