package ai

import (
	"EliteCompanion/internal/config"
	"context"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/responses"
)

// Ensure interface compliance
var _ LanguageModel = (*ResponsesClient)(nil)

// ResponsesClient генерирует реплики через OpenAI Responses API (ключ берётся из OPENAI_API_KEY).
type ResponsesClient struct {
	client *openai.Client
	cfg    config.OpenAIConfig
}

func NewResponsesClient(client *openai.Client, cfg config.OpenAIConfig) *ResponsesClient {
	if cfg.Model == "" {
		cfg.Model = string(openai.ChatModelGPT4o)
	}
	return &ResponsesClient{client: client, cfg: cfg}
}

func (c *ResponsesClient) Generate(ctx context.Context, prompt string, history []string) (string, error) {
	if c.client == nil {
		return "", wrap("openai", errors.New("nil openai client"))
	}

	// История событий — отдельной системной репликой перед запросом.
	var inputItems responses.ResponseInputParam
	if h := historyBlock(history); h != "" {
		inputItems = append(inputItems, responses.ResponseInputItemParamOfMessage(
			responses.ResponseInputMessageContentListParam{
				{OfInputText: &responses.ResponseInputTextParam{Text: h}},
			},
			responses.EasyInputMessageRoleSystem,
		))
	}
	inputItems = append(inputItems, responses.ResponseInputItemParamOfMessage(
		responses.ResponseInputMessageContentListParam{
			{OfInputText: &responses.ResponseInputTextParam{Text: prompt}},
		},
		responses.EasyInputMessageRoleUser,
	))

	params := responses.ResponseNewParams{
		Model: c.cfg.Model,
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: inputItems},
	}
	if c.cfg.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(c.cfg.MaxOutputTokens)
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = openai.Float(c.cfg.Temperature)
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return "", wrap("openai", err)
	}
	return finish("openai", resp.OutputText())
}
