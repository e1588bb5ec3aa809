package model

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
)

// OpenAICaller calls the OpenAI chat completions API.
type OpenAICaller struct {
	client openai.Client
}

// NewOpenAICaller builds an OpenAI caller. The SDK's own retries are
// disabled; Retrying handles them.
func NewOpenAICaller(apiKey, baseURL string) *OpenAICaller {
	opts := []ooption.RequestOption{
		ooption.WithAPIKey(strings.TrimSpace(apiKey)),
		ooption.WithMaxRetries(0),
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, ooption.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	return &OpenAICaller{client: openai.NewClient(opts...)}
}

// Invoke sends the prompt as a single user turn.
func (c *OpenAICaller) Invoke(ctx context.Context, req *Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model.Name),
		Messages: messages,
	}
	if t, ok := req.Model.Float("temperature"); ok {
		params.Temperature = openai.Float(t)
	}
	if p, ok := req.Model.Float("top_p"); ok {
		params.TopP = openai.Float(p)
	}
	if n, ok := req.Model.Int("max_tokens"); ok && n > 0 {
		params.MaxCompletionTokens = openai.Int(n)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if stderrors.As(err, &apiErr) {
			return nil, ClassifyStatus(apiErr.StatusCode, err, ProviderOpenAI)
		}
		return nil, classifyTransport(ctx, err, ProviderOpenAI)
	}
	if len(completion.Choices) == 0 {
		return nil, Malformed("openai returned no choices")
	}

	return &Response{
		Text:         completion.Choices[0].Message.Content,
		Raw:          json.RawMessage(completion.RawJSON()),
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
	}, nil
}
