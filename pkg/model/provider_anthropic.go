package model

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 1024

// AnthropicCaller calls the Claude Messages API.
type AnthropicCaller struct {
	client anthropic.Client
}

// NewAnthropicCaller builds an Anthropic caller. The SDK's own retries are
// disabled; Retrying handles them.
func NewAnthropicCaller(apiKey, baseURL string) *AnthropicCaller {
	opts := []aoption.RequestOption{
		aoption.WithAPIKey(strings.TrimSpace(apiKey)),
		aoption.WithMaxRetries(0),
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, aoption.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	return &AnthropicCaller{client: anthropic.NewClient(opts...)}
}

// Invoke sends the prompt as a single user turn.
func (c *AnthropicCaller) Invoke(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := int64(anthropicDefaultMaxTokens)
	if n, ok := req.Model.Int("max_tokens"); ok && n > 0 {
		maxTokens = n
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(strings.TrimSpace(req.Model.Name)),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if t, ok := req.Model.Float("temperature"); ok {
		params.Temperature = anthropic.Float(t)
	}
	if p, ok := req.Model.Float("top_p"); ok {
		params.TopP = anthropic.Float(p)
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if stderrors.As(err, &apiErr) {
			return nil, ClassifyStatus(apiErr.StatusCode, err, ProviderAnthropic)
		}
		return nil, classifyTransport(ctx, err, ProviderAnthropic)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, Malformed("anthropic returned no text content")
	}

	return &Response{
		Text:         text.String(),
		Raw:          json.RawMessage(msg.RawJSON()),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}
