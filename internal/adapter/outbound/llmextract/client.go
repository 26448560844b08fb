// Package llmextract implements the usecase.ChatCompleter boundary with an
// OpenAI-compatible chat completion API (OpenAI, OpenRouter, DeepSeek and
// friends all speak it).
package llmextract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client calls one chat model with temperature 0. Structured-output
// validation is the extractor's job; this adapter only moves text.
type Client struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

// New creates a Client. baseURL may be empty for api.openai.com.
func New(apiKey, baseURL, model string, logger *slog.Logger) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logger.With("component", "llm_client"),
	}
}

// Complete implements usecase.ChatCompleter.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0),
		MaxTokens:   openai.Int(300),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	c.logger.Debug("Model replied", slog.String("model", c.model), slog.Int("chars", len(resp.Choices[0].Message.Content)))
	return resp.Choices[0].Message.Content, nil
}
