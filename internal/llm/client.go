package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Completer is the narrow surface the answer router needs.
type Completer interface {
	Generate(ctx context.Context, prompt Prompt, sampling Sampling, imageB64 string) (string, error)
}

// Client wraps the OpenAI-compatible endpoint.
type Client struct {
	api     openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient builds a client against baseURL with the given key and model.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(apiKey),
		),
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
}

// Generate runs one chat completion. imageB64, when non-empty, rides along as
// an extra request field the upstream accepts next to the standard payload.
func (c *Client) Generate(ctx context.Context, prompt Prompt, sampling Sampling, imageB64 string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(prompt.History)+2)
	messages = append(messages, openai.SystemMessage(prompt.SystemText()))
	for _, turn := range prompt.History {
		if turn.IsUser() {
			messages = append(messages, openai.UserMessage(turn.Content))
		} else {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(prompt.UserTurn))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(sampling.Temperature),
		TopP:        openai.Float(sampling.TopP),
		MaxTokens:   openai.Int(sampling.MaxTokens),
	}

	opts := []option.RequestOption{}
	if imageB64 != "" {
		opts = append(opts, option.WithJSONSet("image_base64", imageB64))
	}

	started := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices in response")
	}
	c.logger.Debug("completion finished",
		"model", c.model,
		"elapsed", time.Since(started),
		"messages", len(messages))
	return resp.Choices[0].Message.Content, nil
}

var _ Completer = (*Client)(nil)
