package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicClient provides chat completions via the Anthropic Messages
// API. Anthropic has no embedding endpoint, so embeddings are delegated to
// an OpenAI-compatible client.
type AnthropicClient struct {
	client   *anthropic.Client
	model    string
	embedder *OpenAIClient
	logger   *zap.Logger
}

// NewAnthropicClient creates a new Anthropic-backed client. The embedder
// handles all Embed calls and must not be nil.
func NewAnthropicClient(cfg *Config, embedder *OpenAIClient, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedding client is required")
	}

	var opts []anthropic.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.Endpoint))
	}

	return &AnthropicClient{
		client:   anthropic.NewClient(cfg.APIKey, opts...),
		model:    cfg.Model,
		embedder: embedder,
		logger:   logger.Named("llm"),
	}, nil
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	temp := float32(temperature)

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(userPrompt)),
		zap.Float64("temperature", temperature))

	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      systemPrompt,
		Messages:    []anthropic.Message{anthropic.NewUserTextMessage(userPrompt)},
		MaxTokens:   4096,
		Temperature: &temp,
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", ClassifyError(err)
	}

	if len(resp.Content) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	c.logger.Info("LLM request completed",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return resp.Content[0].GetText(), nil
}

// Embed implements Client by delegating to the OpenAI-compatible
// embedding client.
func (c *AnthropicClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return c.embedder.Embed(ctx, inputs)
}

// Model implements Client.
func (c *AnthropicClient) Model() string {
	return c.model
}
