// Package llm provides chat-completion and embedding clients for the
// mining and synchronization pipeline.
package llm

import (
	"context"
)

// Client defines the interface for LLM operations.
// Combines generative (chat completion) and embedding capabilities.
// Use this interface for dependency injection to enable mocking in tests.
//
// Every completion is a single request/response with no client-side retry
// loop; callers that want the one-shot parse retry reissue the identical
// prompt themselves.
type Client interface {
	// Complete generates a chat completion for the given system and user
	// prompts.
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)

	// Embed generates embedding vectors for a batch of inputs.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)

	// Model returns the configured completion model name.
	Model() string
}

// Ensure implementations satisfy Client at compile time.
var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*AnthropicClient)(nil)
	_ Client = (*MockClient)(nil)
)
