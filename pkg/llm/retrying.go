package llm

import (
	"context"

	"github.com/loomnotes/loom-engine/pkg/retry"
)

// RetryingClient wraps a Client and retries transient embedding
// failures with backoff. Completions stay single request/response;
// callers own any prompt-level retry.
type RetryingClient struct {
	inner Client
	cfg   *retry.Config
}

// NewRetryingClient wraps inner with embed retries. A nil cfg uses
// retry.DefaultConfig.
func NewRetryingClient(inner Client, cfg *retry.Config) *RetryingClient {
	return &RetryingClient{inner: inner, cfg: cfg}
}

var _ Client = (*RetryingClient)(nil)

// Complete implements Client.
func (c *RetryingClient) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	return c.inner.Complete(ctx, systemPrompt, userPrompt, temperature)
}

// Embed implements Client.
func (c *RetryingClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return retry.DoWithResult(ctx, c.cfg, func() ([][]float32, error) {
		return c.inner.Embed(ctx, inputs)
	})
}

// Model implements Client.
func (c *RetryingClient) Model() string {
	return c.inner.Model()
}
