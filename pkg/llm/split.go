package llm

import "context"

// SplitClient routes completions and embeddings to different clients,
// for deployments where the chat endpoint and the embedding endpoint are
// separate services.
type SplitClient struct {
	completions Client
	embedder    Client
}

// NewSplitClient creates a client that completes with completions and
// embeds with embedder.
func NewSplitClient(completions, embedder Client) *SplitClient {
	return &SplitClient{completions: completions, embedder: embedder}
}

var _ Client = (*SplitClient)(nil)

// Complete implements Client.
func (c *SplitClient) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	return c.completions.Complete(ctx, systemPrompt, userPrompt, temperature)
}

// Embed implements Client.
func (c *SplitClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return c.embedder.Embed(ctx, inputs)
}

// Model implements Client.
func (c *SplitClient) Model() string {
	return c.completions.Model()
}
