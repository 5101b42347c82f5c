package superagent

import "context"

// Provider abstracts one LLM vendor. Implementations must be safe for
// concurrent use; the router may invoke the same adapter from multiple
// callers in parallel.
type Provider interface {
	// Generate sends a request and returns a complete response.
	Generate(ctx context.Context, req LLMRequest) (LLMResponse, error)
	// Stream sends a request, writes chunks into ch as they arrive, then
	// returns the final response with usage when the vendor reports it.
	// The channel is owned by the caller and is not closed by the adapter.
	Stream(ctx context.Context, req LLMRequest, ch chan<- LLMStreamChunk) (LLMResponse, error)
	// CountTokens returns the token count of text under the model's
	// tokenizer. Deterministic per (model, text).
	CountTokens(model, text string) (int, error)
	// ModelInfo reports capabilities and the rate sheet for a model, and
	// whether the adapter knows the model at all.
	ModelInfo(model string) (ModelInfo, bool)
	// Name returns the provider name (e.g. "openai", "gemini").
	Name() string
}

// EmbeddingProvider abstracts text embedding.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}
