package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	superagent "github.com/superagent-core/superagent"
)

// Embedding implements the embedding contract over the /embeddings endpoint.
type Embedding struct {
	provider *Provider
	model    string
	dims     int
}

// Compile-time interface check.
var _ superagent.EmbeddingProvider = (*Embedding)(nil)

// NewEmbedding creates an embedding provider (e.g. "text-embedding-3-small",
// 1536 dims).
func NewEmbedding(apiKey, model, baseURL string, dims int, opts ...ProviderOption) *Embedding {
	return &Embedding{
		provider: NewProvider(apiKey, "", baseURL, opts...),
		model:    model,
		dims:     dims,
	}
}

// Name returns the underlying provider name.
func (e *Embedding) Name() string { return e.provider.name }

// Dimensions returns the embedding vector size.
func (e *Embedding) Dimensions() int { return e.dims }

// Embed returns one vector per input text, in input order.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.provider.sendHTTP(ctx, "/embeddings", embeddingRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, e.provider.httpErr(resp)
	}
	var wire embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &superagent.ProviderError{
			Provider: e.provider.name,
			Message:  fmt.Sprintf("decode embeddings: %v", err),
		}
	}
	if len(wire.Data) != len(texts) {
		return nil, &superagent.ProviderError{
			Provider: e.provider.name,
			Message:  fmt.Sprintf("embeddings: got %d vectors for %d inputs", len(wire.Data), len(texts)),
		}
	}
	sort.Slice(wire.Data, func(i, j int) bool { return wire.Data[i].Index < wire.Data[j].Index })
	out := make([][]float32, len(wire.Data))
	for i, d := range wire.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
