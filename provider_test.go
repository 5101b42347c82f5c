package superagent

import (
	"context"
	"strings"
	"sync"
)

// fakeProvider is a scriptable Provider for tests. Generate and stream, when
// set, override the canned behavior.
type fakeProvider struct {
	mu       sync.Mutex
	name     string
	content  string
	generate func(ctx context.Context, req LLMRequest) (LLMResponse, error)
	stream   func(ctx context.Context, req LLMRequest, ch chan<- LLMStreamChunk) (LLMResponse, error)
	calls    int
}

func (p *fakeProvider) Generate(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.generate != nil {
		return p.generate(ctx, req)
	}
	return LLMResponse{
		ID:      NewID(),
		Model:   req.Model,
		Content: p.content,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

func (p *fakeProvider) Stream(ctx context.Context, req LLMRequest, ch chan<- LLMStreamChunk) (LLMResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.stream != nil {
		return p.stream(ctx, req, ch)
	}
	id := NewID()
	for _, word := range strings.SplitAfter(p.content, " ") {
		ch <- LLMStreamChunk{ID: id, Model: req.Model, Delta: word}
	}
	return LLMResponse{ID: id, Model: req.Model, Content: p.content}, nil
}

func (p *fakeProvider) CountTokens(model, text string) (int, error) {
	return len(strings.Fields(text)), nil
}

func (p *fakeProvider) ModelInfo(model string) (ModelInfo, bool) {
	return ModelInfo{
		ID:              model,
		Provider:        p.name,
		ContextWindow:   8192,
		InputCostPer1K:  0.001,
		OutputCostPer1K: 0.002,
	}, true
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var _ Provider = (*fakeProvider)(nil)
