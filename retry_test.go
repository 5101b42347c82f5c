package superagent

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	inner := &fakeProvider{name: "flaky"}
	inner.generate = func(_ context.Context, req LLMRequest) (LLMResponse, error) {
		if inner.callCount() < 3 {
			return LLMResponse{}, &ProviderError{Provider: "flaky", Message: "overloaded", Retryable: true}
		}
		return LLMResponse{ID: NewID(), Model: req.Model, Content: "third time lucky"}, nil
	}
	p := WithRetry(inner, RetryBaseDelay(time.Millisecond))

	resp, err := p.Generate(context.Background(), simpleRequest(t, "m"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "third time lucky" || inner.callCount() != 3 {
		t.Errorf("content = %q, calls = %d", resp.Content, inner.callCount())
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	inner := &fakeProvider{name: "fatal"}
	inner.generate = func(_ context.Context, _ LLMRequest) (LLMResponse, error) {
		return LLMResponse{}, &ProviderError{Provider: "fatal", Message: "bad request", Retryable: false}
	}
	p := WithRetry(inner, RetryBaseDelay(time.Millisecond))

	_, err := p.Generate(context.Background(), simpleRequest(t, "m"))
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v", err)
	}
	if inner.callCount() != 1 {
		t.Errorf("calls = %d, want 1", inner.callCount())
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	inner := &fakeProvider{name: "dead"}
	inner.generate = func(_ context.Context, _ LLMRequest) (LLMResponse, error) {
		return LLMResponse{}, &HTTPError{Status: 503, Body: "unavailable"}
	}
	p := WithRetry(inner, RetryMaxAttempts(4), RetryBaseDelay(time.Millisecond))

	_, err := p.Generate(context.Background(), simpleRequest(t, "m"))
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.Status != 503 {
		t.Fatalf("err = %v, want last HTTPError", err)
	}
	if inner.callCount() != 4 {
		t.Errorf("calls = %d, want 4", inner.callCount())
	}
}

func TestRetryStreamOnlyBeforeFirstChunk(t *testing.T) {
	inner := &fakeProvider{name: "stream"}
	inner.stream = func(_ context.Context, req LLMRequest, ch chan<- LLMStreamChunk) (LLMResponse, error) {
		if inner.callCount() == 1 {
			// Fail before any chunk: retryable.
			return LLMResponse{}, &HTTPError{Status: 500}
		}
		ch <- LLMStreamChunk{ID: "s", Model: req.Model, Delta: "partial "}
		// Fail after a chunk went out: not retried.
		return LLMResponse{}, &HTTPError{Status: 500}
	}
	p := WithRetry(inner, RetryMaxAttempts(5), RetryBaseDelay(time.Millisecond))

	ch := make(chan LLMStreamChunk, 8)
	_, err := p.Stream(context.Background(), simpleRequest(t, "m"), ch)
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.callCount() != 2 {
		t.Errorf("calls = %d, want 2 (one retry, then mid-stream failure)", inner.callCount())
	}
}

func TestRetryDelayHonorsRetryAfter(t *testing.T) {
	err := &HTTPError{Status: 429, RetryAfterSec: 1}
	if d := retryDelay(time.Millisecond, 0, err); d < time.Second {
		t.Errorf("delay = %v, want >= 1s from Retry-After", d)
	}
	if d := retryDelay(time.Millisecond, 0, &HTTPError{Status: 500}); d >= time.Second {
		t.Errorf("delay = %v, want small backoff", d)
	}
}

type fakeEmbedder struct {
	calls int
	fail  int // fail the first n calls
	dims  int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.fail {
		return nil, &HTTPError{Status: 429}
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.Dimensions())
		for _, r := range text {
			vec[int(r)%len(vec)]++
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int {
	if f.dims > 0 {
		return f.dims
	}
	return 8
}

func (f *fakeEmbedder) Name() string { return "fake-embedder" }

var _ EmbeddingProvider = (*fakeEmbedder)(nil)

func TestEmbeddingRetry(t *testing.T) {
	inner := &fakeEmbedder{fail: 2}
	p := WithEmbeddingRetry(inner, RetryMaxAttempts(3), RetryBaseDelay(time.Millisecond))

	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || inner.calls != 3 {
		t.Errorf("vecs = %d, calls = %d", len(vecs), inner.calls)
	}
}
