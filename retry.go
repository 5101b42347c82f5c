package superagent

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// retryProvider wraps a Provider and automatically retries retryable errors
// (rate limits, 5xx responses, deadline expiries) with exponential backoff.
type retryProvider struct {
	inner       Provider
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration // overall timeout across all attempts; 0 = no limit
	logger      *slog.Logger  // nil = nopLogger
}

// RetryOption configures a retryProvider.
type RetryOption func(*retryProvider)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryProvider) { r.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second attempt (default: 1s).
// Each subsequent delay doubles: baseDelay, 2×baseDelay, 4×baseDelay, …
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.baseDelay = d }
}

// RetryTimeout sets the overall timeout for the entire retry sequence. If the
// total time across all attempts exceeds this duration, the retry loop gives up
// and returns the last error. The zero value (default) disables the timeout.
func RetryTimeout(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.timeout = d }
}

// RetryLogger sets the structured logger for retry events. When set, retries
// log at WARN level and final failures after exhausting attempts log at ERROR.
// If not set, a no-op logger is used (no output).
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryProvider) { r.logger = l }
}

// WithRetry wraps p with automatic retry on retryable errors. Retries use
// exponential backoff with jitter. When the error includes a Retry-After
// duration (parsed from the HTTP header), the retry delay is at least that
// long. Compose with any Provider:
//
//	llm = superagent.WithRetry(openaicompat.New(cfg))
//	llm = superagent.WithRetry(openaicompat.New(cfg), superagent.RetryMaxAttempts(5))
//	llm = superagent.WithRetry(router.AsProvider(), superagent.RetryTimeout(60*time.Second))
func WithRetry(p Provider, opts ...RetryOption) Provider {
	r := &retryProvider{
		inner:       p,
		maxAttempts: 3,
		baseDelay:   time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Name delegates to the inner provider.
func (r *retryProvider) Name() string { return r.inner.Name() }

// CountTokens delegates to the inner provider.
func (r *retryProvider) CountTokens(model, text string) (int, error) {
	return r.inner.CountTokens(model, text)
}

// ModelInfo delegates to the inner provider.
func (r *retryProvider) ModelInfo(model string) (ModelInfo, bool) {
	return r.inner.ModelInfo(model)
}

// Generate implements Provider with retry.
func (r *retryProvider) Generate(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return retryCall(ctx, r.maxAttempts, r.baseDelay, r.inner.Name(), r.logger, func() (LLMResponse, error) {
		return r.inner.Generate(ctx, req)
	})
}

// Stream implements Provider with retry. Retries are only performed if no
// chunks have been written to ch yet; once streaming has started, errors pass
// through immediately to avoid sending duplicate content. The channel stays
// open; it is owned by the caller.
func (r *retryProvider) Stream(ctx context.Context, req LLMRequest, ch chan<- LLMStreamChunk) (LLMResponse, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var lastErr error
	for i := 0; i < r.maxAttempts; i++ {
		mid := make(chan LLMStreamChunk, 64)
		var (
			resp      LLMResponse
			streamErr error
		)
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer close(mid)
			resp, streamErr = r.inner.Stream(ctx, req, mid)
		}()

		var chunksSent bool
		for chunk := range mid {
			chunksSent = true
			ch <- chunk
		}
		<-done

		if streamErr == nil || !Retryable(streamErr) || chunksSent {
			return resp, streamErr
		}

		lastErr = streamErr
		r.logger.Warn("retrying retryable error",
			"provider", r.inner.Name(),
			"kind", ErrorKind(streamErr),
			"attempt", i+1,
			"max_attempts", r.maxAttempts)
		if i < r.maxAttempts-1 {
			delay := retryDelay(r.baseDelay, i, streamErr)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return LLMResponse{}, ctx.Err()
			case <-timer.C:
			}
		}
	}
	r.logger.Error("all retry attempts exhausted (stream)",
		"provider", r.inner.Name(),
		"attempts", r.maxAttempts,
		"error", lastErr)
	return LLMResponse{}, lastErr
}

// withTimeout returns a child context with a deadline if r.timeout is set.
// If timeout is zero or ctx already has an earlier deadline, returns ctx unchanged.
// The caller must call the returned CancelFunc when done.
func (r *retryProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	deadline := time.Now().Add(r.timeout)
	if existing, ok := ctx.Deadline(); ok && existing.Before(deadline) {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, deadline)
}

// retryAfterOf extracts the Retry-After duration from an HTTPError, or 0.
func retryAfterOf(err error) time.Duration {
	var e *HTTPError
	if errors.As(err, &e) {
		return time.Duration(e.RetryAfterSec) * time.Second
	}
	return 0
}

// retryDelay computes the delay before retry attempt i, using exponential
// backoff as a floor and the server's Retry-After value (if present) as a
// minimum. The effective delay is max(backoff, retryAfter).
func retryDelay(base time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, i)
	if ra := retryAfterOf(err); ra > backoff {
		return ra
	}
	return backoff
}

// retryCall calls fn up to maxAttempts times, sleeping between retryable failures.
func retryCall[T any](ctx context.Context, maxAttempts int, base time.Duration, name string, logger *slog.Logger, fn func() (T, error)) (T, error) {
	var zero T
	var last error
	for i := 0; i < maxAttempts; i++ {
		result, err := fn()
		if err == nil || !Retryable(err) {
			return result, err
		}
		last = err
		logger.Warn("retrying retryable error",
			"provider", name,
			"kind", ErrorKind(err),
			"attempt", i+1,
			"max_attempts", maxAttempts)
		if i < maxAttempts-1 {
			delay := retryDelay(base, i, err)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	logger.Error("all retry attempts exhausted",
		"provider", name,
		"attempts", maxAttempts,
		"error", last)
	return zero, last
}

// retryBackoff returns the delay for retry i (0-indexed).
// Exponential: base * 2^i, plus up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

// retryEmbeddingProvider wraps an EmbeddingProvider and automatically retries
// retryable errors with exponential backoff.
type retryEmbeddingProvider struct {
	inner       EmbeddingProvider
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration
	logger      *slog.Logger
}

// WithEmbeddingRetry wraps p with automatic retry on retryable errors.
// Accepts the same RetryOption functions as WithRetry. Compose with any
// EmbeddingProvider:
//
//	emb = superagent.WithEmbeddingRetry(openaicompat.NewEmbedding(cfg))
func WithEmbeddingRetry(p EmbeddingProvider, opts ...RetryOption) EmbeddingProvider {
	// Apply options to a temporary retryProvider to extract config values.
	cfg := &retryProvider{maxAttempts: 3, baseDelay: time.Second}
	for _, opt := range opts {
		opt(cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = nopLogger
	}
	return &retryEmbeddingProvider{
		inner:       p,
		maxAttempts: cfg.maxAttempts,
		baseDelay:   cfg.baseDelay,
		timeout:     cfg.timeout,
		logger:      logger,
	}
}

func (r *retryEmbeddingProvider) Name() string    { return r.inner.Name() }
func (r *retryEmbeddingProvider) Dimensions() int { return r.inner.Dimensions() }

func (r *retryEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if r.timeout > 0 {
		deadline := time.Now().Add(r.timeout)
		if existing, ok := ctx.Deadline(); !ok || deadline.Before(existing) {
			var cancel context.CancelFunc
			ctx, cancel = context.WithDeadline(ctx, deadline)
			defer cancel()
		}
	}
	return retryCall(ctx, r.maxAttempts, r.baseDelay, r.inner.Name(), r.logger, func() ([][]float32, error) {
		return r.inner.Embed(ctx, texts)
	})
}

// compile-time checks
var (
	_ Provider          = (*retryProvider)(nil)
	_ EmbeddingProvider = (*retryEmbeddingProvider)(nil)
)
