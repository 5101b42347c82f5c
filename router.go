package superagent

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// registeredProvider pairs a live adapter with its registration config.
type registeredProvider struct {
	config  ProviderConfig
	adapter Provider
}

// Router resolves models to providers and fails over between them. Resolution
// order: explicit provider option, then the model registry, then a
// "provider/model" prefix on the model name. Fallback walks the remaining
// enabled providers in descending priority, one attempt each. Safe for
// concurrent use.
type Router struct {
	mu        sync.RWMutex
	providers map[string]*registeredProvider
	modelMap  map[string]string // model id -> provider name
	metrics   *MetricsRegistry
	logger    *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the structured logger for routing decisions and
// fallback attempts. Defaults to a no-op logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates an empty router.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		providers: make(map[string]*registeredProvider),
		modelMap:  make(map[string]string),
		metrics:   NewMetricsRegistry(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Register adds a provider under cfg.Name and claims cfg.Models in the model
// registry. Re-registering a name replaces the previous entry; a model
// claimed by two providers belongs to the later registration.
func (r *Router) Register(cfg ProviderConfig, adapter Provider) error {
	if cfg.Name == "" {
		return &ConfigError{Field: "name", Message: "provider name is required"}
	}
	if adapter == nil {
		return &ConfigError{Field: "adapter", Message: "provider adapter is required"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[cfg.Name] = &registeredProvider{config: cfg, adapter: adapter}
	for _, m := range cfg.Models {
		r.modelMap[m] = cfg.Name
	}
	r.logger.Info("provider registered",
		"provider", cfg.Name,
		"models", len(cfg.Models),
		"priority", cfg.Priority,
		"enabled", cfg.Enabled)
	return nil
}

// Metrics returns the router's per-provider metrics registry.
func (r *Router) Metrics() *MetricsRegistry { return r.metrics }

// Providers returns the names of all registered providers.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// generateConfig carries per-call routing options.
type generateConfig struct {
	provider   string
	noFallback bool
}

// GenerateOption configures one Generate or Stream call.
type GenerateOption func(*generateConfig)

// WithProvider pins the call to a named provider, bypassing model resolution.
func WithProvider(name string) GenerateOption {
	return func(c *generateConfig) { c.provider = name }
}

// WithoutFallback disables the fallback chain; the resolved provider's error
// surfaces directly.
func WithoutFallback() GenerateOption {
	return func(c *generateConfig) { c.noFallback = true }
}

// resolve maps a request to a provider. The returned request may differ from
// the input when the model carried a "provider/" prefix.
func (r *Router) resolve(req LLMRequest, cfg generateConfig) (*registeredProvider, LLMRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg.provider != "" {
		rp, ok := r.providers[cfg.provider]
		if !ok || !rp.config.Enabled {
			return nil, req, &NoProviderError{Model: req.Model}
		}
		return rp, req, nil
	}
	if name, ok := r.modelMap[req.Model]; ok {
		if rp, ok := r.providers[name]; ok && rp.config.Enabled {
			return rp, req, nil
		}
	}
	if prefix, rest, ok := strings.Cut(req.Model, "/"); ok {
		if rp, found := r.providers[prefix]; found && rp.config.Enabled {
			req.Model = rest
			return rp, req, nil
		}
	}
	return nil, req, &NoProviderError{Model: req.Model}
}

// fallbackChain returns enabled providers other than exclude, in descending
// priority order.
func (r *Router) fallbackChain(exclude string) []*registeredProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var chain []*registeredProvider
	for name, rp := range r.providers {
		if name == exclude || !rp.config.Enabled {
			continue
		}
		chain = append(chain, rp)
	}
	sort.Slice(chain, func(i, j int) bool {
		if chain[i].config.Priority != chain[j].config.Priority {
			return chain[i].config.Priority > chain[j].config.Priority
		}
		return chain[i].config.Name < chain[j].config.Name
	})
	return chain
}

// Generate routes a unary request. The primary provider gets one attempt;
// on failure every other enabled provider is tried once in descending
// priority, with the request's model rewritten to each fallback's first
// configured model. The response carries provider name, latency, and cost.
func (r *Router) Generate(ctx context.Context, req LLMRequest, opts ...GenerateOption) (LLMResponse, error) {
	var cfg generateConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := req.Validate(); err != nil {
		return LLMResponse{}, err
	}
	primary, resolved, err := r.resolve(req, cfg)
	if err != nil {
		return LLMResponse{}, err
	}

	resp, err := r.attempt(ctx, primary, resolved)
	if err == nil {
		return resp, nil
	}
	if cfg.noFallback {
		return LLMResponse{}, err
	}

	attempted := []string{primary.config.Name}
	last := err
	for _, fb := range r.fallbackChain(primary.config.Name) {
		if len(fb.config.Models) == 0 {
			continue
		}
		fbReq := resolved
		fbReq.Model = fb.config.Models[0]
		r.logger.Warn("falling back",
			"from", attempted[len(attempted)-1],
			"to", fb.config.Name,
			"model", fbReq.Model,
			"error", last)
		resp, err := r.attempt(ctx, fb, fbReq)
		if err == nil {
			return resp, nil
		}
		attempted = append(attempted, fb.config.Name)
		last = err
		if ctx.Err() != nil {
			break
		}
	}
	return LLMResponse{}, &AllProvidersFailedError{Attempted: attempted, Last: last}
}

// attempt runs one call against one provider and records its metrics.
func (r *Router) attempt(ctx context.Context, rp *registeredProvider, req LLMRequest) (LLMResponse, error) {
	if rp.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rp.config.Timeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := rp.adapter.Generate(ctx, req)
	latency := float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		r.metrics.RecordFailure(rp.config.Name, err)
		return LLMResponse{}, err
	}
	resp.Provider = rp.config.Name
	resp.LatencyMS = latency
	resp.Cost = r.Cost(rp.adapter, req.Model, resp.Usage)
	r.metrics.RecordSuccess(rp.config.Name, resp.Usage.TotalTokens, resp.Cost, latency)
	return resp, nil
}

// Stream routes a streaming request. There is no fallback: once chunks may
// have been delivered, switching providers would duplicate content. The
// channel is owned by the caller and is not closed. When the adapter reports
// no usage, completion tokens are estimated as the word count of the content.
func (r *Router) Stream(ctx context.Context, req LLMRequest, ch chan<- LLMStreamChunk, opts ...GenerateOption) (LLMResponse, error) {
	var cfg generateConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := req.Validate(); err != nil {
		return LLMResponse{}, err
	}
	rp, resolved, err := r.resolve(req, cfg)
	if err != nil {
		return LLMResponse{}, err
	}
	if rp.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rp.config.Timeout)
		defer cancel()
	}

	buf := NewStreamBuffer()
	mid := make(chan LLMStreamChunk, 64)
	done := make(chan struct{})
	var streamErr error
	go func() {
		defer close(done)
		defer close(mid)
		_, streamErr = rp.adapter.Stream(ctx, resolved, mid)
	}()

	start := time.Now()
	for chunk := range mid {
		buf.Add(chunk)
		select {
		case ch <- chunk:
		case <-ctx.Done():
			<-done
			r.metrics.RecordFailure(rp.config.Name, ctx.Err())
			return LLMResponse{}, ctx.Err()
		}
	}
	<-done
	latency := float64(time.Since(start)) / float64(time.Millisecond)

	if streamErr != nil {
		r.metrics.RecordFailure(rp.config.Name, streamErr)
		return LLMResponse{}, streamErr
	}
	resp := buf.Response()
	if resp.Model == "" {
		resp.Model = resolved.Model
	}
	resp.Provider = rp.config.Name
	resp.LatencyMS = latency
	resp.Cost = r.Cost(rp.adapter, resolved.Model, resp.Usage)
	r.metrics.RecordSuccess(rp.config.Name, resp.Usage.TotalTokens, resp.Cost, latency)
	return resp, nil
}

// CountTokens counts tokens for text under the model's tokenizer. When no
// provider serves the model or the tokenizer fails, the estimate falls back
// to ceil(len/4).
func (r *Router) CountTokens(model, text string) int {
	rp, _, err := r.resolve(LLMRequest{Model: model}, generateConfig{})
	if err == nil {
		if n, err := rp.adapter.CountTokens(model, text); err == nil {
			return n
		}
	}
	return int(math.Ceil(float64(len(text)) / 4))
}

// ModelInfo reports the model's capability sheet from the provider that
// serves it.
func (r *Router) ModelInfo(model string) (ModelInfo, bool) {
	rp, resolved, err := r.resolve(LLMRequest{Model: model}, generateConfig{})
	if err != nil {
		return ModelInfo{}, false
	}
	return rp.adapter.ModelInfo(resolved.Model)
}

// Cost computes the dollar cost of one generation from the provider's rate
// sheet. Unknown models cost 0.
func (r *Router) Cost(p Provider, model string, usage Usage) float64 {
	info, ok := p.ModelInfo(model)
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)/1000*info.InputCostPer1K +
		float64(usage.CompletionTokens)/1000*info.OutputCostPer1K
}

var _ Provider = (*routerProvider)(nil)

// routerProvider adapts a Router to the Provider interface so retry and
// rate-limit wrappers compose over the whole fallback chain.
type routerProvider struct {
	router *Router
	opts   []GenerateOption
}

// AsProvider exposes the router as a single Provider.
func (r *Router) AsProvider(opts ...GenerateOption) Provider {
	return &routerProvider{router: r, opts: opts}
}

func (p *routerProvider) Generate(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	return p.router.Generate(ctx, req, p.opts...)
}

func (p *routerProvider) Stream(ctx context.Context, req LLMRequest, ch chan<- LLMStreamChunk) (LLMResponse, error) {
	return p.router.Stream(ctx, req, ch, p.opts...)
}

func (p *routerProvider) CountTokens(model, text string) (int, error) {
	return p.router.CountTokens(model, text), nil
}

func (p *routerProvider) ModelInfo(model string) (ModelInfo, bool) {
	return p.router.ModelInfo(model)
}

func (p *routerProvider) Name() string { return "router" }
