package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	superagent "github.com/superagent-core/superagent"
)

// defaultModels is the builtin rate sheet for well-known OpenAI models.
// Registrations via WithModelInfo extend or override it.
var defaultModels = map[string]superagent.ModelInfo{
	"gpt-4o": {
		ID: "gpt-4o", Provider: "openai",
		ContextWindow: 128000, MaxOutputTokens: 16384,
		SupportsStreaming: true, SupportsFunctions: true, SupportsVision: true, SupportsJSONMode: true,
		InputCostPer1K: 0.0025, OutputCostPer1K: 0.01,
	},
	"gpt-4o-mini": {
		ID: "gpt-4o-mini", Provider: "openai",
		ContextWindow: 128000, MaxOutputTokens: 16384,
		SupportsStreaming: true, SupportsFunctions: true, SupportsVision: true, SupportsJSONMode: true,
		InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006,
	},
	"gpt-4-turbo": {
		ID: "gpt-4-turbo", Provider: "openai",
		ContextWindow: 128000, MaxOutputTokens: 4096,
		SupportsStreaming: true, SupportsFunctions: true, SupportsVision: true, SupportsJSONMode: true,
		InputCostPer1K: 0.01, OutputCostPer1K: 0.03,
	},
	"gpt-3.5-turbo": {
		ID: "gpt-3.5-turbo", Provider: "openai",
		ContextWindow: 16385, MaxOutputTokens: 4096,
		SupportsStreaming: true, SupportsFunctions: true, SupportsJSONMode: true,
		InputCostPer1K: 0.0005, OutputCostPer1K: 0.0015,
	},
}

// Provider implements the adapter contract for any OpenAI-compatible API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	logger  *slog.Logger
	models  map[string]superagent.ModelInfo

	encMu sync.Mutex
	encs  map[string]*tiktoken.Tiktoken
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithName overrides the provider name (default "openai"). Use distinct
// names when registering several OpenAI-compatible endpoints with one
// router.
func WithName(name string) ProviderOption {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient replaces the HTTP client (timeouts, proxies, tests).
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.client = c }
}

// WithModelInfo registers a model's capabilities and rate sheet.
func WithModelInfo(info superagent.ModelInfo) ProviderOption {
	return func(p *Provider) { p.models[info.ID] = info }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "https://api.groq.com/openai/v1", "http://localhost:11434/v1"). The
// /chat/completions path is appended automatically. model, when non-empty,
// overrides the model named in each request.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
		name:    "openai",
		models:  make(map[string]superagent.ModelInfo, len(defaultModels)),
		encs:    make(map[string]*tiktoken.Tiktoken),
	}
	for id, info := range defaultModels {
		p.models[id] = info
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// Generate sends a unary chat request.
func (p *Provider) Generate(ctx context.Context, req superagent.LLMRequest) (superagent.LLMResponse, error) {
	body := buildBody(req, p.model)
	resp, err := p.sendHTTP(ctx, "/chat/completions", body)
	if err != nil {
		return superagent.LLMResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return superagent.LLMResponse{}, p.httpErr(resp)
	}
	var wire chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return superagent.LLMResponse{}, &superagent.ProviderError{
			Provider: p.name,
			Message:  fmt.Sprintf("decode response: %v", err),
		}
	}
	return parseResponse(wire, p.name), nil
}

// Stream sends a streaming chat request, forwarding deltas into ch. The
// channel stays open; ownership remains with the caller.
func (p *Provider) Stream(ctx context.Context, req superagent.LLMRequest, ch chan<- superagent.LLMStreamChunk) (superagent.LLMResponse, error) {
	body := buildBody(req, p.model)
	body.Stream = true
	body.StreamOptions = &streamOptions{IncludeUsage: true}

	resp, err := p.sendHTTP(ctx, "/chat/completions", body)
	if err != nil {
		return superagent.LLMResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return superagent.LLMResponse{}, p.httpErr(resp)
	}
	return streamSSE(ctx, resp.Body, ch, p.name)
}

// CountTokens tokenizes text with the model's tiktoken encoding. Unknown
// models fall back to cl100k_base so counts stay deterministic.
func (p *Provider) CountTokens(model, text string) (int, error) {
	enc, err := p.encoding(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

func (p *Provider) encoding(model string) (*tiktoken.Tiktoken, error) {
	p.encMu.Lock()
	defer p.encMu.Unlock()
	if enc, ok := p.encs[model]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, &superagent.ProviderError{
				Provider: p.name,
				Message:  fmt.Sprintf("load tokenizer: %v", err),
			}
		}
	}
	p.encs[model] = enc
	return enc, nil
}

// ModelInfo reports the capabilities and rate sheet for a model.
func (p *Provider) ModelInfo(model string) (superagent.ModelInfo, bool) {
	info, ok := p.models[model]
	return info, ok
}

// sendHTTP marshals body and posts it to the given API path.
func (p *Provider) sendHTTP(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &superagent.ProviderError{
			Provider: p.name,
			Message:  fmt.Sprintf("marshal request: %v", err),
		}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &superagent.ProviderError{
			Provider: p.name,
			Message:  fmt.Sprintf("create request: %v", err),
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &superagent.ProviderError{
			Provider:  p.name,
			Message:   err.Error(),
			Retryable: true,
		}
	}
	return resp, nil
}

// httpErr reads the error body and returns an HTTPError carrying the parsed
// Retry-After header for the retry middleware.
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	retryAfter := 0
	if v := resp.Header.Get("Retry-After"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			retryAfter = n
		}
	}
	return &superagent.HTTPError{
		Status:        resp.StatusCode,
		Body:          string(body),
		RetryAfterSec: retryAfter,
	}
}

// Compile-time interface check.
var _ superagent.Provider = (*Provider)(nil)
