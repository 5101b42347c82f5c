package gemini

import (
	"log/slog"
	"net/http"

	superagent "github.com/superagent-core/superagent"
)

// Option configures a Gemini provider.
type Option func(*Gemini)

// WithThinking enables thinking mode. When enabled, sends thinkingConfig
// with budget -1 (dynamic); otherwise thinkingConfig is omitted entirely.
func WithThinking(enabled bool) Option {
	return func(g *Gemini) { g.thinkingEnabled = enabled }
}

// WithCodeExecution enables the server-side code execution tool.
func WithCodeExecution(enabled bool) Option {
	return func(g *Gemini) { g.codeExecution = enabled }
}

// WithGoogleSearch enables grounding with Google Search.
func WithGoogleSearch(enabled bool) Option {
	return func(g *Gemini) { g.googleSearch = enabled }
}

// WithURLContext enables the URL context tool.
func WithURLContext(enabled bool) Option {
	return func(g *Gemini) { g.urlContext = enabled }
}

// WithCachedContent references a cached content resource
// ("cachedContents/...") in every request. See CreateCachedContent.
func WithCachedContent(name string) Option {
	return func(g *Gemini) { g.cachedContent = name }
}

// WithBaseURL overrides the API base URL (tests, proxies).
func WithBaseURL(url string) Option {
	return func(g *Gemini) { g.baseURL = url }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gemini) { g.httpClient = c }
}

// WithModelInfo registers a model's capabilities and rate sheet.
func WithModelInfo(info superagent.ModelInfo) Option {
	return func(g *Gemini) { g.models[info.ID] = info }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gemini) { g.logger = l }
}
