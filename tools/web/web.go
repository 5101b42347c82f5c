// Package web provides the web_fetch tool: HTTP GET with readable-text
// extraction via go-readability. Every request passes the security policy's
// domain allow list before any network traffic.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	superagent "github.com/superagent-core/superagent"
)

const (
	maxBodyBytes   = 1 << 20
	maxResultChars = 20_000
)

// Tool fetches URLs and extracts their readable content.
type Tool struct {
	policy *superagent.Policy
	client *http.Client
	logger *slog.Logger
}

var _ superagent.Tool = (*Tool)(nil)

// ToolOption configures a Tool.
type ToolOption func(*Tool)

// WithHTTPClient replaces the default client (15s timeout).
func WithHTTPClient(c *http.Client) ToolOption {
	return func(t *Tool) { t.client = c }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) ToolOption {
	return func(t *Tool) { t.logger = l }
}

// New creates the web tool. The policy's domain allow list gates every
// fetch; the default policy denies all domains.
func New(policy *superagent.Policy, opts ...ToolOption) *Tool {
	if policy == nil {
		policy = superagent.NewPolicy()
	}
	t := &Tool{
		policy: policy,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tool) Definitions() []superagent.ToolDefinition {
	return []superagent.ToolDefinition{{
		Name:        "web_fetch",
		Description: "Fetch a URL and extract its readable text content. Use for reading web pages, articles, documentation.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"URL to fetch"}},"required":["url"]}`),
	}}
}

// Execute fetches one URL. Denied domains and HTTP failures come back in
// ToolResult.Error.
func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (superagent.ToolResult, error) {
	if name != "web_fetch" {
		return superagent.ToolResult{}, &superagent.ToolNotFoundError{Tool: name}
	}
	params, err := superagent.DecodeArgs[struct {
		URL string `json:"url"`
	}](name, args)
	if err != nil {
		return superagent.ToolResult{}, err
	}

	content, err := t.Fetch(ctx, params.URL)
	if err != nil {
		return superagent.ToolResult{Error: err.Error()}, nil
	}
	if len(content) > maxResultChars {
		content = content[:maxResultChars] + "\n... (truncated)"
	}
	return superagent.ToolResult{Content: content}, nil
}

// Fetch downloads a URL and extracts readable text. Exported so ingestion
// can reuse it for URL context sources.
func (t *Tool) Fetch(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("invalid URL: %s", rawURL)
	}
	if err := t.policy.CheckDomain(parsed.Hostname()); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; SuperAgent/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}
	html := string(body)

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.TextContent), nil
	}
	t.logger.Debug("readability extraction failed, stripping tags", "url", rawURL)
	return stripHTML(html), nil
}

var (
	tagPattern        = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>`)
	anglePattern      = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\n{3,}`)
)

// stripHTML is the fallback when readability finds no article content.
func stripHTML(html string) string {
	text := tagPattern.ReplaceAllString(html, "")
	text = anglePattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = whitespacePattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
