package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	superagent "github.com/superagent-core/superagent"
)

// CachedContent represents a Gemini cached content resource. Create one
// with Gemini.CreateCachedContent, then reference it in requests via
// WithCachedContent(cc.Name).
type CachedContent struct {
	// Name is the resource identifier (e.g. "cachedContents/abc123").
	// Set by the server on creation.
	Name string `json:"name,omitempty"`

	// Model is the model this cache is bound to (e.g.
	// "models/gemini-2.0-flash"). A cache can only be used with the model
	// it was created for.
	Model string `json:"model"`

	// DisplayName is an optional human-readable label (max 128 chars).
	DisplayName string `json:"displayName,omitempty"`

	// Contents is the conversation content to cache. Input only, immutable
	// after creation.
	Contents []CachedContentPart `json:"contents,omitempty"`

	// SystemInstruction is the system prompt to cache. Input only.
	SystemInstruction *CachedContentPart `json:"systemInstruction,omitempty"`

	// TTL is the time-to-live duration (e.g. "3600s"). Input only; the
	// server converts it to ExpireTime. Defaults to 1 hour when neither TTL
	// nor ExpireTime is set.
	TTL string `json:"ttl,omitempty"`

	// ExpireTime is the absolute expiration time (RFC 3339). Output only on
	// creation; can be set on update.
	ExpireTime string `json:"expireTime,omitempty"`

	// UsageMetadata contains the total cached token count. Output only.
	UsageMetadata *CacheUsageMetadata `json:"usageMetadata,omitempty"`

	CreateTime string `json:"createTime,omitempty"`
	UpdateTime string `json:"updateTime,omitempty"`
}

// CachedContentPart represents content to cache.
type CachedContentPart struct {
	Role  string           `json:"role,omitempty"`
	Parts []map[string]any `json:"parts"`
}

// CacheUsageMetadata contains token count information for cached content.
type CacheUsageMetadata struct {
	TotalTokenCount int `json:"totalTokenCount"`
}

// CacheListResponse is the response from listing cached contents.
type CacheListResponse struct {
	CachedContents []CachedContent `json:"cachedContents"`
	NextPageToken  string          `json:"nextPageToken,omitempty"`
}

// NewTextCachedContent creates a CachedContent with a system instruction to
// cache. The model includes the "models/" prefix. TTL below 1 minute is
// rejected by the API; zero means the 1 hour default.
func NewTextCachedContent(model, systemInstruction string, ttl time.Duration) CachedContent {
	cc := CachedContent{
		Model: model,
		SystemInstruction: &CachedContentPart{
			Parts: []map[string]any{{"text": systemInstruction}},
		},
	}
	if ttl > 0 {
		cc.TTL = fmt.Sprintf("%ds", int(ttl.Seconds()))
	}
	return cc
}

// CreateCachedContent creates a cached content resource. The cache is
// immutable after creation; only the expiration can be updated. Returns the
// created resource with Name populated.
func (g *Gemini) CreateCachedContent(ctx context.Context, cc CachedContent) (CachedContent, error) {
	url := fmt.Sprintf("%s/cachedContents?key=%s", g.baseURL, g.apiKey)
	return cacheRequest[CachedContent](ctx, g.httpClient, http.MethodPost, url, &cc)
}

// GetCachedContent retrieves a cached content resource by full name.
func (g *Gemini) GetCachedContent(ctx context.Context, name string) (CachedContent, error) {
	url := fmt.Sprintf("%s/%s?key=%s", g.baseURL, name, g.apiKey)
	return cacheRequest[CachedContent](ctx, g.httpClient, http.MethodGet, url, nil)
}

// ListCachedContents lists all cached content resources.
func (g *Gemini) ListCachedContents(ctx context.Context) ([]CachedContent, error) {
	url := fmt.Sprintf("%s/cachedContents?key=%s", g.baseURL, g.apiKey)
	resp, err := cacheRequest[CacheListResponse](ctx, g.httpClient, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return resp.CachedContents, nil
}

// UpdateCachedContent updates the expiration of a cached content resource.
// Only TTL or ExpireTime can change; content is immutable. Name must be set.
func (g *Gemini) UpdateCachedContent(ctx context.Context, cc CachedContent) (CachedContent, error) {
	var updateMask string
	if cc.TTL != "" {
		updateMask = "ttl"
	} else if cc.ExpireTime != "" {
		updateMask = "expireTime"
	}
	url := fmt.Sprintf("%s/%s?key=%s", g.baseURL, cc.Name, g.apiKey)
	if updateMask != "" {
		url += "&updateMask=" + updateMask
	}
	return cacheRequest[CachedContent](ctx, g.httpClient, http.MethodPatch, url, &cc)
}

// DeleteCachedContent deletes a cached content resource by full name.
func (g *Gemini) DeleteCachedContent(ctx context.Context, name string) error {
	url := fmt.Sprintf("%s/%s?key=%s", g.baseURL, name, g.apiKey)
	_, err := cacheRequest[json.RawMessage](ctx, g.httpClient, http.MethodDelete, url, nil)
	return err
}

// cacheRequest is a generic helper for cache API requests.
func cacheRequest[T any](ctx context.Context, client *http.Client, method, url string, body any) (T, error) {
	var zero T
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return zero, &superagent.ProviderError{Provider: "gemini", Message: "marshal cache request: " + err.Error()}
		}
		reqBody = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return zero, &superagent.ProviderError{Provider: "gemini", Message: "create cache request: " + err.Error()}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return zero, &superagent.ProviderError{Provider: "gemini", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, &superagent.ProviderError{Provider: "gemini", Message: "read cache response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return zero, httpErr(resp, string(respBody))
	}

	// DELETE returns an empty body.
	if len(respBody) == 0 {
		return zero, nil
	}

	var result T
	if err := json.Unmarshal(respBody, &result); err != nil {
		return zero, &superagent.ProviderError{Provider: "gemini", Message: "parse cache response: " + err.Error()}
	}
	return result, nil
}
