// Package gemini implements the Google Gemini chat and embedding adapters.
package gemini

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	superagent "github.com/superagent-core/superagent"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// geminiModels is the builtin rate sheet. WithModelInfo extends it.
var geminiModels = map[string]superagent.ModelInfo{
	"gemini-2.0-flash": {
		ID: "gemini-2.0-flash", Provider: "gemini",
		ContextWindow: 1048576, MaxOutputTokens: 8192,
		SupportsStreaming: true, SupportsFunctions: true, SupportsVision: true, SupportsJSONMode: true,
		InputCostPer1K: 0.0001, OutputCostPer1K: 0.0004,
	},
	"gemini-1.5-pro": {
		ID: "gemini-1.5-pro", Provider: "gemini",
		ContextWindow: 2097152, MaxOutputTokens: 8192,
		SupportsStreaming: true, SupportsFunctions: true, SupportsVision: true, SupportsJSONMode: true,
		InputCostPer1K: 0.00125, OutputCostPer1K: 0.005,
	},
	"gemini-1.5-flash": {
		ID: "gemini-1.5-flash", Provider: "gemini",
		ContextWindow: 1048576, MaxOutputTokens: 8192,
		SupportsStreaming: true, SupportsFunctions: true, SupportsVision: true, SupportsJSONMode: true,
		InputCostPer1K: 0.000075, OutputCostPer1K: 0.0003,
	},
}

// Gemini implements the provider contract for Google Gemini models via the
// generateContent and streamGenerateContent endpoints.
type Gemini struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	thinkingEnabled bool
	codeExecution   bool
	googleSearch    bool
	urlContext      bool
	cachedContent   string
	models          map[string]superagent.ModelInfo
}

// New creates a Gemini chat provider. model overrides the model named in
// each request when non-empty.
func New(apiKey, model string, opts ...Option) *Gemini {
	g := &Gemini{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
		models:     make(map[string]superagent.ModelInfo, len(geminiModels)),
	}
	for id, info := range geminiModels {
		g.models[id] = info
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.New(slog.DiscardHandler)
	}
	return g
}

// Name returns "gemini".
func (g *Gemini) Name() string { return "gemini" }

// ModelInfo reports the capabilities and rate sheet for a model.
func (g *Gemini) ModelInfo(model string) (superagent.ModelInfo, bool) {
	info, ok := g.models[model]
	return info, ok
}

// CountTokens estimates the token count. Gemini tokenization is only
// available via the remote countTokens endpoint, so this uses the published
// ~4 characters per token heuristic. Deterministic per (model, text).
func (g *Gemini) CountTokens(model, text string) (int, error) {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4, nil
}

func (g *Gemini) resolveModel(req superagent.LLMRequest) string {
	if g.model != "" {
		return g.model
	}
	return req.Model
}

// Generate sends a unary generateContent request.
func (g *Gemini) Generate(ctx context.Context, req superagent.LLMRequest) (superagent.LLMResponse, error) {
	body := g.buildBody(req)
	model := g.resolveModel(req)
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, model, g.apiKey)

	respBody, err := g.post(ctx, url, body)
	if err != nil {
		return superagent.LLMResponse{}, err
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return superagent.LLMResponse{}, g.wrapErr("parse response: " + err.Error())
	}

	out := superagent.LLMResponse{Model: model, Provider: "gemini"}
	if len(parsed.Candidates) > 0 {
		cand := parsed.Candidates[0]
		out.FinishReason = mapFinishReason(cand.FinishReason)
		var content strings.Builder
		for _, part := range cand.Content.Parts {
			// Skip thinking parts.
			if part.Thought {
				continue
			}
			if part.Text != nil {
				content.WriteString(*part.Text)
			}
			if part.FunctionCall != nil {
				args := part.FunctionCall.Args
				if len(args) == 0 || !json.Valid(args) {
					args = json.RawMessage(`{}`)
				}
				out.ToolCalls = append(out.ToolCalls, superagent.ToolCall{
					ID:        part.FunctionCall.Name,
					Name:      part.FunctionCall.Name,
					Args:      args,
					Timestamp: superagent.NowUnix(),
				})
			}
		}
		out.Content = content.String()
	}
	if parsed.UsageMetadata != nil {
		out.Usage = superagent.Usage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
		}
		out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
	}
	return out, nil
}

// Stream sends a streamGenerateContent request and forwards text deltas into
// ch. The channel belongs to the caller and stays open.
func (g *Gemini) Stream(ctx context.Context, req superagent.LLMRequest, ch chan<- superagent.LLMStreamChunk) (superagent.LLMResponse, error) {
	body := g.buildBody(req)
	model := g.resolveModel(req)
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", g.baseURL, model, g.apiKey)

	payload, err := json.Marshal(body)
	if err != nil {
		return superagent.LLMResponse{}, g.wrapErr("marshal body: " + err.Error())
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return superagent.LLMResponse{}, g.wrapErr("create request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return superagent.LLMResponse{}, &superagent.ProviderError{
			Provider: "gemini", Message: err.Error(), Retryable: true,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return superagent.LLMResponse{}, httpErr(resp, string(b))
	}

	var fullContent strings.Builder
	var usage *superagent.Usage
	var finishReason string

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "" {
			continue
		}
		var chunk geminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // skip malformed chunks
		}
		if chunk.UsageMetadata != nil {
			usage = &superagent.Usage{
				PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
				CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
			}
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		cand := chunk.Candidates[0]
		if cand.FinishReason != "" {
			finishReason = mapFinishReason(cand.FinishReason)
		}
		for _, part := range cand.Content.Parts {
			if part.Thought || part.Text == nil || *part.Text == "" {
				continue
			}
			fullContent.WriteString(*part.Text)
			select {
			case ch <- superagent.LLMStreamChunk{Model: model, Delta: *part.Text, Role: superagent.RoleAssistant}:
			case <-ctx.Done():
				return superagent.LLMResponse{}, ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return superagent.LLMResponse{}, err
	}

	final := superagent.LLMStreamChunk{Model: model, FinishReason: finishReason, Usage: usage}
	select {
	case ch <- final:
	case <-ctx.Done():
		return superagent.LLMResponse{}, ctx.Err()
	}

	out := superagent.LLMResponse{
		Model:        model,
		Content:      fullContent.String(),
		FinishReason: finishReason,
		Provider:     "gemini",
	}
	if usage != nil {
		out.Usage = *usage
	}
	return out, nil
}

// post sends body and returns the raw response payload.
func (g *Gemini) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, g.wrapErr("marshal body: " + err.Error())
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, g.wrapErr("create request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, &superagent.ProviderError{Provider: "gemini", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, g.wrapErr("read response: " + err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpErr(resp, string(respBody))
	}
	return respBody, nil
}

func (g *Gemini) wrapErr(msg string) error {
	return &superagent.ProviderError{Provider: "gemini", Message: msg}
}

// httpErr builds an HTTPError, taking the retry delay from the Retry-After
// header or the google.rpc.RetryInfo detail in the error body.
func httpErr(resp *http.Response, body string) error {
	ra := 0
	if v := resp.Header.Get("Retry-After"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			ra = n
		}
	}
	if ra == 0 {
		ra = int(parseRetryInfo(body).Seconds())
	}
	return &superagent.HTTPError{
		Status:        resp.StatusCode,
		Body:          body,
		RetryAfterSec: ra,
	}
}

// parseRetryInfo extracts retryDelay from a google.rpc.RetryInfo detail.
// Returns 0 if not found or unparseable.
func parseRetryInfo(body string) time.Duration {
	var envelope struct {
		Error struct {
			Details []json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(body), &envelope) != nil {
		return 0
	}
	for _, raw := range envelope.Error.Details {
		var detail struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		}
		if json.Unmarshal(raw, &detail) != nil {
			continue
		}
		if detail.Type == "type.googleapis.com/google.rpc.RetryInfo" && detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
				return d
			}
		}
	}
	return 0
}

// mapFinishReason converts Gemini finish reasons to the common vocabulary.
func mapFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "":
		return ""
	default:
		return strings.ToLower(reason)
	}
}

// ---- Body builder ----

// buildBody constructs the generateContent request body. System messages
// fold into systemInstruction; tool results become functionResponse parts
// under the user role.
func (g *Gemini) buildBody(req superagent.LLMRequest) map[string]any {
	var systemParts []string
	var contents []map[string]any

	for _, m := range req.Messages {
		switch m.Role {
		case superagent.RoleSystem:
			systemParts = append(systemParts, m.Content)

		case superagent.RoleTool:
			name := ""
			if len(m.ToolCallRefs) > 0 {
				name = m.ToolCallRefs[0]
			}
			contents = append(contents, map[string]any{
				"role": "user",
				"parts": []map[string]any{
					{
						"functionResponse": map[string]any{
							"name":     name,
							"response": map[string]any{"result": m.Content},
						},
					},
				},
			})

		default:
			// Gemini requires at least one part per content entry.
			contents = append(contents, map[string]any{
				"role":  mapRole(m.Role),
				"parts": []map[string]any{{"text": m.Content}},
			})
		}
	}

	body := map[string]any{"contents": contents}

	if len(systemParts) > 0 {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{
				{"text": strings.Join(systemParts, "\n\n")},
			},
		}
	}
	if g.cachedContent != "" {
		body["cachedContent"] = g.cachedContent
	}

	var toolEntries []map[string]any
	if len(req.Tools) > 0 {
		declarations := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			var params any
			if len(t.Parameters) > 0 {
				if err := json.Unmarshal(t.Parameters, &params); err != nil {
					params = map[string]any{}
				}
			} else {
				params = map[string]any{}
			}
			declarations = append(declarations, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			})
		}
		toolEntries = append(toolEntries, map[string]any{"functionDeclarations": declarations})
	}
	if g.codeExecution {
		toolEntries = append(toolEntries, map[string]any{"codeExecution": map[string]any{}})
	}
	if g.googleSearch {
		toolEntries = append(toolEntries, map[string]any{"googleSearch": map[string]any{}})
	}
	if g.urlContext {
		toolEntries = append(toolEntries, map[string]any{"urlContext": map[string]any{}})
	}
	if len(toolEntries) > 0 {
		body["tools"] = toolEntries
	}

	genConfig := map[string]any{
		"temperature": req.Temperature,
		"topP":        req.TopP,
	}
	if req.MaxTokens > 0 {
		genConfig["maxOutputTokens"] = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		genConfig["stopSequences"] = req.Stop
	}
	if g.thinkingEnabled {
		genConfig["thinkingConfig"] = map[string]any{"thinkingBudget": -1}
	}
	body["generationConfig"] = genConfig

	return body
}

// mapRole converts common roles to Gemini API roles.
func mapRole(role string) string {
	if role == superagent.RoleAssistant {
		return "model"
	}
	return role
}

// ---- Wire types ----

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text         *string         `json:"text,omitempty"`
	FunctionCall *geminiFuncCall `json:"functionCall,omitempty"`
	Thought      bool            `json:"thought,omitempty"`
}

type geminiFuncCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

// ---- Embedding provider ----

// Embedding implements the embedding contract for Gemini embedding models.
type Embedding struct {
	apiKey     string
	model      string
	dims       int
	baseURL    string
	httpClient *http.Client
}

// NewEmbedding creates a Gemini embedding provider.
func NewEmbedding(apiKey, model string, dims int) *Embedding {
	return &Embedding{
		apiKey:     apiKey,
		model:      model,
		dims:       dims,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
}

// Name returns "gemini".
func (e *Embedding) Name() string { return "gemini" }

// Dimensions returns the configured embedding dimensionality.
func (e *Embedding) Dimensions() int { return e.dims }

// Embed embeds each text sequentially and returns vectors in input order.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", e.baseURL, e.model, e.apiKey)

	embeddings := make([][]float32, 0, len(texts))
	for _, text := range texts {
		body := map[string]any{
			"content": map[string]any{
				"parts": []map[string]any{{"text": text}},
			},
			"outputDimensionality": e.dims,
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &superagent.ProviderError{Provider: "gemini", Message: "marshal embed body: " + err.Error()}
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
		if err != nil {
			return nil, &superagent.ProviderError{Provider: "gemini", Message: "create embed request: " + err.Error()}
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := e.httpClient.Do(httpReq)
		if err != nil {
			return nil, &superagent.ProviderError{Provider: "gemini", Message: err.Error(), Retryable: true}
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &superagent.ProviderError{Provider: "gemini", Message: "read embed response: " + err.Error()}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, httpErr(resp, string(respBody))
		}

		var parsed struct {
			Embedding *struct {
				Values []float64 `json:"values"`
			} `json:"embedding"`
		}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, &superagent.ProviderError{Provider: "gemini", Message: "parse embed response: " + err.Error()}
		}
		if parsed.Embedding == nil {
			return nil, &superagent.ProviderError{Provider: "gemini", Message: "missing embedding.values in response"}
		}
		vec := make([]float32, len(parsed.Embedding.Values))
		for i, v := range parsed.Embedding.Values {
			vec[i] = float32(v)
		}
		embeddings = append(embeddings, vec)
	}
	return embeddings, nil
}

// Compile-time interface assertions.
var (
	_ superagent.Provider          = (*Gemini)(nil)
	_ superagent.EmbeddingProvider = (*Embedding)(nil)
)
