package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	superagent "github.com/superagent-core/superagent"
)

func testRequest(t *testing.T, opts ...superagent.RequestOption) superagent.LLMRequest {
	t.Helper()
	req, err := superagent.NewLLMRequest("gpt-4o-mini", []superagent.Message{
		superagent.SystemMessage("You are terse."),
		superagent.UserMessage("hello"),
	}, opts...)
	if err != nil {
		t.Fatalf("NewLLMRequest: %v", err)
	}
	return req
}

func TestGenerateParsesResponse(t *testing.T) {
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("auth = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "hi"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	p := NewProvider("sk-test", "", srv.URL)
	resp, err := p.Generate(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("content = %q, want %q", resp.Content, "hi")
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", resp.Usage.TotalTokens)
	}
	if resp.Provider != "openai" {
		t.Errorf("provider = %q", resp.Provider)
	}
	if gotBody.Model != "gpt-4o-mini" {
		t.Errorf("wire model = %q", gotBody.Model)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" {
		t.Errorf("wire messages = %+v", gotBody.Messages)
	}
}

func TestGenerateToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "chatcmpl-2",
			"choices": [{"index": 0, "finish_reason": "tool_calls",
				"message": {"role": "assistant", "tool_calls": [
					{"id": "call_1", "type": "function",
						"function": {"name": "read_file", "arguments": "{\"path\":\"a.txt\"}"}},
					{"id": "call_2", "type": "function",
						"function": {"name": "broken", "arguments": "not json"}}
				]}}]
		}`))
	}))
	defer srv.Close()

	p := NewProvider("", "", srv.URL)
	resp, err := p.Generate(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Name != "read_file" {
		t.Errorf("name = %q", resp.ToolCalls[0].Name)
	}
	var args map[string]string
	if err := json.Unmarshal(resp.ToolCalls[0].Args, &args); err != nil || args["path"] != "a.txt" {
		t.Errorf("args = %s", resp.ToolCalls[0].Args)
	}
	if string(resp.ToolCalls[1].Args) != "{}" {
		t.Errorf("invalid args should degrade to {}, got %s", resp.ToolCalls[1].Args)
	}
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	}))
	defer srv.Close()

	p := NewProvider("", "", srv.URL)
	_, err := p.Generate(context.Background(), testRequest(t))
	var httpErr *superagent.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("want *HTTPError, got %T: %v", err, err)
	}
	if httpErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d", httpErr.Status)
	}
	if httpErr.RetryAfterSec != 7 {
		t.Errorf("retry-after = %d, want 7", httpErr.RetryAfterSec)
	}
}

func TestStreamAccumulates(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"id":"s1","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		``,
		`data: {"id":"s1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		``,
		`data: {"id":"s1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		``,
		`data: {"id":"s1","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sse))
	}))
	defer srv.Close()

	p := NewProvider("", "", srv.URL)
	ch := make(chan superagent.LLMStreamChunk, 16)
	resp, err := p.Stream(context.Background(), testRequest(t), ch)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	close(ch)

	var deltas strings.Builder
	var sawUsage bool
	for chunk := range ch {
		deltas.WriteString(chunk.Delta)
		if chunk.Usage != nil {
			sawUsage = true
			if chunk.Usage.TotalTokens != 7 {
				t.Errorf("chunk usage = %d, want 7", chunk.Usage.TotalTokens)
			}
		}
	}
	if deltas.String() != "Hello" {
		t.Errorf("deltas = %q, want %q", deltas.String(), "Hello")
	}
	if !sawUsage {
		t.Error("final chunk should carry usage")
	}
	if resp.Content != "Hello" {
		t.Errorf("accumulated content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("usage = %d, want 7", resp.Usage.TotalTokens)
	}
}

func TestStreamToolCallFragments(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"id":"s2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_9","function":{"name":"write_file","arguments":"{\"pa"}}]}}]}`,
		``,
		`data: {"id":"s2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"th\":\"x\"}"}}]}}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sse))
	}))
	defer srv.Close()

	p := NewProvider("", "", srv.URL)
	ch := make(chan superagent.LLMStreamChunk, 16)
	resp, err := p.Stream(context.Background(), testRequest(t), ch)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_9" || tc.Name != "write_file" {
		t.Errorf("tool call = %+v", tc)
	}
	if string(tc.Args) != `{"path":"x"}` {
		t.Errorf("args = %s", tc.Args)
	}
}

func TestBuildBodyToolMessages(t *testing.T) {
	req := superagent.LLMRequest{
		Model: "m",
		Messages: []superagent.Message{
			{Role: superagent.RoleAssistant, Content: "running tool"},
			{Role: superagent.RoleTool, Content: "ok", ToolCallRefs: []string{"call_3"}},
		},
		Temperature: 0.2,
		TopP:        1.0,
		Tools: []superagent.ToolDefinition{
			{Name: "noop", Description: "does nothing"},
		},
		ToolChoice: "auto",
	}
	body := buildBody(req, "")
	if body.Messages[1].ToolCallID != "call_3" {
		t.Errorf("tool_call_id = %q, want call_3", body.Messages[1].ToolCallID)
	}
	if *body.Temperature != 0.2 {
		t.Errorf("temperature = %v", *body.Temperature)
	}
	if len(body.Tools) != 1 || body.Tools[0].Function.Name != "noop" {
		t.Errorf("tools = %+v", body.Tools)
	}
	if string(body.Tools[0].Function.Parameters) != "{}" {
		t.Errorf("empty params should default to {}, got %s", body.Tools[0].Function.Parameters)
	}
	if body.ToolChoice != "auto" {
		t.Errorf("tool_choice = %v", body.ToolChoice)
	}
}

func TestEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"data": [
			{"index": 1, "embedding": [0.4, 0.5]},
			{"index": 0, "embedding": [0.1, 0.2]}
		]}`))
	}))
	defer srv.Close()

	e := NewEmbedding("", "text-embedding-3-small", srv.URL, 2)
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("vectors = %d, want 2", len(vecs))
	}
	if vecs[0][0] != 0.1 || vecs[1][0] != 0.4 {
		t.Errorf("vectors out of order: %v", vecs)
	}
	if e.Dimensions() != 2 {
		t.Errorf("dims = %d", e.Dimensions())
	}
}
