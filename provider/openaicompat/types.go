// Package openaicompat provides a native adapter for OpenAI-compatible chat
// completion APIs (OpenAI, OpenRouter, Groq, Together, DeepSeek, Mistral,
// Ollama, vLLM, LM Studio, and anything else speaking the same protocol).
package openaicompat

import "encoding/json"

// --- Request wire types ---

// chatRequest is the chat completions request body.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Tools       []tool    `json:"tools,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Seed        *int64    `json:"seed,omitempty"`
	User        string    `json:"user,omitempty"`
	ToolChoice  any       `json:"tool_choice,omitempty"`
	// When streaming, request usage in the final chunk.
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

// streamOptions controls streaming behavior.
type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// message is a single message in the chat format.
type message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// tool wraps a function definition in the OpenAI tool format.
type tool struct {
	Type     string   `json:"type"` // always "function"
	Function function `json:"function"`
}

// function describes a callable function for tool use.
type function struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// toolCallRequest represents a tool call in a response. During streaming,
// Index indicates which tool call is being updated.
type toolCallRequest struct {
	Index    int          `json:"index"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"` // "function"
	Function functionCall `json:"function"`
}

// functionCall holds the function name and arguments (as a JSON string).
type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// --- Response wire types ---

// chatResponse is the chat completions response. Streaming chunks share the
// shape with Delta populated instead of Message.
type chatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   *usage   `json:"usage,omitempty"`
}

// choice is a single completion choice.
type choice struct {
	Index        int            `json:"index"`
	Message      *choiceMessage `json:"message,omitempty"`
	Delta        *choiceMessage `json:"delta,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

// choiceMessage is the message content within a choice (message or delta).
type choiceMessage struct {
	Role      string            `json:"role,omitempty"`
	Content   string            `json:"content,omitempty"`
	ToolCalls []toolCallRequest `json:"tool_calls,omitempty"`
	Refusal   string            `json:"refusal,omitempty"`
}

// usage contains token usage statistics.
type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- Embeddings wire types ---

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage *usage `json:"usage,omitempty"`
}
