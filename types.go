package superagent

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in a conversation. Immutable once appended to a
// session history.
type Message struct {
	Role         string   `json:"role"` // "system", "user", "assistant", "tool"
	Content      string   `json:"content"`
	Name         string   `json:"name,omitempty"`
	ToolCallRefs []string `json:"tool_call_refs,omitempty"`
	Timestamp    int64    `json:"timestamp,omitempty"` // unix seconds
}

// --- Message constructors ---

func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text, Timestamp: NowUnix()}
}

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: NowUnix()}
}

func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text, Timestamp: NowUnix()}
}

func ToolMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallRefs: []string{callID}, Timestamp: NowUnix()}
}

// --- LLM protocol types ---

// LLMRequest is a validated request to a language model. Build one with
// NewLLMRequest; zero-value requests bypass defaulting and must be
// validated explicitly.
type LLMRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	TopP        float64          `json:"top_p"`
	Stop        []string         `json:"stop,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	Seed        *int64           `json:"seed,omitempty"`
	User        string           `json:"user,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

// RequestOption configures an LLMRequest at construction.
type RequestOption func(*LLMRequest)

func WithTemperature(t float64) RequestOption {
	return func(r *LLMRequest) { r.Temperature = t }
}

func WithMaxTokens(n int) RequestOption {
	return func(r *LLMRequest) { r.MaxTokens = n }
}

func WithTopP(p float64) RequestOption {
	return func(r *LLMRequest) { r.TopP = p }
}

// WithStop sets stop sequences. A single sequence may be passed on its own.
func WithStop(stop ...string) RequestOption {
	return func(r *LLMRequest) { r.Stop = stop }
}

func WithRequestTools(tools ...ToolDefinition) RequestOption {
	return func(r *LLMRequest) { r.Tools = tools }
}

func WithToolChoice(choice string) RequestOption {
	return func(r *LLMRequest) { r.ToolChoice = choice }
}

func WithStreaming(on bool) RequestOption {
	return func(r *LLMRequest) { r.Stream = on }
}

func WithSeed(seed int64) RequestOption {
	return func(r *LLMRequest) { r.Seed = &seed }
}

func WithUser(user string) RequestOption {
	return func(r *LLMRequest) { r.User = user }
}

func WithRequestMetadata(md map[string]any) RequestOption {
	return func(r *LLMRequest) { r.Metadata = md }
}

// NewLLMRequest builds a request with defaults (temperature 0.7, top_p 1.0),
// applies options, and validates the result.
func NewLLMRequest(model string, messages []Message, opts ...RequestOption) (LLMRequest, error) {
	req := LLMRequest{
		Model:       model,
		Messages:    messages,
		Temperature: 0.7,
		TopP:        1.0,
	}
	for _, opt := range opts {
		opt(&req)
	}
	if err := req.Validate(); err != nil {
		return LLMRequest{}, err
	}
	return req, nil
}

// Validate checks structural invariants: non-empty model and messages,
// known roles, temperature in [0,2], top_p in [0,1].
func (r LLMRequest) Validate() error {
	if r.Model == "" {
		return &ValidationError{Field: "model", Message: "model is required"}
	}
	if len(r.Messages) == 0 {
		return &ValidationError{Field: "messages", Message: "at least one message is required"}
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		default:
			return &ValidationError{Field: "messages", Message: fmt.Sprintf("message %d has unknown role %q", i, m.Role)}
		}
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return &ValidationError{Field: "temperature", Message: fmt.Sprintf("temperature %g outside [0, 2]", r.Temperature)}
	}
	if r.TopP < 0 || r.TopP > 1 {
		return &ValidationError{Field: "top_p", Message: fmt.Sprintf("top_p %g outside [0, 1]", r.TopP)}
	}
	return nil
}

// LLMResponse is a completed unary generation.
type LLMResponse struct {
	ID           string     `json:"id"`
	Model        string     `json:"model"`
	Content      string     `json:"content"`
	FinishReason string     `json:"finish_reason,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Usage        Usage      `json:"usage"`
	Provider     string     `json:"provider,omitempty"`
	LatencyMS    float64    `json:"latency_ms,omitempty"`
	Cost         float64    `json:"cost,omitempty"`
}

// LLMStreamChunk is one increment of a streaming generation. All chunks of
// one stream share ID; concatenating Delta in arrival order over a
// successful stream yields the content of the equivalent unary response.
type LLMStreamChunk struct {
	ID           string     `json:"id"`
	Model        string     `json:"model"`
	Delta        string     `json:"delta"`
	Role         string     `json:"role,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Usage        *Usage     `json:"usage,omitempty"` // set on the final chunk when the adapter reports it
}

// Usage is token accounting for one generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelInfo describes a model's capabilities and rate sheet.
type ModelInfo struct {
	ID                string  `json:"id"`
	Provider          string  `json:"provider"`
	ContextWindow     int     `json:"context_window"`
	MaxOutputTokens   int     `json:"max_output_tokens"`
	SupportsStreaming bool    `json:"supports_streaming"`
	SupportsFunctions bool    `json:"supports_functions"`
	SupportsVision    bool    `json:"supports_vision"`
	SupportsJSONMode  bool    `json:"supports_json_mode"`
	InputCostPer1K    float64 `json:"input_cost_per_1k"`
	OutputCostPer1K   float64 `json:"output_cost_per_1k"`
}

// Capability names a provider feature a request requires.
type Capability string

const (
	CapabilityChat      Capability = "chat"
	CapabilityStreaming Capability = "streaming"
	CapabilityFunctions Capability = "functions"
	CapabilityVision    Capability = "vision"
	CapabilityEmbedding Capability = "embedding"
)

// ProviderConfig registers one provider with the router. Priority orders the
// fallback chain, higher preferred.
type ProviderConfig struct {
	Name       string        `json:"name"`
	APIKey     string        `json:"api_key,omitempty"`
	BaseURL    string        `json:"base_url,omitempty"`
	Models     []string      `json:"models"`
	Priority   int           `json:"priority"`
	Enabled    bool          `json:"enabled"`
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
}

// --- Tool I/O types ---

// ToolDefinition declares a tool's name, purpose, and JSON Schema for its
// parameters. Definitions are immutable after registration.
type ToolDefinition struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Parameters      json.RawMessage `json:"parameters"` // JSON Schema
	RequiresConsent bool            `json:"requires_consent,omitempty"`
}

// ToolCall is one invocation request, produced by an LLM or a plan step.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// ToolOutput is the recorded result of one tool call.
type ToolOutput struct {
	CallID          string  `json:"call_id"`
	ToolName        string  `json:"tool_name"`
	Success         bool    `json:"success"`
	Output          string  `json:"output,omitempty"`
	Error           string  `json:"error,omitempty"`
	ExecutionTimeMS float64 `json:"execution_time_ms"`
}
