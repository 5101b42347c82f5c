package superagent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// IntentType classifies what the user wants from one input.
type IntentType string

const (
	IntentChat       IntentType = "chat"
	IntentCodeWrite  IntentType = "code_write"
	IntentCodeEdit   IntentType = "code_edit"
	IntentCodeReview IntentType = "code_review"
	IntentFileRead   IntentType = "file_read"
	IntentFileWrite  IntentType = "file_write"
	IntentSearch     IntentType = "search"
	IntentExecute    IntentType = "execute"
	IntentPlan       IntentType = "plan"
	IntentExplain    IntentType = "explain"
	IntentDebug      IntentType = "debug"
	IntentTest       IntentType = "test"
	IntentRefactor   IntentType = "refactor"
	IntentUnknown    IntentType = "unknown"
)

// Intent is one classified user input.
type Intent struct {
	Type       IntentType     `json:"type"`
	Confidence float64        `json:"confidence"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`
}

const intentSystemPrompt = `You classify user requests for a coding assistant.

Intent types:
- chat: general conversation, greetings, questions not about a codebase
- code_write: write new code from scratch
- code_edit: modify existing code
- code_review: review code for problems
- file_read: read or show file contents
- file_write: create or overwrite a file with given content
- search: find something in files or the web
- execute: run a command or program
- plan: break a task into steps
- explain: explain code or a concept
- debug: diagnose an error or unexpected behavior
- test: write or run tests
- refactor: restructure code without changing behavior
- unknown: none of the above

Respond with JSON {"type": ..., "confidence": 0.0-1.0, "parameters": {...}, "reasoning": ...}`

// IntentRouter classifies raw user input into a typed intent using a short
// low-temperature model call.
type IntentRouter struct {
	provider Provider
	model    string
	logger   *slog.Logger
}

// IntentRouterOption configures an IntentRouter.
type IntentRouterOption func(*IntentRouter)

// IntentLogger sets the structured logger.
func IntentLogger(l *slog.Logger) IntentRouterOption {
	return func(r *IntentRouter) { r.logger = l }
}

// NewIntentRouter creates a router classifying with model on provider.
func NewIntentRouter(provider Provider, model string, opts ...IntentRouterOption) *IntentRouter {
	r := &IntentRouter{provider: provider, model: model}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Classify types one user input. Any model or parse failure degrades to an
// unknown intent at zero confidence rather than an error, so the caller can
// always route.
func (r *IntentRouter) Classify(ctx context.Context, input string) Intent {
	req, err := NewLLMRequest(r.model, []Message{
		SystemMessage(intentSystemPrompt),
		UserMessage(input),
	}, WithTemperature(0.1), WithMaxTokens(500))
	if err != nil {
		return classificationFailure(err.Error())
	}

	resp, err := r.provider.Generate(ctx, req)
	if err != nil {
		r.logger.Warn("intent classification failed", "error", err)
		return classificationFailure(err.Error())
	}

	intent, err := parseIntent(resp.Content)
	if err != nil {
		r.logger.Warn("intent parse failed", "error", err, "content", truncateStr(resp.Content, 200))
		return classificationFailure(err.Error())
	}
	r.logger.Info("intent classified",
		"type", intent.Type,
		"confidence", intent.Confidence)
	return intent
}

func classificationFailure(reason string) Intent {
	return Intent{
		Type:       IntentUnknown,
		Confidence: 0.0,
		Reasoning:  "Classification error: " + reason,
	}
}

// parseIntent decodes the model's JSON answer, tolerating code fences, and
// normalizes unrecognized types to unknown.
func parseIntent(content string) (Intent, error) {
	text := strings.TrimSpace(content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var raw struct {
		Type       string         `json:"type"`
		Confidence float64        `json:"confidence"`
		Parameters map[string]any `json:"parameters"`
		Reasoning  string         `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Intent{}, err
	}
	return Intent{
		Type:       normalizeIntentType(raw.Type),
		Confidence: clamp01(raw.Confidence),
		Parameters: raw.Parameters,
		Reasoning:  raw.Reasoning,
	}, nil
}

func normalizeIntentType(s string) IntentType {
	t := IntentType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case IntentChat, IntentCodeWrite, IntentCodeEdit, IntentCodeReview,
		IntentFileRead, IntentFileWrite, IntentSearch, IntentExecute,
		IntentPlan, IntentExplain, IntentDebug, IntentTest, IntentRefactor:
		return t
	default:
		return IntentUnknown
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
