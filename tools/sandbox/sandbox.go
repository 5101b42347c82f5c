// Package sandbox exposes code execution as a registered tool. The tool
// bridges the model's execute_code calls to a CodeRunner, and lets the
// running code dispatch back into the tool registry.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	superagent "github.com/superagent-core/superagent"
)

var executeCodeSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"code": {"type": "string", "description": "Source code to execute"},
		"runtime": {"type": "string", "enum": ["python", "node", "bash"], "description": "Execution runtime, default python"},
		"session_id": {"type": "string", "description": "Workspace session for file persistence"}
	},
	"required": ["code"]
}`)

// Tool runs model-written code through a CodeRunner.
type Tool struct {
	runner   superagent.CodeRunner
	dispatch superagent.DispatchFunc
	logger   *slog.Logger
}

var _ superagent.Tool = (*Tool)(nil)

// ToolOption configures a Tool.
type ToolOption func(*Tool)

// WithDispatch lets sandboxed code call back into registered tools. Without
// it, call_tool from inside the sandbox fails.
func WithDispatch(d superagent.DispatchFunc) ToolOption {
	return func(t *Tool) { t.dispatch = d }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) ToolOption {
	return func(t *Tool) { t.logger = l }
}

// New creates the execute_code tool over runner.
func New(runner superagent.CodeRunner, opts ...ToolOption) *Tool {
	t := &Tool{runner: runner, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tool) Definitions() []superagent.ToolDefinition {
	return []superagent.ToolDefinition{{
		Name:        "execute_code",
		Description: "Execute code in a sandbox. Use set_result(data) for structured output and call_tool(name, args) to invoke registered tools.",
		Parameters:  executeCodeSchema,
	}}
}

// Execute runs the requested code. Execution failures (timeouts, nonzero
// exits) come back in ToolResult.Error; only infrastructure failures return
// an error.
func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (superagent.ToolResult, error) {
	if name != "execute_code" {
		return superagent.ToolResult{}, &superagent.ToolNotFoundError{Tool: name}
	}
	req, err := superagent.DecodeArgs[superagent.CodeRequest]("execute_code", args)
	if err != nil {
		return superagent.ToolResult{}, err
	}
	res, err := t.runner.Run(ctx, req, t.dispatch)
	if err != nil {
		return superagent.ToolResult{}, err
	}
	if res.Error != "" {
		t.logger.Warn("code execution failed", "error", res.Error, "exit_code", res.ExitCode)
		return superagent.ToolResult{Error: fmt.Sprintf("%s (logs: %s)", res.Error, clip(res.Logs, 500))}, nil
	}
	out := res.Output
	if out == "" {
		out = res.Logs
	}
	return superagent.ToolResult{Content: out}, nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
