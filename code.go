package superagent

import (
	"context"
	"time"
)

// CodeRunner executes model-written code in a sandboxed environment.
// Implementations control the runtime (subprocess, container). The dispatch
// function bridges code back to the tool registry, so running code can call
// any registered tool.
type CodeRunner interface {
	Run(ctx context.Context, req CodeRequest, dispatch DispatchFunc) (CodeResult, error)
}

// DispatchResult is the outcome of one bridged tool call.
type DispatchResult struct {
	Content string
	IsError bool
}

// DispatchFunc executes a single tool call on behalf of sandboxed code.
type DispatchFunc func(ctx context.Context, tc ToolCall) DispatchResult

// RegistryDispatch builds a DispatchFunc over a tool registry. Errors come
// back as DispatchResults so the sandbox protocol never breaks.
func RegistryDispatch(registry *ToolRegistry) DispatchFunc {
	return func(ctx context.Context, tc ToolCall) DispatchResult {
		result, err := registry.Execute(ctx, tc.Name, tc.Args)
		if err != nil {
			return DispatchResult{Content: "error: " + err.Error(), IsError: true}
		}
		if result.Error != "" {
			return DispatchResult{Content: "error: " + result.Error, IsError: true}
		}
		return DispatchResult{Content: result.Content}
	}
}

// CodeRequest is the input to CodeRunner.Run.
type CodeRequest struct {
	// Code is the source code to execute.
	Code string `json:"code"`
	// Runtime selects the execution environment ("python", "node", "bash").
	// Empty defaults to the runner's default.
	Runtime string `json:"runtime,omitempty"`
	// Timeout is the maximum execution duration. Zero means runner default.
	Timeout time.Duration `json:"-"`
	// SessionID enables workspace persistence across executions. Same
	// session ID, same workspace directory. Empty is isolated per run.
	SessionID string `json:"session_id,omitempty"`
	// Files are placed in the workspace before execution.
	Files []CodeFile `json:"files,omitempty"`
}

// CodeResult is the output of CodeRunner.Run.
type CodeResult struct {
	// Output is the structured result set via set_result() in code.
	Output string `json:"output"`
	// Logs captures print() output and stderr from the execution.
	Logs string `json:"logs,omitempty"`
	// ExitCode is the process exit code (0 = success).
	ExitCode int `json:"exit_code"`
	// Error describes execution failure (timeout, syntax error, etc).
	Error string `json:"error,omitempty"`
	// Files are explicitly returned by the code.
	Files []CodeFile `json:"files,omitempty"`
}

// CodeFile is a file transferred between app and sandbox.
type CodeFile struct {
	// Name is the filename (e.g. "chart.png", "data.csv").
	Name string `json:"name"`
	// MIME is the media type. Set on output files.
	MIME string `json:"mime,omitempty"`
	// Data holds inline file bytes. Tagged json:"-" to avoid
	// double-encoding; wire format uses base64 in a separate field.
	Data []byte `json:"-"`
	// URL is an alternative to Data: the sandbox downloads via HTTP GET.
	// Future: not yet implemented by the reference sandbox.
	URL string `json:"url,omitempty"`
}
