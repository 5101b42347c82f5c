// Package shell provides the shell_command tool. Commands run through
// sh -c in a working directory gated by the security policy, with a per-call
// timeout and output capping. The tool requires consent.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	superagent "github.com/superagent-core/superagent"
)

const (
	defaultTimeout = 30 * time.Second
	maxTimeout     = 5 * time.Minute
	maxOutputChars = 10_000
)

// Tool executes shell commands in a policy-gated working directory.
type Tool struct {
	workdir string
	policy  *superagent.Policy
	timeout time.Duration
	logger  *slog.Logger
}

var _ superagent.Tool = (*Tool)(nil)

// ToolOption configures a Tool.
type ToolOption func(*Tool)

// WithTimeout sets the default command timeout (default: 30s).
func WithTimeout(d time.Duration) ToolOption {
	return func(t *Tool) { t.timeout = d }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) ToolOption {
	return func(t *Tool) { t.logger = l }
}

// New creates the shell tool. Commands run in workdir, which the policy must
// permit for execution. A nil policy falls back to the default policy.
func New(workdir string, policy *superagent.Policy, opts ...ToolOption) *Tool {
	if policy == nil {
		policy = superagent.NewPolicy()
	}
	t := &Tool{
		workdir: workdir,
		policy:  policy,
		timeout: defaultTimeout,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tool) Definitions() []superagent.ToolDefinition {
	return []superagent.ToolDefinition{{
		Name:            "shell_command",
		Description:     "Execute a shell command in the workspace directory. Returns stdout and stderr.",
		Parameters:      json.RawMessage(`{"type":"object","properties":{"command":{"type":"string","description":"Shell command to execute"},"timeout_seconds":{"type":"integer","description":"Timeout in seconds (default 30, max 300)"}},"required":["command"]}`),
		RequiresConsent: true,
	}}
}

// Execute runs one command. Denials, timeouts, and nonzero exits come back
// in ToolResult.Error with captured output preserved in Content.
func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (superagent.ToolResult, error) {
	if name != "shell_command" {
		return superagent.ToolResult{}, &superagent.ToolNotFoundError{Tool: name}
	}
	params, err := superagent.DecodeArgs[struct {
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}](name, args)
	if err != nil {
		return superagent.ToolResult{}, err
	}
	if params.Command == "" {
		return superagent.ToolResult{Error: "command is required"}, nil
	}
	if err := t.policy.CheckPath("execute", t.workdir); err != nil {
		return superagent.ToolResult{Error: err.Error()}, nil
	}

	timeout := t.timeout
	if params.TimeoutSeconds > 0 {
		timeout = time.Duration(params.TimeoutSeconds) * time.Second
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(cmdCtx, "sh", "-c", params.Command)
	cmd.Dir = t.workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.String()
	}
	if len(output) > maxOutputChars {
		output = output[:maxOutputChars] + "\n... (truncated)"
	}
	t.logger.Debug("shell command finished",
		"elapsed", time.Since(start), "error", runErr != nil)

	if runErr != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return superagent.ToolResult{
				Content: output,
				Error:   fmt.Sprintf("command timed out after %s", timeout),
			}, nil
		}
		return superagent.ToolResult{Content: output, Error: runErr.Error()}, nil
	}
	if output == "" {
		output = "(no output)"
	}
	return superagent.ToolResult{Content: output}, nil
}
