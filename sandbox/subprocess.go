package sandbox

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	superagent "github.com/superagent-core/superagent"
)

//go:embed prelude.py
var preludeSource string

// postludeSource is appended after user code to flush the final result.
const postludeSource = `
if _final_result is not None:
    import json as _json_post
    _msg = _json_post.dumps({"type": "result", "data": _final_result})
    _proto_out.write(_msg + '\n')
    _proto_out.flush()
`

// blockedPatterns reject obviously dangerous code before execution.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`os\.system\s*\(`),
	regexp.MustCompile(`subprocess\.\w+\s*\(`),
}

// SubprocessRunner executes Python code in a subprocess with a JSON protocol
// bridge for tool calls.
type SubprocessRunner struct {
	pythonBin string
	cfg       runnerConfig
}

// compile-time check
var _ superagent.CodeRunner = (*SubprocessRunner)(nil)

// NewSubprocessRunner creates a runner executing Python code via the given
// binary (e.g. "python3").
func NewSubprocessRunner(pythonBin string, opts ...Option) *SubprocessRunner {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &SubprocessRunner{pythonBin: pythonBin, cfg: cfg}
}

// Run executes code in a subprocess. The dispatch function bridges
// call_tool() calls in Python back to the tool registry.
func (r *SubprocessRunner) Run(ctx context.Context, req superagent.CodeRequest, dispatch superagent.DispatchFunc) (superagent.CodeResult, error) {
	for _, pat := range blockedPatterns {
		if pat.MatchString(req.Code) {
			return superagent.CodeResult{
				Error:    fmt.Sprintf("blocked: code contains prohibited pattern: %s", pat.String()),
				ExitCode: 1,
			}, nil
		}
	}

	timeout := r.cfg.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workspace, err := resolveWorkspace(r.cfg.workspace, req.SessionID)
	if err != nil {
		return superagent.CodeResult{}, err
	}
	if err := placeFiles(workspace, req.Files); err != nil {
		return superagent.CodeResult{}, err
	}

	tmpFile, err := os.CreateTemp("", "superagent-code-*.py")
	if err != nil {
		return superagent.CodeResult{}, fmt.Errorf("code runner: create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	script := preludeSource + "\n" + req.Code + "\n" + postludeSource
	if _, err := tmpFile.WriteString(script); err != nil {
		tmpFile.Close()
		return superagent.CodeResult{}, fmt.Errorf("code runner: write script: %w", err)
	}
	tmpFile.Close()

	cmd := exec.CommandContext(ctx, r.pythonBin, tmpFile.Name())
	cmd.Dir = workspace
	cmd.Env = r.buildEnv(workspace)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return superagent.CodeResult{}, fmt.Errorf("code runner: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return superagent.CodeResult{}, fmt.Errorf("code runner: stdout pipe: %w", err)
	}

	var stderrBuf strings.Builder
	cmd.Stderr = &cappedWriter{w: &stderrBuf, max: r.cfg.maxOutput}

	if err := cmd.Start(); err != nil {
		return superagent.CodeResult{}, fmt.Errorf("code runner: start subprocess: %w", err)
	}

	// Protocol loop: read JSON messages from stdout, dispatch tool calls,
	// write results to stdin.
	var finalOutput string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, r.cfg.maxOutput), r.cfg.maxOutput)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var msg protocolMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue // skip malformed lines
		}
		switch msg.Type {
		case "tool_call":
			writeJSON(stdin, r.handleToolCall(ctx, msg, dispatch))
		case "result":
			data, _ := json.Marshal(msg.Data)
			finalOutput = string(data)
		}
	}

	err = cmd.Wait()
	logs := stderrBuf.String()
	if len(logs) > r.cfg.maxOutput {
		logs = logs[:r.cfg.maxOutput] + "\n... (truncated)"
	}

	result := superagent.CodeResult{
		Output: finalOutput,
		Logs:   logs,
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			result.Error = fmt.Sprintf("execution timed out after %s", timeout)
			result.ExitCode = -1
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			result.Error = fmt.Sprintf("exit code %d", exitErr.ExitCode())
		} else {
			result.Error = err.Error()
			result.ExitCode = -1
		}
	}
	return result, nil
}

// buildEnv constructs the subprocess environment.
func (r *SubprocessRunner) buildEnv(workspace string) []string {
	var env []string
	if r.cfg.envPassthrough {
		env = os.Environ()
	} else {
		env = []string{
			"PATH=" + os.Getenv("PATH"),
			"HOME=" + os.Getenv("HOME"),
			"LANG=en_US.UTF-8",
		}
	}
	env = append(env, "_SUPERAGENT_WORKSPACE="+workspace)
	for k, v := range r.cfg.envVars {
		env = append(env, k+"="+v)
	}
	return env
}

// resolveWorkspace picks the working directory: a fixed dir when
// configured, a per-session dir when the request carries a session ID, the
// temp dir otherwise.
func resolveWorkspace(fixed, sessionID string) (string, error) {
	switch {
	case fixed != "":
		return fixed, os.MkdirAll(fixed, 0o755)
	case sessionID != "":
		dir := filepath.Join(os.TempDir(), "superagent-ws-"+sessionID)
		return dir, os.MkdirAll(dir, 0o755)
	default:
		return os.TempDir(), nil
	}
}

// placeFiles writes request files into the workspace before execution.
func placeFiles(workspace string, files []superagent.CodeFile) error {
	for _, f := range files {
		if f.Name == "" || len(f.Data) == 0 {
			continue
		}
		path := filepath.Join(workspace, filepath.Clean(f.Name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("code runner: place file %q: %w", f.Name, err)
		}
		if err := os.WriteFile(path, f.Data, 0o644); err != nil {
			return fmt.Errorf("code runner: place file %q: %w", f.Name, err)
		}
	}
	return nil
}

// --- Protocol types ---

type protocolMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`
	Data any             `json:"data,omitempty"`
}

type protocolResponse struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleToolCall dispatches one bridged tool call.
func (r *SubprocessRunner) handleToolCall(ctx context.Context, msg protocolMessage, dispatch superagent.DispatchFunc) protocolResponse {
	// Prevent recursion: execute_code cannot call execute_code.
	if msg.Name == "execute_code" {
		return protocolResponse{
			Type:  "tool_error",
			ID:    msg.ID,
			Error: "execute_code cannot call execute_code (no recursion)",
		}
	}
	if dispatch == nil {
		return protocolResponse{Type: "tool_error", ID: msg.ID, Error: "no tool bridge configured"}
	}
	dr := dispatch(ctx, superagent.ToolCall{ID: msg.ID, Name: msg.Name, Args: msg.Args})
	if dr.IsError {
		return protocolResponse{
			Type:  "tool_error",
			ID:    msg.ID,
			Error: strings.TrimPrefix(dr.Content, "error: "),
		}
	}
	return protocolResponse{Type: "tool_result", ID: msg.ID, Data: dr.Content}
}

// writeJSON writes a JSON message followed by a newline.
func writeJSON(w io.Writer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "%s\n", data)
}

// cappedWriter limits capture to a maximum size.
type cappedWriter struct {
	w   *strings.Builder
	max int
}

func (cw *cappedWriter) Write(p []byte) (int, error) {
	if cw.w.Len() < cw.max {
		remaining := cw.max - cw.w.Len()
		if len(p) > remaining {
			p = p[:remaining]
		}
		cw.w.Write(p)
	}
	return len(p), nil
}
