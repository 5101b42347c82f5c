// Package file provides policy-checked file tools: read_file, write_file,
// and list_files. Relative paths resolve against a configured root; every
// access passes through the security policy before touching the disk.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	superagent "github.com/superagent-core/superagent"
)

const maxReadChars = 100_000

// Tool provides file access rooted at a workspace directory.
type Tool struct {
	root   string
	policy *superagent.Policy
	logger *slog.Logger
}

var _ superagent.Tool = (*Tool)(nil)

// ToolOption configures a Tool.
type ToolOption func(*Tool)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) ToolOption {
	return func(t *Tool) { t.logger = l }
}

// New creates file tools rooted at root. Policy gates every path; a nil
// policy falls back to the default policy (built-in blocked paths only).
func New(root string, policy *superagent.Policy, opts ...ToolOption) *Tool {
	if policy == nil {
		policy = superagent.NewPolicy()
	}
	t := &Tool{root: root, policy: policy, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tool) Definitions() []superagent.ToolDefinition {
	return []superagent.ToolDefinition{
		{
			Name:        "read_file",
			Description: "Read a text file. Returns the content, truncated if very large.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path, relative to the workspace root or absolute"}},"required":["path"]}`),
		},
		{
			Name:        "write_file",
			Description: "Write content to a file, creating parent directories as needed. Overwrites existing content.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path, relative to the workspace root or absolute"},"content":{"type":"string","description":"Content to write"}},"required":["path","content"]}`),
			RequiresConsent: true,
		},
		{
			Name:        "list_files",
			Description: "List directory entries. Directories are suffixed with a slash.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Directory path, default the workspace root"}},"required":[]}`),
		},
	}
}

// Execute dispatches one file operation. Policy denials and IO failures
// come back in ToolResult.Error, never as a Go error.
func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (superagent.ToolResult, error) {
	params, err := superagent.DecodeArgs[struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}](name, args)
	if err != nil {
		return superagent.ToolResult{}, err
	}

	switch name {
	case "read_file":
		return t.read(t.resolve(params.Path)), nil
	case "write_file":
		return t.write(t.resolve(params.Path), params.Content), nil
	case "list_files":
		return t.list(t.resolve(params.Path)), nil
	default:
		return superagent.ToolResult{}, &superagent.ToolNotFoundError{Tool: name}
	}
}

// resolve joins relative paths onto the root. Policy enforcement happens on
// the resolved absolute path, so traversal out of the root is caught by the
// allow list rather than string matching.
func (t *Tool) resolve(path string) string {
	if path == "" {
		return t.root
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(t.root, path)
}

func (t *Tool) read(path string) superagent.ToolResult {
	if err := t.policy.CheckPath("read", path); err != nil {
		return superagent.ToolResult{Error: err.Error()}
	}
	info, err := os.Stat(path)
	if err != nil {
		return superagent.ToolResult{Error: "stat: " + err.Error()}
	}
	if err := t.policy.CheckSize(path, info.Size()); err != nil {
		return superagent.ToolResult{Error: err.Error()}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return superagent.ToolResult{Error: "read: " + err.Error()}
	}
	content := string(data)
	if len(content) > maxReadChars {
		content = content[:maxReadChars] + "\n... (truncated)"
	}
	return superagent.ToolResult{Content: content}
}

func (t *Tool) write(path, content string) superagent.ToolResult {
	if err := t.policy.CheckPath("write", path); err != nil {
		return superagent.ToolResult{Error: err.Error()}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return superagent.ToolResult{Error: "mkdir: " + err.Error()}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return superagent.ToolResult{Error: "write: " + err.Error()}
	}
	t.logger.Debug("file written", "path", path, "bytes", len(content))
	return superagent.ToolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}
}

func (t *Tool) list(path string) superagent.ToolResult {
	if err := t.policy.CheckPath("read", path); err != nil {
		return superagent.ToolResult{Error: err.Error()}
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return superagent.ToolResult{Error: "list: " + err.Error()}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return superagent.ToolResult{Content: "(empty directory)"}
	}
	return superagent.ToolResult{Content: strings.Join(names, "\n")}
}
