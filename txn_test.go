package superagent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// txn tests mutate the process environment on rollback, so none of them may
// run in parallel.

func writeFileTool(root string) *FuncTool {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"content": {"type": "string"}
		},
		"required": ["path", "content"]
	}`)
	return NewFuncTool("write_file", "Writes content to a file", schema,
		func(_ context.Context, args json.RawMessage) (ToolResult, error) {
			params, err := DecodeArgs[struct {
				Path    string `json:"path"`
				Content string `json:"content"`
			}]("write_file", args)
			if err != nil {
				return ToolResult{}, err
			}
			full := filepath.Join(root, params.Path)
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return ToolResult{Error: err.Error()}, nil
			}
			if err := os.WriteFile(full, []byte(params.Content), 0o644); err != nil {
				return ToolResult{Error: err.Error()}, nil
			}
			return ToolResult{Content: "wrote " + params.Path}, nil
		})
}

func txnTestSetup(t *testing.T) (*TxnExecutor, string) {
	t.Helper()
	root := t.TempDir()
	reg := NewToolRegistry()
	if err := reg.Add(writeFileTool(root)); err != nil {
		t.Fatal(err)
	}
	reg.Add(NewFuncTool("write_then_fail", "Writes a file and reports failure", nil,
		func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
			os.WriteFile(filepath.Join(root, "partial.txt"), []byte("junk"), 0o644)
			return ToolResult{Error: "disk full"}, nil
		}))
	snap := NewSnapshotter(root, SnapshotBaseDir(t.TempDir()))
	return NewTxnExecutor(reg, snap), root
}

func writeCall(path, content string) ToolCall {
	return ToolCall{
		ID:   NewID(),
		Name: "write_file",
		Args: json.RawMessage(fmt.Sprintf(`{"path":%q,"content":%q}`, path, content)),
	}
}

func TestTxnCommit(t *testing.T) {
	txn, root := txnTestSetup(t)

	result := txn.Execute(context.Background(), []ToolCall{
		writeCall("a.txt", "alpha"),
		writeCall("b.txt", "beta"),
	})
	if !result.Success {
		t.Fatalf("transaction failed: %s", result.Error)
	}
	if len(result.Results) != 2 || !result.Results[0].Success || !result.Results[1].Success {
		t.Errorf("results = %+v", result.Results)
	}
	for _, f := range []string{"a.txt", "b.txt"} {
		if _, err := os.Stat(filepath.Join(root, f)); err != nil {
			t.Errorf("%s missing after commit: %v", f, err)
		}
	}
}

func TestTxnRollbackOnCallFailure(t *testing.T) {
	txn, root := txnTestSetup(t)

	// Seed the tree so the rollback has a pre-transaction state to restore.
	if err := os.WriteFile(filepath.Join(root, "seed.txt"), []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := txn.Execute(context.Background(), []ToolCall{
		writeCall("seed.txt", "two"),
		writeCall("first.txt", "new"),
		{ID: NewID(), Name: "write_then_fail"},
	})
	if result.Success {
		t.Fatal("transaction should fail")
	}
	if !strings.Contains(result.Error, "disk full") {
		t.Errorf("error = %q", result.Error)
	}
	// All-or-nothing: the tree equals the initial checkpoint.
	data, err := os.ReadFile(filepath.Join(root, "seed.txt"))
	if err != nil || string(data) != "one" {
		t.Errorf("seed.txt = %q, %v, want pre-transaction content", data, err)
	}
	if _, err := os.Stat(filepath.Join(root, "first.txt")); !os.IsNotExist(err) {
		t.Error("earlier call's write survived rollback")
	}
	if _, err := os.Stat(filepath.Join(root, "partial.txt")); !os.IsNotExist(err) {
		t.Error("failed call's write survived rollback")
	}
}

func TestTxnValidationAbortsEverything(t *testing.T) {
	txn, root := txnTestSetup(t)

	result := txn.Execute(context.Background(), []ToolCall{
		writeCall("never.txt", "x"),
		{ID: NewID(), Name: "no_such_tool"},
	})
	if result.Success {
		t.Fatal("transaction should fail validation")
	}
	if len(result.Results) != 0 {
		t.Errorf("no call should have executed, results = %+v", result.Results)
	}
	if _, err := os.Stat(filepath.Join(root, "never.txt")); !os.IsNotExist(err) {
		t.Error("valid call executed despite invalid sibling")
	}
}

func TestTxnEmptyCalls(t *testing.T) {
	txn, _ := txnTestSetup(t)
	result := txn.Execute(context.Background(), nil)
	if result.Success || !strings.Contains(result.Error, "no tool calls") {
		t.Errorf("result = %+v", result)
	}
}

func TestTxnCancellation(t *testing.T) {
	reg := NewToolRegistry()
	reg.Add(writeFileTool(t.TempDir()))
	txn := NewTxnExecutor(reg, nil, TxnSnapshots(false))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := txn.Execute(ctx, []ToolCall{writeCall("x.txt", "x")})
	if result.Success || !strings.Contains(result.Error, "cancelled") {
		t.Errorf("result = %+v", result)
	}
}

func TestTxnEnvRollbackWithoutSnapshots(t *testing.T) {
	const envKey = "TXN_TEST_LEAKED_VAR"
	os.Unsetenv(envKey)

	reg := NewToolRegistry()
	reg.Add(NewFuncTool("set_env_then_fail", "Sets an env var and fails", nil,
		func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
			os.Setenv(envKey, "leaked")
			return ToolResult{Error: "forced failure"}, nil
		}))
	txn := NewTxnExecutor(reg, nil, TxnSnapshots(false))

	result := txn.Execute(context.Background(), []ToolCall{{ID: NewID(), Name: "set_env_then_fail"}})
	if result.Success {
		t.Fatal("transaction should fail")
	}
	if v, ok := os.LookupEnv(envKey); ok {
		t.Errorf("env var survived rollback: %q", v)
	}
}

func TestTxnCallTimeout(t *testing.T) {
	reg := NewToolRegistry()
	reg.Add(NewFuncTool("hang", "Blocks until cancelled", nil,
		func(ctx context.Context, _ json.RawMessage) (ToolResult, error) {
			<-ctx.Done()
			return ToolResult{}, ctx.Err()
		}))
	txn := NewTxnExecutor(reg, nil, TxnSnapshots(false), TxnCallTimeout(20*time.Millisecond))

	result := txn.Execute(context.Background(), []ToolCall{{ID: NewID(), Name: "hang"}})
	if result.Success || !strings.Contains(result.Error, "Timeout") {
		t.Errorf("result = %+v", result)
	}
}
