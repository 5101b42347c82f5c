package superagent

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Transaction states.
const (
	TxnPending    = "pending"
	TxnExecuting  = "executing"
	TxnCommitted  = "committed"
	TxnRolledBack = "rolled_back"
	TxnFailed     = "failed"
)

// defaultToolTimeout bounds one tool call inside a transaction.
const defaultToolTimeout = 30 * time.Second

// TxnCheckpoint is the restore point taken before a tool call: the process
// environment plus a filesystem snapshot.
type TxnCheckpoint struct {
	ID        string
	Env       map[string]string
	FS        *Snapshot
	CreatedAt time.Time
}

// TransactionResult is the outcome of one tool transaction.
type TransactionResult struct {
	Success         bool         `json:"success"`
	Results         []ToolOutput `json:"results"`
	Error           string       `json:"error,omitempty"`
	TransactionID   string       `json:"transaction_id"`
	ExecutionTimeMS float64      `json:"execution_time_ms"`
}

// TxnExecutor runs tool-call sequences with all-or-nothing semantics. Every
// call is validated before anything executes; checkpoints are taken as the
// sequence progresses; any failure rolls the tree back to the initial
// checkpoint. Safe for concurrent use, but concurrent transactions over the
// same working tree race on the filesystem.
type TxnExecutor struct {
	registry    *ToolRegistry
	snapshotter *Snapshotter
	callTimeout time.Duration
	noSnapshots bool
	logger      *slog.Logger
}

// TxnOption configures a TxnExecutor.
type TxnOption func(*TxnExecutor)

// TxnCallTimeout bounds each tool call (default: 30s).
func TxnCallTimeout(d time.Duration) TxnOption {
	return func(t *TxnExecutor) { t.callTimeout = d }
}

// TxnSnapshots toggles filesystem snapshots (default: enabled). With
// snapshots off, checkpoints carry only the environment and a rollback
// cannot undo tree changes.
func TxnSnapshots(enabled bool) TxnOption {
	return func(t *TxnExecutor) { t.noSnapshots = !enabled }
}

// TxnLogger sets the structured logger.
func TxnLogger(l *slog.Logger) TxnOption {
	return func(t *TxnExecutor) { t.logger = l }
}

// NewTxnExecutor creates an executor over a tool registry and the working
// tree covered by snapshotter.
func NewTxnExecutor(registry *ToolRegistry, snapshotter *Snapshotter, opts ...TxnOption) *TxnExecutor {
	t := &TxnExecutor{
		registry:    registry,
		snapshotter: snapshotter,
		callTimeout: defaultToolTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = nopLogger
	}
	return t
}

// Execute runs calls as one transaction. Validation failures abort before
// any call runs. A call failure or cancellation rolls the tree back to the
// initial checkpoint and reports the partial results. On success the
// transaction commits and all checkpoints are discarded.
func (t *TxnExecutor) Execute(ctx context.Context, calls []ToolCall) TransactionResult {
	txnID := NewID()
	start := time.Now()
	result := TransactionResult{TransactionID: txnID}

	fail := func(err error) TransactionResult {
		result.Success = false
		result.Error = err.Error()
		result.ExecutionTimeMS = float64(time.Since(start)) / float64(time.Millisecond)
		return result
	}

	if len(calls) == 0 {
		return fail(&ValidationError{Field: "calls", Message: "transaction has no tool calls"})
	}

	// Phase 1: validate everything before touching anything.
	for _, call := range calls {
		if err := t.registry.Validate(call.Name, call.Args); err != nil {
			t.logger.Warn("transaction validation failed",
				"transaction_id", txnID,
				"tool", call.Name,
				"error", err)
			return fail(err)
		}
	}

	initial, err := t.checkpoint(ctx)
	if err != nil {
		return fail(err)
	}
	checkpoints := []*TxnCheckpoint{initial}
	defer func() {
		for _, cp := range checkpoints {
			if cp.FS != nil {
				t.snapshotter.Discard(cp.FS)
			}
		}
	}()

	t.logger.Info("transaction started", "transaction_id", txnID, "calls", len(calls))

	// Phase 2: execute, checkpointing before every call after the first.
	for i, call := range calls {
		if i > 0 {
			cp, err := t.checkpoint(ctx)
			if err != nil {
				t.rollbackTo(ctx, checkpoints[len(checkpoints)-1])
				return fail(err)
			}
			checkpoints = append(checkpoints, cp)
		}

		if ctx.Err() != nil {
			t.rollbackTo(ctx, checkpoints[0])
			return fail(&CancelledError{Op: "transaction " + txnID})
		}

		output, callErr := t.runCall(ctx, call)
		result.Results = append(result.Results, output)
		if callErr != nil {
			t.logger.Warn("transaction call failed",
				"transaction_id", txnID,
				"tool", call.Name,
				"call", i,
				"error", callErr)
			// Undo the failed call first, then restore the initial
			// checkpoint: a failed transaction leaves the tree exactly as
			// it was before the first call.
			t.rollbackTo(ctx, checkpoints[len(checkpoints)-1])
			if len(checkpoints) > 1 {
				t.rollbackTo(ctx, checkpoints[0])
			}
			if ctx.Err() != nil {
				return fail(&CancelledError{Op: "transaction " + txnID})
			}
			return fail(callErr)
		}
	}

	result.Success = true
	result.ExecutionTimeMS = float64(time.Since(start)) / float64(time.Millisecond)
	t.logger.Info("transaction committed",
		"transaction_id", txnID,
		"calls", len(calls),
		"execution_time_ms", result.ExecutionTimeMS)
	return result
}

// runCall executes one tool call under the per-call timeout.
func (t *TxnExecutor) runCall(ctx context.Context, call ToolCall) (ToolOutput, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()

	type callResult struct {
		res ToolResult
		err error
	}
	done := make(chan callResult, 1)
	start := time.Now()
	go func() {
		res, err := t.registry.Execute(callCtx, call.Name, call.Args)
		done <- callResult{res, err}
	}()

	out := ToolOutput{CallID: call.ID, ToolName: call.Name}
	select {
	case <-callCtx.Done():
		out.ExecutionTimeMS = float64(time.Since(start)) / float64(time.Millisecond)
		if ctx.Err() != nil {
			out.Error = ctx.Err().Error()
			return out, ctx.Err()
		}
		err := &ToolTimeoutError{Tool: call.Name, Seconds: t.callTimeout.Seconds()}
		out.Error = err.Error()
		return out, err
	case cr := <-done:
		out.ExecutionTimeMS = float64(time.Since(start)) / float64(time.Millisecond)
		if cr.err != nil {
			out.Error = cr.err.Error()
			return out, &ToolExecutionError{CallID: call.ID, Tool: call.Name, Err: cr.err}
		}
		if cr.res.Error != "" {
			out.Error = cr.res.Error
			return out, &ToolExecutionError{CallID: call.ID, Tool: call.Name, Err: errString(cr.res.Error)}
		}
		out.Success = true
		out.Output = cr.res.Content
		return out, nil
	}
}

// checkpoint captures the environment and, unless snapshots are disabled,
// the working tree.
func (t *TxnExecutor) checkpoint(ctx context.Context) (*TxnCheckpoint, error) {
	cp := &TxnCheckpoint{
		ID:        NewID(),
		Env:       environMap(),
		CreatedAt: time.Now(),
	}
	if t.noSnapshots {
		return cp, nil
	}
	snap, err := t.snapshotter.Take(ctx)
	if err != nil {
		return nil, err
	}
	cp.FS = snap
	return cp, nil
}

// rollbackTo restores the environment and tree of cp. Restore runs under a
// fresh context so a cancelled transaction can still roll back.
func (t *TxnExecutor) rollbackTo(ctx context.Context, cp *TxnCheckpoint) {
	if cp.FS != nil {
		restoreCtx := context.WithoutCancel(ctx)
		if err := t.snapshotter.Restore(restoreCtx, cp.FS); err != nil {
			t.logger.Error("rollback failed", "checkpoint_id", cp.ID, "error", err)
			return
		}
	}
	restoreEnviron(cp.Env)
	t.logger.Info("rolled back", "checkpoint_id", cp.ID)
}

// environMap copies the process environment.
func environMap() map[string]string {
	env := os.Environ()
	out := make(map[string]string, len(env))
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// restoreEnviron resets the process environment to saved: added variables
// are unset, changed ones are rewritten.
func restoreEnviron(saved map[string]string) {
	for _, kv := range os.Environ() {
		k, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, keep := saved[k]; !keep {
			os.Unsetenv(k)
		}
	}
	for k, v := range saved {
		os.Setenv(k, v)
	}
}

// errString wraps a tool-reported error message as an error.
type errString string

func (e errString) Error() string { return string(e) }
