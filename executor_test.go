package superagent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func executorTestSetup(t *testing.T) (*PlanExecutor, string) {
	t.Helper()
	root := t.TempDir()
	reg := NewToolRegistry()
	if err := reg.Add(writeFileTool(root)); err != nil {
		t.Fatal(err)
	}
	txn := NewTxnExecutor(reg, nil, TxnSnapshots(false))
	provider := &fakeProvider{name: "fake", content: "reasoned output"}
	return NewPlanExecutor(provider, txn, "fake-model"), root
}

func TestExecutorRunsActStep(t *testing.T) {
	exec, root := executorTestSetup(t)
	plan := &Plan{
		TaskID: "t",
		Steps: []Step{{
			ID:       "w",
			Type:     StepAct,
			ToolName: "write_file",
			ToolArgs: map[string]any{"path": "out.txt", "content": "done"},
		}},
	}
	plan.finalize()

	result := exec.Execute(context.Background(), plan, StepHooks{})
	if !result.Success {
		t.Fatalf("execution failed: %s", result.Error)
	}
	data, err := os.ReadFile(filepath.Join(root, "out.txt"))
	if err != nil || string(data) != "done" {
		t.Errorf("file = %q, %v", data, err)
	}
	if result.StepsExecuted != 1 {
		t.Errorf("steps executed = %d", result.StepsExecuted)
	}
}

func TestExecutorDependencyOrderAndOutput(t *testing.T) {
	exec, _ := executorTestSetup(t)
	plan := &Plan{
		TaskID: "t",
		Steps: []Step{
			{ID: "think", Type: StepThink, Description: "consider"},
			{ID: "observe", Type: StepObserve, Dependencies: []string{"think"}},
		},
	}
	plan.finalize()

	result := exec.Execute(context.Background(), plan, StepHooks{})
	if !result.Success {
		t.Fatalf("execution failed: %s", result.Error)
	}
	// The observe step projects the think step's output, and the last step's
	// output becomes the plan output.
	if !strings.Contains(result.Output, "reasoned output") {
		t.Errorf("output = %q", result.Output)
	}
	if len(result.StepResults) != 2 || len(result.StepResults[1].Observations) == 0 {
		t.Errorf("step results = %+v", result.StepResults)
	}
}

func TestExecutorObserveWithoutPrior(t *testing.T) {
	exec, _ := executorTestSetup(t)
	plan := &Plan{TaskID: "t", Steps: []Step{{ID: "o", Type: StepObserve}}}
	plan.finalize()

	result := exec.Execute(context.Background(), plan, StepHooks{})
	if !result.Success || result.Output != "no prior output" {
		t.Errorf("result = %+v", result)
	}
}

func TestExecutorRetriesUpToMax(t *testing.T) {
	reg := NewToolRegistry()
	var attempts atomic.Int64
	reg.Add(NewFuncTool("flaky", "Always fails", nil,
		func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
			attempts.Add(1)
			return ToolResult{Error: "still broken"}, nil
		}))
	txn := NewTxnExecutor(reg, nil, TxnSnapshots(false))
	exec := NewPlanExecutor(nil, txn, "")

	plan := &Plan{
		TaskID: "t",
		Steps:  []Step{{ID: "f", Type: StepAct, ToolName: "flaky", MaxRetries: 3}},
	}
	plan.finalize()

	result := exec.Execute(context.Background(), plan, StepHooks{})
	if result.Success {
		t.Fatal("plan should fail")
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
	if !strings.Contains(result.Error, "still broken") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestExecutorZeroRetriesMeansOneAttempt(t *testing.T) {
	reg := NewToolRegistry()
	var attempts atomic.Int64
	reg.Add(NewFuncTool("flaky", "Always fails", nil,
		func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
			attempts.Add(1)
			return ToolResult{Error: "nope"}, nil
		}))
	txn := NewTxnExecutor(reg, nil, TxnSnapshots(false))
	exec := NewPlanExecutor(nil, txn, "")

	plan := &Plan{TaskID: "t", Steps: []Step{{ID: "f", Type: StepAct, ToolName: "flaky"}}}
	plan.finalize()

	exec.Execute(context.Background(), plan, StepHooks{})
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempts.Load())
	}
}

func TestExecutorHooksFire(t *testing.T) {
	exec, _ := executorTestSetup(t)
	plan := &Plan{TaskID: "t", Steps: []Step{{ID: "s", Type: StepThink}}}
	plan.finalize()

	var started, completed, failed atomic.Int64
	exec.Execute(context.Background(), plan, StepHooks{
		OnStepStarted:   func(Step) { started.Add(1) },
		OnStepCompleted: func(Step, StepResult) { completed.Add(1) },
		OnStepFailed:    func(Step, StepResult) { failed.Add(1) },
	})
	if started.Load() != 1 || completed.Load() != 1 || failed.Load() != 0 {
		t.Errorf("hooks = %d started, %d completed, %d failed", started.Load(), completed.Load(), failed.Load())
	}
}

func TestExecutorHookPanicContained(t *testing.T) {
	exec, _ := executorTestSetup(t)
	plan := &Plan{TaskID: "t", Steps: []Step{{ID: "s", Type: StepThink}}}
	plan.finalize()

	result := exec.Execute(context.Background(), plan, StepHooks{
		OnStepStarted: func(Step) { panic("hook bug") },
	})
	if !result.Success {
		t.Errorf("hook panic should not fail the plan: %+v", result)
	}
}

func TestExecutorReasoningWithoutProvider(t *testing.T) {
	txn := NewTxnExecutor(NewToolRegistry(), nil, TxnSnapshots(false))
	exec := NewPlanExecutor(nil, txn, "")

	plan := &Plan{TaskID: "t", Steps: []Step{{ID: "s", Type: StepThink, Description: "echo me"}}}
	plan.finalize()

	result := exec.Execute(context.Background(), plan, StepHooks{})
	if !result.Success || result.Output != "echo me" {
		t.Errorf("result = %+v", result)
	}
}

func TestExecutorReplanRecovers(t *testing.T) {
	root := t.TempDir()
	reg := NewToolRegistry()
	var failOnce atomic.Bool
	failOnce.Store(true)
	reg.Add(NewFuncTool("sometimes", "Fails on the first transaction", nil,
		func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
			if failOnce.Swap(false) {
				return ToolResult{Error: "transient"}, nil
			}
			return ToolResult{Content: "recovered"}, nil
		}))
	reg.Add(writeFileTool(root))
	txn := NewTxnExecutor(reg, nil, TxnSnapshots(false))

	// The planner answers the recovery request with one ACT step retrying the
	// same tool.
	plannerProvider := &fakeProvider{name: "fake", content: `[
		{"id": "retry", "type": "act", "description": "Retry the tool", "tool": "sometimes"}
	]`}
	planner := NewPlanner(plannerProvider, reg, "fake-model")
	exec := NewPlanExecutor(nil, txn, "", WithReplanner(planner))

	plan := &Plan{
		TaskID: "t",
		Steps:  []Step{{ID: "first", Type: StepAct, ToolName: "sometimes"}},
	}
	plan.finalize()

	result := exec.Execute(context.Background(), plan, StepHooks{})
	if !result.Success {
		t.Fatalf("recovery failed: %s", result.Error)
	}
	if result.Output != "recovered" {
		t.Errorf("output = %q", result.Output)
	}
}
