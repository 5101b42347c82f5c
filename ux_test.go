package superagent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func uxTestSetup(t *testing.T, opts ...UXOption) (*UX, *CaptureSink, string) {
	t.Helper()
	root := t.TempDir()
	reg := NewToolRegistry()
	if err := reg.Add(writeFileTool(root)); err != nil {
		t.Fatal(err)
	}
	planner := NewPlanner(&fakeProvider{name: "fake", content: plannerJSONPlan}, reg, "fake-model")
	txn := NewTxnExecutor(reg, nil, TxnSnapshots(false))
	exec := NewPlanExecutor(&fakeProvider{name: "fake", content: "reasoned output"}, txn, "fake-model")
	checkpoints, err := NewCheckpointManager(CheckpointDir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	sink := NewCaptureSink()
	opts = append([]UXOption{UXEmitter(NewEmitter(sink, "sess"))}, opts...)
	return NewUX(planner, NewDiffEngine(root), checkpoints, exec, opts...), sink, root
}

func TestUXProcessInputHaltsAtConfirmation(t *testing.T) {
	ux, sink, _ := uxTestSetup(t)

	uc := ux.ProcessInput(context.Background(), "write a file", "sess", nil)
	if uc.Err != nil {
		t.Fatalf("pipeline failed: %v", uc.Err)
	}
	if ux.State() != UXConfirming {
		t.Fatalf("state = %s", ux.State())
	}
	if uc.Plan == nil || len(uc.Plan.Steps) != 3 {
		t.Fatalf("plan = %+v", uc.Plan)
	}
	// No intent router attached: inputs resolve to unknown.
	if uc.Intent == nil || uc.Intent.Type != IntentUnknown {
		t.Errorf("intent = %+v", uc.Intent)
	}
	if uc.Preview == nil || uc.Preview.TotalFiles != 1 || uc.Preview.FileDiffs[0].FilePath != "out.txt" {
		t.Errorf("preview = %+v", uc.Preview)
	}
	if len(sink.ByType(ProtoPlanCreated)) != 1 || len(sink.ByType(ProtoDiffPreview)) != 1 {
		t.Errorf("events = %+v", sink.Events())
	}
}

func TestUXExecutePlanAppliesAndCompletes(t *testing.T) {
	ux, sink, root := uxTestSetup(t)
	ctx := context.Background()
	ux.ProcessInput(ctx, "write a file", "sess", nil)

	uc, err := ux.ExecutePlan(ctx, false, nil)
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if ux.State() != UXCompleted || uc.Result == nil || !uc.Result.Success {
		t.Fatalf("state = %s, result = %+v", ux.State(), uc.Result)
	}

	data, err := os.ReadFile(filepath.Join(root, "out.txt"))
	if err != nil || string(data) != "hi" {
		t.Errorf("file = %q, %v", data, err)
	}

	if uc.CheckpointID == "" {
		t.Fatal("no checkpoint taken")
	}
	if len(sink.ByType(ProtoSessionCheckpointed)) != 1 || len(sink.ByType(ProtoDiffApplied)) != 1 {
		t.Errorf("events = %+v", sink.Events())
	}
	if len(sink.ByType(ProtoPlanStepStarted)) != 3 || len(sink.ByType(ProtoPlanStepFinished)) != 3 {
		t.Errorf("step events = %+v", sink.Events())
	}
}

func TestUXExecutePlanPartial(t *testing.T) {
	ux, sink, root := uxTestSetup(t)
	ctx := context.Background()
	ux.ProcessInput(ctx, "write a file", "sess", nil)

	if _, err := ux.ExecutePlan(ctx, true, []string{"out.txt"}); err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if len(sink.ByType(ProtoDiffPartialApplied)) != 1 {
		t.Errorf("events = %+v", sink.Events())
	}
	if _, err := os.Stat(filepath.Join(root, "out.txt")); err != nil {
		t.Errorf("selected file not written: %v", err)
	}
}

func TestUXExecutePlanWithoutPlan(t *testing.T) {
	ux, _, _ := uxTestSetup(t)
	var verr *ValidationError
	if _, err := ux.ExecutePlan(context.Background(), false, nil); !errors.As(err, &verr) {
		t.Errorf("err = %v", err)
	}
}

func TestUXPlannerFailureLandsInError(t *testing.T) {
	checkpoints, _ := NewCheckpointManager(CheckpointDir(t.TempDir()))
	planner := NewPlanner(failingProvider("dead"), nil, "fake-model")
	txn := NewTxnExecutor(NewToolRegistry(), nil, TxnSnapshots(false))
	ux := NewUX(planner, NewDiffEngine(t.TempDir()), checkpoints, NewPlanExecutor(nil, txn, ""))

	uc := ux.ProcessInput(context.Background(), "anything", "sess", nil)
	if uc.Err == nil || ux.State() != UXError {
		t.Errorf("state = %s, err = %v", ux.State(), uc.Err)
	}
}

func TestUXPolicyDeniesWrite(t *testing.T) {
	// The allow list covers a directory the plan never writes to.
	ux, _, _ := uxTestSetup(t, UXPolicy(NewPolicy(AllowPaths(t.TempDir()))))
	ctx := context.Background()
	ux.ProcessInput(ctx, "write a file", "sess", nil)

	_, err := ux.ExecutePlan(ctx, false, nil)
	var perr *PermissionError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v", err)
	}
	if ux.State() != UXError {
		t.Errorf("state = %s", ux.State())
	}
}

func TestUXRollback(t *testing.T) {
	ux, sink, _ := uxTestSetup(t)
	ctx := context.Background()
	ux.ProcessInput(ctx, "write a file", "sess", nil)
	uc, err := ux.ExecutePlan(ctx, false, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := ux.RollbackToCheckpoint(ctx, uc.CheckpointID); err != nil {
		t.Fatalf("RollbackToCheckpoint: %v", err)
	}
	if ux.State() != UXIdle {
		t.Errorf("state = %s", ux.State())
	}
	if len(sink.ByType(ProtoDiffRollback)) != 1 {
		t.Errorf("events = %+v", sink.Events())
	}
	if _, ok := ux.Context().Metadata["restored_state"]; !ok {
		t.Error("restored state not recorded")
	}
}

func TestUXStateCallbacksAndBus(t *testing.T) {
	bus := NewEventBus()
	ux, _, _ := uxTestSetup(t, UXBus(bus))

	var confirmed int
	ux.OnStateChange(UXConfirming, func(*UXContext) { confirmed++ })
	ux.ProcessInput(context.Background(), "write a file", "sess", nil)

	if confirmed != 1 {
		t.Errorf("confirm callback fired %d times", confirmed)
	}
	bus.Drain()
	if len(bus.History(HistoryQuery{Type: EventUXStateChanged})) == 0 {
		t.Error("no state change events on the bus")
	}
}
