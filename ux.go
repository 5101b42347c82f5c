package superagent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// UXState is one stage of the interactive pipeline.
type UXState string

const (
	UXIdle            UXState = "idle"
	UXParsingInput    UXState = "parsing_input"
	UXResolvingIntent UXState = "resolving_intent"
	UXPlanning        UXState = "planning"
	UXPreviewing      UXState = "previewing"
	UXConfirming      UXState = "confirming"
	UXExecuting       UXState = "executing"
	UXCompleted       UXState = "completed"
	UXError           UXState = "error"
)

// UXContext carries one input through the pipeline.
type UXContext struct {
	SessionID    string
	UserInput    string
	FileContents map[string]string
	Intent       *Intent
	Plan         *Plan
	Preview      *DiffPreview
	Result       *ExecutionResult
	CheckpointID string
	Err          error
	Metadata     map[string]any
	CreatedAt    time.Time
}

// StateCallback observes a transition into one state.
type StateCallback func(*UXContext)

// FileLoader reads one referenced file into text.
type FileLoader func(ctx context.Context, path string) (string, error)

// UX drives the diff-first interactive pipeline: parse input, classify
// intent, plan, preview changes, and halt for confirmation before any write
// reaches disk. One input at a time; the mutex serializes callers.
type UX struct {
	intents     *IntentRouter
	planner     *Planner
	diff        *DiffEngine
	checkpoints *CheckpointManager
	executor    *PlanExecutor
	bus         *EventBus
	emitter     *Emitter
	policy      *Policy
	loadFile    FileLoader
	logger      *slog.Logger

	mu        sync.Mutex
	state     UXState
	uxContext *UXContext
	callbacks map[UXState][]StateCallback
}

// UXOption configures a UX pipeline.
type UXOption func(*UX)

// UXIntentRouter sets the intent classifier. Without one, every input
// resolves to an unknown intent.
func UXIntentRouter(r *IntentRouter) UXOption {
	return func(u *UX) { u.intents = r }
}

// UXBus attaches the bus that carries ux.state_changed events.
func UXBus(bus *EventBus) UXOption {
	return func(u *UX) { u.bus = bus }
}

// UXEmitter attaches the NDJSON emitter for headless narration.
func UXEmitter(e *Emitter) UXOption {
	return func(u *UX) { u.emitter = e }
}

// UXPolicy sets the security policy guarding file loads and writes.
func UXPolicy(p *Policy) UXOption {
	return func(u *UX) { u.policy = p }
}

// UXFileLoader replaces the default policy-checked raw file loader, e.g.
// with an ingest-backed one that extracts PDF or HTML text.
func UXFileLoader(l FileLoader) UXOption {
	return func(u *UX) { u.loadFile = l }
}

// UXLogger sets the structured logger.
func UXLogger(l *slog.Logger) UXOption {
	return func(u *UX) { u.logger = l }
}

// NewUX wires the pipeline. planner, diff, checkpoints, and executor are
// required; the rest are optional.
func NewUX(planner *Planner, diff *DiffEngine, checkpoints *CheckpointManager, executor *PlanExecutor, opts ...UXOption) *UX {
	u := &UX{
		planner:     planner,
		diff:        diff,
		checkpoints: checkpoints,
		executor:    executor,
		state:       UXIdle,
		callbacks:   make(map[UXState][]StateCallback),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.logger == nil {
		u.logger = nopLogger
	}
	if u.policy == nil {
		u.policy = NewPolicy()
	}
	if u.loadFile == nil {
		u.loadFile = u.defaultFileLoader
	}
	return u
}

// State returns the current pipeline state.
func (u *UX) State() UXState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Context returns the context of the in-flight or last input.
func (u *UX) Context() *UXContext {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.uxContext
}

// OnStateChange registers a callback fired after every transition into
// state. Callbacks run synchronously; a panic is contained.
func (u *UX) OnStateChange(state UXState, cb StateCallback) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.callbacks[state] = append(u.callbacks[state], cb)
}

// transition moves to next, publishes ux.state_changed, and fires callbacks.
// Caller holds the mutex.
func (u *UX) transition(ctx context.Context, next UXState) {
	old := u.state
	u.state = next
	u.logger.Info("ux state transition", "from", old, "to", next)
	if u.bus != nil {
		u.bus.Publish(ctx, Event{
			Type:   EventUXStateChanged,
			Source: "ux",
			Payload: map[string]any{
				"old_state": string(old),
				"new_state": string(next),
			},
		})
	}
	for _, cb := range u.callbacks[next] {
		safeHook(u.logger, "ux."+string(next), func() { cb(u.uxContext) })
	}
}

// ProcessInput runs one input up to the confirmation gate: load referenced
// files, classify intent, plan, and preview the planned file changes. The
// pipeline halts in CONFIRMING; call ExecutePlan to proceed. Any failure
// lands in ERROR with the cause in UXContext.Err.
func (u *UX) ProcessInput(ctx context.Context, input, sessionID string, contextFiles []string) *UXContext {
	u.mu.Lock()
	defer u.mu.Unlock()

	if sessionID == "" {
		sessionID = NewID()
	}
	u.uxContext = &UXContext{
		SessionID: sessionID,
		UserInput: input,
		Metadata:  map[string]any{"context_files": contextFiles},
		CreatedAt: time.Now(),
	}
	uc := u.uxContext

	fail := func(err error) *UXContext {
		uc.Err = err
		u.logger.Error("ux pipeline failed", "state", u.state, "error", err)
		u.emitter.EmitError("", err, true)
		u.transition(ctx, UXError)
		return uc
	}

	u.transition(ctx, UXParsingInput)
	if len(contextFiles) > 0 {
		uc.FileContents = make(map[string]string, len(contextFiles))
		for _, path := range contextFiles {
			text, err := u.loadFile(ctx, path)
			if err != nil {
				u.logger.Warn("could not read context file", "path", path, "error", err)
				continue
			}
			uc.FileContents[path] = text
		}
	}

	u.transition(ctx, UXResolvingIntent)
	intent := Intent{Type: IntentUnknown}
	if u.intents != nil {
		intent = u.intents.Classify(ctx, input)
	}
	uc.Intent = &intent

	u.transition(ctx, UXPlanning)
	task := NewTask(input)
	extra := map[string]any{"intent": string(intent.Type)}
	for path, text := range uc.FileContents {
		extra["file:"+path] = truncateStr(text, 2000)
	}
	plan, err := u.planner.CreatePlan(ctx, task, extra)
	if err != nil {
		return fail(err)
	}
	uc.Plan = plan
	u.emitter.Emit(ProtoPlanCreated, "", map[string]any{
		"steps":      stepDescriptions(plan),
		"intent":     string(intent.Type),
		"confidence": intent.Confidence,
	})

	u.transition(ctx, UXPreviewing)
	preview := u.diff.GeneratePreview(plannedChanges(plan))
	uc.Preview = &preview
	for _, fd := range preview.FileDiffs {
		u.emitter.Emit(ProtoDiffPreview, "", map[string]any{
			"file_path":    fd.FilePath,
			"diff_content": fd.Text(),
		})
	}

	u.transition(ctx, UXConfirming)
	return uc
}

// ExecutePlan runs the confirmed plan: checkpoint the session, apply the
// previewed changes (all of them, or only selected when applyPartial is
// set), then execute the steps. Success lands in COMPLETED; failure lands
// in ERROR with the checkpoint retained for rollback.
func (u *UX) ExecutePlan(ctx context.Context, applyPartial bool, selected []string) (*UXContext, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	uc := u.uxContext
	if uc == nil || uc.Plan == nil {
		return nil, &ValidationError{Field: "plan", Message: "no plan to execute"}
	}

	u.transition(ctx, UXExecuting)

	checkpointID, err := u.checkpoints.Create(uc.SessionID, map[string]any{
		"user_input": uc.UserInput,
		"intent":     string(uc.Intent.Type),
		"state":      string(UXConfirming),
	}, "Before plan execution")
	if err != nil {
		uc.Err = err
		u.transition(ctx, UXError)
		return uc, err
	}
	uc.CheckpointID = checkpointID
	u.emitter.Emit(ProtoSessionCheckpointed, "", map[string]any{"checkpoint_id": checkpointID})

	if uc.Preview != nil && uc.Preview.TotalFiles > 0 {
		if err := u.checkWriteTargets(uc.Preview); err != nil {
			uc.Err = err
			u.emitter.EmitError("", err, true)
			u.transition(ctx, UXError)
			return uc, err
		}
		var applyTo []string
		event := ProtoDiffApplied
		if applyPartial {
			applyTo = selected
			event = ProtoDiffPartialApplied
		}
		applied := u.diff.ApplyChanges(*uc.Preview, applyTo)
		for path, ok := range applied {
			if !ok {
				continue
			}
			u.emitter.Emit(event, "", map[string]any{"file_path": path, "checkpoint_id": checkpointID})
		}
	}

	hooks := StepHooks{
		OnStepStarted: func(step Step) {
			u.emitter.Emit(ProtoPlanStepStarted, "", map[string]any{
				"step_index": stepIndex(uc.Plan, step.ID),
				"step_name":  step.Description,
			})
		},
		OnStepCompleted: func(step Step, res StepResult) {
			u.emitter.Emit(ProtoPlanStepFinished, "", map[string]any{
				"step_index": stepIndex(uc.Plan, step.ID),
				"step_name":  step.Description,
				"result":     map[string]any{"success": true, "output": truncateStr(res.Output, 500)},
			})
		},
		OnStepFailed: func(step Step, res StepResult) {
			u.emitter.Emit(ProtoPlanStepFinished, "", map[string]any{
				"step_index": stepIndex(uc.Plan, step.ID),
				"step_name":  step.Description,
				"result":     map[string]any{"success": false, "error": res.Error},
			})
		},
	}

	result := u.executor.Execute(ctx, uc.Plan, hooks)
	uc.Result = &result
	if !result.Success {
		uc.Err = fmt.Errorf("plan execution failed: %s", result.Error)
		// Checkpoint stays on disk so the caller can roll back.
		u.logger.Info("execution failed, checkpoint available for rollback", "checkpoint_id", checkpointID)
		u.transition(ctx, UXError)
		return uc, uc.Err
	}

	u.transition(ctx, UXCompleted)
	return uc, nil
}

// RollbackToCheckpoint restores a checkpoint and returns the pipeline to
// IDLE.
func (u *UX) RollbackToCheckpoint(ctx context.Context, checkpointID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	cp, err := u.checkpoints.Restore(checkpointID)
	if err != nil {
		return err
	}
	if u.uxContext != nil {
		u.uxContext.CheckpointID = cp.CheckpointID
		u.uxContext.Metadata["restored_state"] = cp.State
	}
	u.emitter.Emit(ProtoDiffRollback, "", map[string]any{"checkpoint_id": checkpointID})
	u.transition(ctx, UXIdle)
	u.logger.Info("rolled back to checkpoint", "checkpoint_id", checkpointID)
	return nil
}

// defaultFileLoader reads a file raw after policy and size checks.
func (u *UX) defaultFileLoader(_ context.Context, path string) (string, error) {
	if err := u.policy.CheckPath("read", path); err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if err := u.policy.CheckSize(path, info.Size()); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// checkWriteTargets policy-checks every file the preview would write.
func (u *UX) checkWriteTargets(preview *DiffPreview) error {
	for _, fd := range preview.FileDiffs {
		if err := u.policy.CheckPath("write", fd.FilePath); err != nil {
			return err
		}
	}
	return nil
}

// plannedChanges collects the file writes a plan declares: ACT steps whose
// tool args carry a path and content.
func plannedChanges(plan *Plan) map[string]string {
	changes := make(map[string]string)
	for _, step := range plan.Steps {
		if step.Type != StepAct || step.ToolArgs == nil {
			continue
		}
		path, _ := step.ToolArgs["path"].(string)
		content, hasContent := step.ToolArgs["content"].(string)
		if path == "" || !hasContent {
			continue
		}
		changes[path] = content
	}
	return changes
}

func stepDescriptions(plan *Plan) []string {
	out := make([]string, len(plan.Steps))
	for i, step := range plan.Steps {
		out[i] = step.Description
	}
	return out
}

func stepIndex(plan *Plan, stepID string) int {
	for i, step := range plan.Steps {
		if step.ID == stepID {
			return i
		}
	}
	return -1
}
