package superagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// defaultMaxParallelSteps bounds concurrently running plan steps.
const defaultMaxParallelSteps = 5

// maxReplansPerPlan caps recovery splices so a failing plan terminates.
const maxReplansPerPlan = 3

// StepHooks observe plan execution. Nil hooks are skipped; panics inside a
// hook are contained.
type StepHooks struct {
	OnStepStarted   func(step Step)
	OnStepCompleted func(step Step, result StepResult)
	OnStepFailed    func(step Step, result StepResult)
}

func (h StepHooks) started(logger *slog.Logger, step Step) {
	safeHook(logger, "step_started", func() {
		if h.OnStepStarted != nil {
			h.OnStepStarted(step)
		}
	})
}

func (h StepHooks) completed(logger *slog.Logger, step Step, res StepResult) {
	safeHook(logger, "step_completed", func() {
		if h.OnStepCompleted != nil {
			h.OnStepCompleted(step, res)
		}
	})
}

func (h StepHooks) failed(logger *slog.Logger, step Step, res StepResult) {
	safeHook(logger, "step_failed", func() {
		if h.OnStepFailed != nil {
			h.OnStepFailed(step, res)
		}
	})
}

func safeHook(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("hook panicked", "hook", name, "panic", rec)
		}
	}()
	fn()
}

// Replanner splices a recovery into plan after the failed step. *Planner
// replans in process; BusReplanner routes the request over the event bus.
type Replanner interface {
	Replan(ctx context.Context, plan *Plan, failedStepID, errMsg string) (*Plan, error)
}

// PlanExecutor walks a plan's dependency graph: every step whose
// dependencies have finished becomes runnable, runnable steps execute
// concurrently up to the parallelism limit, and a failed ACT step triggers a
// recovery splice when a replanner is attached.
type PlanExecutor struct {
	provider    Provider
	txn         *TxnExecutor
	planner     Replanner
	model       string
	maxParallel int
	logger      *slog.Logger
}

// PlanExecutorOption configures a PlanExecutor.
type PlanExecutorOption func(*PlanExecutor)

// MaxParallelSteps bounds concurrent steps (default: 5).
func MaxParallelSteps(n int) PlanExecutorOption {
	return func(e *PlanExecutor) { e.maxParallel = n }
}

// WithReplanner attaches the replanner used for recovery splices after a
// step exhausts its retries.
func WithReplanner(p Replanner) PlanExecutorOption {
	return func(e *PlanExecutor) { e.planner = p }
}

// PlanExecutorLogger sets the structured logger.
func PlanExecutorLogger(l *slog.Logger) PlanExecutorOption {
	return func(e *PlanExecutor) { e.logger = l }
}

// NewPlanExecutor creates an executor. provider and model serve the
// reasoning step types; txn serves ACT steps.
func NewPlanExecutor(provider Provider, txn *TxnExecutor, model string, opts ...PlanExecutorOption) *PlanExecutor {
	e := &PlanExecutor{
		provider:    provider,
		txn:         txn,
		model:       model,
		maxParallel: defaultMaxParallelSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = nopLogger
	}
	return e
}

// Execute runs the plan to completion or first unrecoverable failure.
func (e *PlanExecutor) Execute(ctx context.Context, plan *Plan, hooks StepHooks) ExecutionResult {
	start := time.Now()
	result := ExecutionResult{TaskID: plan.TaskID}

	var mu sync.Mutex
	done := make(map[string]StepResult)
	outputs := make(map[string]string)
	replans := 0

	finish := func(success bool, errMsg string) ExecutionResult {
		result.Success = success
		result.Error = errMsg
		result.StepsExecuted = len(result.StepResults)
		result.TotalTimeMS = float64(time.Since(start)) / float64(time.Millisecond)
		result.CompletedAt = time.Now()
		return result
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(false, (&CancelledError{Op: "plan " + plan.TaskID}).Error())
		}

		// Runnable: not yet executed, all dependencies succeeded.
		var ready []Step
		for _, s := range plan.Steps {
			if _, ran := done[s.ID]; ran {
				continue
			}
			ok := true
			for _, dep := range s.Dependencies {
				dr, ran := done[dep]
				if !ran || !dr.Success {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, s)
			}
		}
		if len(ready) == 0 {
			if len(done) == len(plan.Steps) {
				last := plan.Steps[len(plan.Steps)-1]
				result.Output = outputs[last.ID]
				return finish(true, "")
			}
			return finish(false, "plan stalled: remaining steps have unmet dependencies")
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.maxParallel)
		batch := make([]StepResult, len(ready))
		for i, step := range ready {
			i, step := i, step
			g.Go(func() error {
				hooks.started(e.logger, step)
				mu.Lock()
				prior := snapshotOutputs(plan, done, outputs)
				mu.Unlock()
				res := e.runStepWithRetry(gctx, step, prior)
				batch[i] = res
				if res.Success {
					hooks.completed(e.logger, step, res)
				} else {
					hooks.failed(e.logger, step, res)
				}
				return nil
			})
		}
		_ = g.Wait()

		var failed *Step
		var failedRes StepResult
		for i, step := range ready {
			res := batch[i]
			mu.Lock()
			done[step.ID] = res
			outputs[step.ID] = res.Output
			mu.Unlock()
			result.StepResults = append(result.StepResults, res)
			if !res.Success && failed == nil {
				s := step
				failed = &s
				failedRes = res
			}
		}

		if failed != nil {
			if failed.Type == StepAct && e.planner != nil && replans < maxReplansPerPlan {
				replans++
				e.logger.Warn("step failed, replanning",
					"step_id", failed.ID,
					"error", failedRes.Error,
					"replan", replans)
				if _, err := e.planner.Replan(ctx, plan, failed.ID, failedRes.Error); err != nil {
					return finish(false, fmt.Sprintf("replan after %s: %v", failed.ID, err))
				}
				continue
			}
			return finish(false, failedRes.Error)
		}
	}
}

// ExecuteStep runs a single step outside any plan, honoring the step's
// retry budget.
func (e *PlanExecutor) ExecuteStep(ctx context.Context, step Step) StepResult {
	return e.runStepWithRetry(ctx, step, "")
}

// runStepWithRetry executes one step, retrying retryable failures up to the
// step's MaxRetries. Zero means a single attempt.
func (e *PlanExecutor) runStepWithRetry(ctx context.Context, step Step, prior string) StepResult {
	attempts := step.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	var res StepResult
	for i := 0; i < attempts; i++ {
		res = e.runStep(ctx, step, prior)
		if res.Success || ctx.Err() != nil {
			return res
		}
		if i < attempts-1 {
			e.logger.Debug("retrying step",
				"step_id", step.ID,
				"attempt", i+1,
				"max_attempts", attempts)
		}
	}
	return res
}

// runStep dispatches by step type: ACT through the transactional executor,
// OBSERVE as a projection of upstream outputs, THINK and REFLECT through the
// LLM.
func (e *PlanExecutor) runStep(ctx context.Context, step Step, prior string) StepResult {
	start := time.Now()
	res := StepResult{StepID: step.ID, Timestamp: start}
	finish := func() StepResult {
		res.ExecutionTimeMS = float64(time.Since(start)) / float64(time.Millisecond)
		return res
	}

	switch {
	case step.Type == StepAct && step.ToolName != "":
		args, err := json.Marshal(step.ToolArgs)
		if err != nil {
			res.Error = fmt.Sprintf("encode tool args: %v", err)
			return finish()
		}
		txnRes := e.txn.Execute(ctx, []ToolCall{{
			ID:        NewID(),
			Name:      step.ToolName,
			Args:      args,
			Timestamp: NowUnix(),
		}})
		if !txnRes.Success {
			res.Error = txnRes.Error
			return finish()
		}
		if len(txnRes.Results) > 0 {
			res.Output = txnRes.Results[0].Output
		}
		res.Success = true
		return finish()

	case step.Type == StepObserve:
		if prior == "" {
			prior = "no prior output"
		}
		res.Output = prior
		res.Observations = []string{prior}
		res.Success = true
		return finish()

	default:
		// THINK, REFLECT, and tool-less ACT steps reason over prior state.
		out, err := e.reason(ctx, step, prior)
		if err != nil {
			res.Error = err.Error()
			return finish()
		}
		res.Output = out
		res.Success = true
		return finish()
	}
}

// reason runs one LLM pass for a reasoning step. Without a provider the
// step degrades to echoing its description.
func (e *PlanExecutor) reason(ctx context.Context, step Step, prior string) (string, error) {
	if e.provider == nil {
		return step.Description, nil
	}
	prompt := fmt.Sprintf("You are executing one step of a plan.\n\nStep (%s): %s\n", step.Type, step.Description)
	if step.ExpectedOutcome != "" {
		prompt += "Expected outcome: " + step.ExpectedOutcome + "\n"
	}
	if prior != "" {
		prompt += "\nOutputs of completed steps:\n" + prior + "\n"
	}
	prompt += "\nRespond with a concise result for this step."

	req, err := NewLLMRequest(e.model, []Message{UserMessage(prompt)})
	if err != nil {
		return "", err
	}
	resp, err := e.provider.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// snapshotOutputs renders completed step outputs in plan order for prompt
// context, truncated per step.
func snapshotOutputs(plan *Plan, done map[string]StepResult, outputs map[string]string) string {
	var b strings.Builder
	for _, s := range plan.Steps {
		res, ran := done[s.ID]
		if !ran || !res.Success {
			continue
		}
		out := outputs[s.ID]
		if out == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", s.Description, truncateStr(out, 500))
	}
	return strings.TrimSpace(b.String())
}
