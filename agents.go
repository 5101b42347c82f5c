package superagent

import (
	"context"
	"fmt"
	"log/slog"
)

// PlannerAgent answers PLAN_REQUESTED with PLAN_READY or PLAN_FAILED, and
// REPLAN_REQUESTED with a recovery splice, preserving the correlation ID.
type PlannerAgent struct {
	baseAgent
	planner *Planner
}

// NewPlannerAgent creates the planning agent.
func NewPlannerAgent(name string, bus *EventBus, planner *Planner, logger *slog.Logger) *PlannerAgent {
	return &PlannerAgent{baseAgent: newBaseAgent(name, bus, logger), planner: planner}
}

func (a *PlannerAgent) Start(ctx context.Context) error {
	a.bus.Subscribe(EventPlanRequested, a.name, a.handle)
	a.bus.Subscribe(EventReplanRequested, a.name, a.handle)
	a.logger.Info("planner agent started", "agent", a.name)
	return nil
}

func (a *PlannerAgent) Stop() error {
	a.bus.Unsubscribe(EventPlanRequested, a.name)
	a.bus.Unsubscribe(EventReplanRequested, a.name)
	a.logger.Info("planner agent stopped", "agent", a.name)
	return nil
}

func (a *PlannerAgent) handle(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventPlanRequested:
		return a.plan(ctx, ev)
	case EventReplanRequested:
		return a.replan(ctx, ev)
	}
	return nil
}

func (a *PlannerAgent) plan(ctx context.Context, ev Event) error {
	goal, _ := ev.Payload["goal"].(string)
	if goal == "" {
		a.publish(ctx, EventPlanFailed, ev.CorrelationID, map[string]any{"error": "plan request has no goal"})
		return nil
	}
	task := NewTask(goal)
	if maxSteps, ok := ev.Payload["max_steps"].(int); ok && maxSteps > 0 {
		task.MaxSteps = maxSteps
	}
	extra, _ := ev.Payload["context"].(map[string]any)

	plan, err := a.planner.CreatePlan(ctx, task, extra)
	if err != nil {
		a.logger.Error("planning failed", "goal", truncateStr(goal, 120), "error", err)
		a.publish(ctx, EventPlanFailed, ev.CorrelationID, map[string]any{"error": err.Error()})
		return nil
	}
	a.publish(ctx, EventPlanReady, ev.CorrelationID, map[string]any{"plan": plan})
	return nil
}

func (a *PlannerAgent) replan(ctx context.Context, ev Event) error {
	plan, _ := ev.Payload["plan"].(*Plan)
	failedStep, _ := ev.Payload["failed_step"].(string)
	errMsg, _ := ev.Payload["error"].(string)
	if plan == nil || failedStep == "" {
		a.publish(ctx, EventPlanFailed, ev.CorrelationID, map[string]any{"error": "replan request missing plan or failed step"})
		return nil
	}
	updated, err := a.planner.Replan(ctx, plan, failedStep, errMsg)
	if err != nil {
		a.publish(ctx, EventPlanFailed, ev.CorrelationID, map[string]any{"error": err.Error()})
		return nil
	}
	a.publish(ctx, EventPlanReady, ev.CorrelationID, map[string]any{"plan": updated, "replanned": true})
	return nil
}

// ExecutorAgent runs plans announced by PLAN_READY and serves single-step
// STEP_REQUESTED executions, emitting step events as it goes and a terminal
// PLAN_COMPLETED or PLAN_FAILED for plans.
type ExecutorAgent struct {
	baseAgent
	executor *PlanExecutor
}

// NewExecutorAgent creates the execution agent.
func NewExecutorAgent(name string, bus *EventBus, executor *PlanExecutor, logger *slog.Logger) *ExecutorAgent {
	return &ExecutorAgent{baseAgent: newBaseAgent(name, bus, logger), executor: executor}
}

func (a *ExecutorAgent) Start(ctx context.Context) error {
	a.bus.Subscribe(EventPlanReady, a.name, a.handle)
	a.bus.Subscribe(EventStepRequested, a.name, a.handleStep)
	a.logger.Info("executor agent started", "agent", a.name)
	return nil
}

func (a *ExecutorAgent) Stop() error {
	a.bus.Unsubscribe(EventPlanReady, a.name)
	a.bus.Unsubscribe(EventStepRequested, a.name)
	a.logger.Info("executor agent stopped", "agent", a.name)
	return nil
}

func (a *ExecutorAgent) handle(ctx context.Context, ev Event) error {
	// A replanned PLAN_READY belongs to the execution already in flight.
	if replanned, _ := ev.Payload["replanned"].(bool); replanned {
		return nil
	}
	plan, _ := ev.Payload["plan"].(*Plan)
	if plan == nil {
		a.publish(ctx, EventPlanFailed, ev.CorrelationID, map[string]any{"error": "plan ready event carries no plan"})
		return nil
	}
	// Replan requests raised during execution carry the goal's correlation.
	ctx = WithCorrelationID(ctx, ev.CorrelationID)

	hooks := StepHooks{
		OnStepStarted: func(step Step) {
			a.publish(ctx, EventStepStarted, ev.CorrelationID, map[string]any{
				"step_id":     step.ID,
				"step_type":   string(step.Type),
				"description": step.Description,
			})
		},
		OnStepCompleted: func(step Step, res StepResult) {
			a.publish(ctx, EventStepCompleted, ev.CorrelationID, map[string]any{
				"step_id":           step.ID,
				"description":       step.Description,
				"output":            res.Output,
				"execution_time_ms": res.ExecutionTimeMS,
			})
		},
		OnStepFailed: func(step Step, res StepResult) {
			a.publish(ctx, EventStepFailed, ev.CorrelationID, map[string]any{
				"step_id":     step.ID,
				"description": step.Description,
				"error":       res.Error,
			})
		},
	}

	result := a.executor.Execute(ctx, plan, hooks)
	if result.Success {
		a.publish(ctx, EventPlanCompleted, ev.CorrelationID, map[string]any{"result": result})
	} else {
		a.publish(ctx, EventPlanFailed, ev.CorrelationID, map[string]any{"error": result.Error, "result": result})
	}
	return nil
}

// handleStep serves one-off step executions requested over the bus.
func (a *ExecutorAgent) handleStep(ctx context.Context, ev Event) error {
	step, ok := ev.Payload["step"].(Step)
	if !ok {
		a.publish(ctx, EventStepFailed, ev.CorrelationID, map[string]any{"error": "step request carries no step"})
		return nil
	}
	a.publish(ctx, EventStepStarted, ev.CorrelationID, map[string]any{
		"step_id":     step.ID,
		"step_type":   string(step.Type),
		"description": step.Description,
	})
	res := a.executor.ExecuteStep(ctx, step)
	if res.Success {
		a.publish(ctx, EventStepCompleted, ev.CorrelationID, map[string]any{
			"step_id":           step.ID,
			"description":       step.Description,
			"output":            res.Output,
			"execution_time_ms": res.ExecutionTimeMS,
		})
	} else {
		a.publish(ctx, EventStepFailed, ev.CorrelationID, map[string]any{
			"step_id":     step.ID,
			"description": step.Description,
			"error":       res.Error,
		})
	}
	return nil
}

// BusReplanner requests recovery planning over the event bus: it publishes
// REPLAN_REQUESTED and, because publication completes every handler before
// returning, the planner agent has spliced the recovery into the plan by the
// time Publish returns.
type BusReplanner struct {
	bus *EventBus
}

// NewBusReplanner creates a replanner publishing on bus.
func NewBusReplanner(bus *EventBus) *BusReplanner { return &BusReplanner{bus: bus} }

func (r *BusReplanner) Replan(ctx context.Context, plan *Plan, failedStepID, errMsg string) (*Plan, error) {
	before := len(plan.Steps)
	r.bus.Publish(ctx, Event{
		Type:          EventReplanRequested,
		Source:        "executor",
		CorrelationID: CorrelationFromContext(ctx),
		Payload: map[string]any{
			"plan":        plan,
			"failed_step": failedStepID,
			"error":       errMsg,
		},
	})
	if len(plan.Steps) == before {
		return nil, fmt.Errorf("recovery planning produced no steps for %s", failedStepID)
	}
	return plan, nil
}

var _ Replanner = (*BusReplanner)(nil)

// MemoryAgent persists step outcomes and serves context requests.
type MemoryAgent struct {
	baseAgent
	memory *AdaptiveMemory
}

// NewMemoryAgent creates the memory agent.
func NewMemoryAgent(name string, bus *EventBus, memory *AdaptiveMemory, logger *slog.Logger) *MemoryAgent {
	return &MemoryAgent{baseAgent: newBaseAgent(name, bus, logger), memory: memory}
}

func (a *MemoryAgent) Start(ctx context.Context) error {
	a.bus.Subscribe(EventStepCompleted, a.name, a.handle)
	a.bus.Subscribe(EventContextRequest, a.name, a.handle)
	a.logger.Info("memory agent started", "agent", a.name)
	return nil
}

func (a *MemoryAgent) Stop() error {
	a.bus.Unsubscribe(EventStepCompleted, a.name)
	a.bus.Unsubscribe(EventContextRequest, a.name)
	a.logger.Info("memory agent stopped", "agent", a.name)
	return nil
}

func (a *MemoryAgent) handle(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventStepCompleted:
		desc, _ := ev.Payload["description"].(string)
		output, _ := ev.Payload["output"].(string)
		if output == "" {
			return nil
		}
		_, err := a.memory.Add(ctx, MemoryItem{
			Content: fmt.Sprintf("%s: %s", desc, output),
			Type:    MemoryWorking,
			Metadata: map[string]any{
				"step_id":        ev.Payload["step_id"],
				"correlation_id": ev.CorrelationID,
			},
		})
		return err
	case EventContextRequest:
		query, _ := ev.Payload["query"].(string)
		k, _ := ev.Payload["k"].(int)
		contexts, err := a.memory.RetrieveRelevantContext(ctx, query, k, 0.3)
		if err != nil {
			a.publish(ctx, EventContextReady, ev.CorrelationID, map[string]any{"error": err.Error()})
			return err
		}
		a.publish(ctx, EventContextReady, ev.CorrelationID, map[string]any{"contexts": contexts})
	}
	return nil
}

// MonitorAgent counts every event by type and by source.
type MonitorAgent struct {
	baseAgent
	counters *CounterSet
}

// NewMonitorAgent creates the monitoring agent.
func NewMonitorAgent(name string, bus *EventBus, counters *CounterSet, logger *slog.Logger) *MonitorAgent {
	if counters == nil {
		counters = NewCounterSet()
	}
	return &MonitorAgent{baseAgent: newBaseAgent(name, bus, logger), counters: counters}
}

// Counters exposes the agent's counter set.
func (a *MonitorAgent) Counters() *CounterSet { return a.counters }

func (a *MonitorAgent) Start(ctx context.Context) error {
	a.bus.SubscribeAll(a.name, a.handle)
	a.logger.Info("monitor agent started", "agent", a.name)
	return nil
}

func (a *MonitorAgent) Stop() error {
	a.bus.UnsubscribeAll(a.name)
	a.logger.Info("monitor agent stopped", "agent", a.name)
	return nil
}

func (a *MonitorAgent) handle(_ context.Context, ev Event) error {
	a.counters.Inc("event." + string(ev.Type))
	if ev.Source != "" {
		a.counters.Inc("agent." + ev.Source + ".events")
	}
	return nil
}

// compile-time checks
var (
	_ Agent = (*PlannerAgent)(nil)
	_ Agent = (*ExecutorAgent)(nil)
	_ Agent = (*MemoryAgent)(nil)
	_ Agent = (*MonitorAgent)(nil)
)
