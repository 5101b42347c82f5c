package superagent

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Goal outcome statuses.
const (
	GoalCompleted = "completed"
	GoalFailed    = "failed"
	GoalTimedOut  = "timeout"
	GoalCancelled = "cancelled"
)

// defaultGoalTimeout bounds one ExecuteGoal round trip.
const defaultGoalTimeout = 60 * time.Second

// GoalResult is the outcome of one orchestrated goal.
type GoalResult struct {
	Status        string           `json:"status"`
	CorrelationID string           `json:"correlation_id"`
	Result        *ExecutionResult `json:"result,omitempty"`
	Error         string           `json:"error,omitempty"`
	DurationMS    float64          `json:"duration_ms"`
}

// Orchestrator owns the agent pool and turns goals into event-driven plan
// executions. It publishes PLAN_REQUESTED and waits for the terminal
// PLAN_COMPLETED or PLAN_FAILED carrying the same correlation ID.
type Orchestrator struct {
	bus         *EventBus
	fusion      *ContextFusion
	agents      []Agent
	goalTimeout time.Duration
	tracer      Tracer
	logger      *slog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// GoalTimeout bounds one goal round trip (default: 60s).
func GoalTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.goalTimeout = d }
}

// WithContextFusion attaches the fusion engine that enriches goals with
// conversation, file, and memory context before planning.
func WithContextFusion(f *ContextFusion) OrchestratorOption {
	return func(o *Orchestrator) { o.fusion = f }
}

// OrchestratorTracer attaches a tracer that spans each goal round trip.
func OrchestratorTracer(t Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = t }
}

// OrchestratorLogger sets the structured logger.
func OrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// GoalOption supplies optional inputs for one goal execution.
type GoalOption func(*goalInput)

type goalInput struct {
	history []Message
	files   []string
}

// GoalHistory attaches recent conversation turns; fusion weights them by
// recency.
func GoalHistory(history []Message) GoalOption {
	return func(g *goalInput) { g.history = history }
}

// GoalFiles attaches the files the session is working on.
func GoalFiles(files []string) GoalOption {
	return func(g *goalInput) { g.files = files }
}

// NewOrchestrator creates an orchestrator over the bus.
func NewOrchestrator(bus *EventBus, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{bus: bus, goalTimeout: defaultGoalTimeout}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = nopLogger
	}
	return o
}

// RegisterAgent adds an agent to the pool. Call before Start.
func (o *Orchestrator) RegisterAgent(a Agent) {
	o.agents = append(o.agents, a)
}

// Start starts every registered agent. The first failure stops the already
// started agents and returns.
func (o *Orchestrator) Start(ctx context.Context) error {
	for i, a := range o.agents {
		if err := a.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				o.agents[j].Stop()
			}
			return err
		}
	}
	o.logger.Info("orchestrator started", "agents", len(o.agents))
	return nil
}

// Stop stops every agent and drains in-flight deliveries.
func (o *Orchestrator) Stop() error {
	var firstErr error
	for _, a := range o.agents {
		if err := a.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	o.bus.Drain()
	o.logger.Info("orchestrator stopped")
	return firstErr
}

// ExecuteGoal runs one goal end to end: context fusion over the goal and
// any attached history and files, a PLAN_REQUESTED publication under a fresh
// correlation ID, and a wait for the terminal event. The status reports
// completed, failed, timeout, or cancelled.
func (o *Orchestrator) ExecuteGoal(ctx context.Context, goal, sessionID string, opts ...GoalOption) GoalResult {
	start := time.Now()
	correlationID := NewCorrelationID()
	result := GoalResult{CorrelationID: correlationID}
	var in goalInput
	for _, opt := range opts {
		opt(&in)
	}

	var span Span
	if o.tracer != nil {
		ctx, span = o.tracer.Start(ctx, "goal.execute",
			StringAttr("correlation_id", correlationID),
			StringAttr("session_id", sessionID))
		defer span.End()
	}

	finish := func(status, errMsg string) GoalResult {
		result.Status = status
		result.Error = errMsg
		result.DurationMS = float64(time.Since(start)) / float64(time.Millisecond)
		if span != nil {
			span.SetAttr(StringAttr("goal.status", status))
			if errMsg != "" {
				span.Error(errors.New(errMsg))
			}
		}
		return result
	}

	payload := map[string]any{"goal": goal, "session_id": sessionID}
	if o.fusion != nil {
		fused, err := o.fusion.FuseContext(ctx, sessionID, goal, in.history, in.files)
		if err != nil {
			o.logger.Warn("context fusion failed, planning without it", "error", err)
		} else {
			payload["context"] = map[string]any{"fused": fused.Render()}
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, o.goalTimeout)
	defer cancel()

	o.bus.Publish(ctx, Event{
		Type:          EventPlanRequested,
		Source:        "orchestrator",
		CorrelationID: correlationID,
		Payload:       payload,
	})
	o.logger.Info("goal submitted",
		"correlation_id", correlationID,
		"session_id", sessionID,
		"goal", truncateStr(goal, 120))

	ev, err := o.bus.WaitFor(waitCtx, correlationID, EventPlanCompleted, EventPlanFailed)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return finish(GoalCancelled, (&CancelledError{Op: "goal"}).Error())
		}
		return finish(GoalTimedOut, "goal timed out after "+o.goalTimeout.String())
	}

	if execRes, ok := ev.Payload["result"].(ExecutionResult); ok {
		result.Result = &execRes
	}
	if ev.Type == EventPlanCompleted {
		return finish(GoalCompleted, "")
	}
	errMsg, _ := ev.Payload["error"].(string)
	return finish(GoalFailed, errMsg)
}
