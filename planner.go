package superagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// plannerSystemPrompt instructs the model to decompose a task into typed,
// dependency-annotated steps.
const plannerSystemPrompt = `You are an expert AI task planner with advanced reasoning capabilities.

Your goal is to create optimal execution plans that:
1. Break complex tasks into clear, executable steps
2. Identify dependencies between steps
3. Optimize for parallel execution where possible
4. Estimate success probability for each step

Available tools:
%s

For each step, provide:
- type: think (reasoning), act (use tool), observe (check result), reflect (evaluate)
- description: clear action to take
- tool (if act): specific tool to use, with tool_args
- dependencies: ids of steps that must complete first
- priority: low, medium, high, or critical
- success_probability: 0.0 to 1.0
- parallel_group: steps that can run in parallel share a group id

Respond with JSON: {"steps": [...]}`

// Planner turns a task into an executable plan via the LLM, falling back to
// line-based parsing when the model does not return JSON.
type Planner struct {
	provider Provider
	registry *ToolRegistry
	model    string
	logger   *slog.Logger
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// PlannerLogger sets the structured logger.
func PlannerLogger(l *slog.Logger) PlannerOption {
	return func(p *Planner) { p.logger = l }
}

// NewPlanner creates a planner using provider and model, with the registry
// supplying the tool catalogue shown to the model.
func NewPlanner(provider Provider, registry *ToolRegistry, model string, opts ...PlannerOption) *Planner {
	p := &Planner{provider: provider, registry: registry, model: model}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = nopLogger
	}
	return p
}

// CreatePlan asks the model to decompose task into steps and returns the
// plan with its dependency graph, parallel groups, and estimates. The step
// count is capped at task.MaxSteps.
func (p *Planner) CreatePlan(ctx context.Context, task Task, extra map[string]any) (*Plan, error) {
	var tools []string
	if p.registry != nil {
		for _, def := range p.registry.AllDefinitions() {
			tools = append(tools, fmt.Sprintf("- %s: %s", def.Name, def.Description))
		}
	}
	toolList := "none"
	if len(tools) > 0 {
		toolList = strings.Join(tools, "\n")
	}

	userPrompt := fmt.Sprintf(`Task: %s

Context: %s
Additional context: %s
Constraints: %s
Success criteria: %s
Max steps: %d

Create an optimized execution plan with step-by-step breakdown, dependency
relationships, parallel execution opportunities, and success probability
estimates.`,
		task.Description,
		formatMapOrNone(task.Context),
		formatMapOrNone(extra),
		joinOrNone(task.Constraints, ", "),
		joinOr(task.SuccessCriteria, ", ", "Complete the task"),
		task.MaxSteps,
	)

	req, err := NewLLMRequest(p.model, []Message{
		SystemMessage(fmt.Sprintf(plannerSystemPrompt, toolList)),
		UserMessage(userPrompt),
	})
	if err != nil {
		return nil, err
	}
	resp, err := p.provider.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("plan generation: %w", err)
	}

	steps := p.parseSteps(resp.Content, task)
	plan := &Plan{
		TaskID:    task.ID,
		Steps:     steps,
		Reasoning: resp.Content,
		CreatedAt: time.Now(),
	}
	plan.finalize()
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	p.logger.Info("plan created",
		"task_id", task.ID,
		"steps", len(plan.Steps),
		"parallel_groups", len(plan.ParallelGroups),
		"success_probability", plan.SuccessProbability)
	return plan, nil
}

var _ Replanner = (*Planner)(nil)

// Replan builds a short recovery plan (at most 5 steps) for the failure and
// splices it immediately after the failed step.
func (p *Planner) Replan(ctx context.Context, plan *Plan, failedStepID, errMsg string) (*Plan, error) {
	failed, ok := plan.Step(failedStepID)
	if !ok {
		return nil, &ValidationError{Field: "step_id", Message: fmt.Sprintf("failed step %q not in plan", failedStepID)}
	}
	recoveryTask := NewTask("Recover from failure: " + errMsg)
	recoveryTask.Context = map[string]any{"failed_step": failed.Description}
	recoveryTask.MaxSteps = 5

	recovery, err := p.CreatePlan(ctx, recoveryTask, nil)
	if err != nil {
		return nil, fmt.Errorf("recovery planning: %w", err)
	}
	// The recovery plan keeps its own dependency order and groups.
	// Dependencies on steps outside the recovery plan are dangling model
	// references and are dropped.
	recoveryIDs := make(map[string]bool, len(recovery.Steps))
	for _, s := range recovery.Steps {
		recoveryIDs[s.ID] = true
	}
	for i, s := range recovery.Steps {
		var deps []string
		for _, dep := range s.Dependencies {
			if recoveryIDs[dep] {
				deps = append(deps, dep)
			}
		}
		recovery.Steps[i].Dependencies = deps
	}
	if err := plan.SpliceRecovery(failedStepID, recovery.Steps); err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	p.logger.Info("plan spliced with recovery",
		"task_id", plan.TaskID,
		"failed_step", failedStepID,
		"recovery_steps", len(recovery.Steps))
	return plan, nil
}

// plannedStep is the wire shape of one step in the model's JSON plan.
type plannedStep struct {
	ID                 string         `json:"id"`
	Type               string         `json:"type"`
	Description        string         `json:"description"`
	Tool               string         `json:"tool"`
	ToolArgs           map[string]any `json:"tool_args"`
	Dependencies       []string       `json:"dependencies"`
	Priority           string         `json:"priority"`
	SuccessProbability float64        `json:"success_probability"`
	ParallelGroup      string         `json:"parallel_group"`
}

// parseSteps decodes the model's plan: JSON first ({"steps": [...]} or a
// bare array), then line-based fallback. Output is capped at task.MaxSteps.
func (p *Planner) parseSteps(text string, task Task) []Step {
	steps, err := parseJSONSteps(text)
	if err != nil {
		p.logger.Warn("plan is not JSON, using fallback parse", "error", err)
		steps = fallbackParseSteps(text, task)
	}
	if task.MaxSteps > 0 && len(steps) > task.MaxSteps {
		steps = steps[:task.MaxSteps]
	}
	return steps
}

func parseJSONSteps(text string) ([]Step, error) {
	raw := strings.TrimSpace(text)
	// Models often fence JSON in markdown blocks.
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	}

	var planned []plannedStep
	var wrapper struct {
		Steps []plannedStep `json:"steps"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapper); err == nil && len(wrapper.Steps) > 0 {
		planned = wrapper.Steps
	} else if err := json.Unmarshal([]byte(raw), &planned); err != nil {
		return nil, err
	}
	if len(planned) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}

	steps := make([]Step, 0, len(planned))
	for _, ps := range planned {
		step := Step{
			ID:                 ps.ID,
			Type:               parseStepType(ps.Type),
			Description:        ps.Description,
			ToolName:           ps.Tool,
			ToolArgs:           ps.ToolArgs,
			Dependencies:       ps.Dependencies,
			Priority:           parsePriority(ps.Priority),
			SuccessProbability: ps.SuccessProbability,
			MaxRetries:         3,
			ParallelGroup:      ps.ParallelGroup,
		}
		if step.ID == "" {
			step.ID = NewID()
		}
		if step.SuccessProbability <= 0 {
			step.SuccessProbability = 1.0
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// fallbackParseSteps turns "Step ..." or numbered lines into ACT steps.
// When nothing matches, the whole task becomes a single step.
func fallbackParseSteps(text string, task Task) []Step {
	var steps []Step
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "Step") || strings.HasPrefix(line, fmt.Sprintf("%d", i+1)) {
			steps = append(steps, Step{
				ID:                 NewID(),
				Type:               StepAct,
				Description:        line,
				Priority:           PriorityMedium,
				SuccessProbability: 0.9,
				MaxRetries:         3,
			})
		}
	}
	if len(steps) == 0 {
		steps = append(steps, Step{
			ID:                 NewID(),
			Type:               StepAct,
			Description:        task.Description,
			Priority:           PriorityHigh,
			SuccessProbability: 0.8,
			MaxRetries:         3,
		})
	}
	return steps
}

func parseStepType(s string) StepType {
	switch StepType(strings.ToLower(strings.TrimSpace(s))) {
	case StepThink:
		return StepThink
	case StepObserve:
		return StepObserve
	case StepReflect:
		return StepReflect
	default:
		return StepAct
	}
}

func parsePriority(s string) TaskPriority {
	switch TaskPriority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	case PriorityCritical:
		return PriorityCritical
	default:
		return PriorityMedium
	}
}

func formatMapOrNone(m map[string]any) string {
	if len(m) == 0 {
		return "None"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "None"
	}
	return string(b)
}

func joinOrNone(s []string, sep string) string {
	return joinOr(s, sep, "None")
}

func joinOr(s []string, sep, fallback string) string {
	if len(s) == 0 {
		return fallback
	}
	return strings.Join(s, sep)
}
