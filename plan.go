package superagent

import (
	"fmt"
	"time"
)

// TaskPriority orders tasks and steps.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// StepType classifies what a plan step does.
type StepType string

const (
	StepThink   StepType = "think"   // reasoning, no side effects
	StepAct     StepType = "act"     // tool execution
	StepObserve StepType = "observe" // inspect prior outputs
	StepReflect StepType = "reflect" // evaluate progress
)

// Task is one goal handed to the planner.
type Task struct {
	ID              string         `json:"id"`
	Description     string         `json:"description"`
	Priority        TaskPriority   `json:"priority"`
	Context         map[string]any `json:"context,omitempty"`
	Constraints     []string       `json:"constraints,omitempty"`
	SuccessCriteria []string       `json:"success_criteria,omitempty"`
	MaxSteps        int            `json:"max_steps"`
	TimeoutSeconds  int            `json:"timeout_seconds"`
	CreatedAt       time.Time      `json:"created_at"`
}

// NewTask creates a task with defaults (medium priority, 10 steps, 300s).
func NewTask(description string) Task {
	return Task{
		ID:             NewID(),
		Description:    description,
		Priority:       PriorityMedium,
		MaxSteps:       10,
		TimeoutSeconds: 300,
		CreatedAt:      time.Now(),
	}
}

// Step is one unit of a plan. ACT steps carry a tool invocation; the other
// types are reasoning passes over accumulated state.
type Step struct {
	ID                 string         `json:"id"`
	Type               StepType       `json:"type"`
	Description        string         `json:"description"`
	ToolName           string         `json:"tool_name,omitempty"`
	ToolArgs           map[string]any `json:"tool_args,omitempty"`
	ExpectedOutcome    string         `json:"expected_outcome,omitempty"`
	Dependencies       []string       `json:"dependencies,omitempty"`
	Priority           TaskPriority   `json:"priority"`
	EstimatedDuration  float64        `json:"estimated_duration,omitempty"` // seconds
	SuccessProbability float64        `json:"success_probability"`
	MaxRetries         int            `json:"max_retries"`
	ParallelGroup      string         `json:"parallel_group,omitempty"`
}

// Plan is an ordered, dependency-annotated set of steps for one task.
type Plan struct {
	TaskID             string              `json:"task_id"`
	Steps              []Step              `json:"steps"`
	Reasoning          string              `json:"reasoning,omitempty"`
	DependencyGraph    map[string][]string `json:"dependency_graph"`
	ParallelGroups     map[string][]string `json:"parallel_groups"`
	EstimatedDuration  float64             `json:"estimated_duration"` // seconds
	SuccessProbability float64             `json:"success_probability"`
	CreatedAt          time.Time           `json:"created_at"`
}

// StepResult records one step's execution.
type StepResult struct {
	StepID          string    `json:"step_id"`
	Success         bool      `json:"success"`
	Output          string    `json:"output,omitempty"`
	Error           string    `json:"error,omitempty"`
	Observations    []string  `json:"observations,omitempty"`
	ExecutionTimeMS float64   `json:"execution_time_ms"`
	Timestamp       time.Time `json:"timestamp"`
}

// ExecutionResult records one task's execution.
type ExecutionResult struct {
	TaskID        string       `json:"task_id"`
	Success       bool         `json:"success"`
	Output        string       `json:"output,omitempty"`
	Error         string       `json:"error,omitempty"`
	StepsExecuted int          `json:"steps_executed"`
	StepResults   []StepResult `json:"step_results,omitempty"`
	TotalTimeMS   float64      `json:"total_time_ms"`
	CompletedAt   time.Time    `json:"completed_at"`
}

// finalize recomputes a plan's derived fields from its steps: the dependency
// graph, parallel groups, and the duration and success estimates.
func (p *Plan) finalize() {
	p.DependencyGraph = buildDependencyGraph(p.Steps)
	p.ParallelGroups = identifyParallelGroups(p.Steps, p.DependencyGraph)
	p.EstimatedDuration = estimateDuration(p.Steps, p.ParallelGroups)
	p.SuccessProbability = estimateSuccessProbability(p.Steps)
}

// Validate checks the plan's structural invariants: unique step IDs, every
// dependency referring to an existing step, and an acyclic graph.
func (p *Plan) Validate() error {
	index := make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		if s.ID == "" {
			return &ValidationError{Field: "steps", Message: fmt.Sprintf("step %d has empty id", i)}
		}
		if _, dup := index[s.ID]; dup {
			return &ValidationError{Field: "steps", Message: fmt.Sprintf("duplicate step id %q", s.ID)}
		}
		index[s.ID] = i
	}
	for _, s := range p.Steps {
		for _, dep := range s.Dependencies {
			if _, ok := index[dep]; !ok {
				return &ValidationError{Field: "dependencies", Message: fmt.Sprintf("step %q depends on unknown step %q", s.ID, dep)}
			}
		}
	}
	if cycle := findCycle(p.DependencyGraph); cycle != "" {
		return &ValidationError{Field: "dependencies", Message: "dependency cycle through step " + cycle}
	}
	return nil
}

// Step returns the step with the given ID.
func (p *Plan) Step(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// SpliceRecovery inserts recovery steps immediately after the failed step
// and recomputes the derived fields.
func (p *Plan) SpliceRecovery(failedStepID string, recovery []Step) error {
	idx := -1
	for i, s := range p.Steps {
		if s.ID == failedStepID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &ValidationError{Field: "steps", Message: fmt.Sprintf("failed step %q not in plan", failedStepID)}
	}
	steps := make([]Step, 0, len(p.Steps)+len(recovery))
	steps = append(steps, p.Steps[:idx+1]...)
	steps = append(steps, recovery...)
	steps = append(steps, p.Steps[idx+1:]...)
	p.Steps = steps
	p.finalize()
	return nil
}

// buildDependencyGraph maps each step ID to the IDs it depends on.
func buildDependencyGraph(steps []Step) map[string][]string {
	graph := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps := make([]string, len(s.Dependencies))
		copy(deps, s.Dependencies)
		graph[s.ID] = deps
	}
	return graph
}

// identifyParallelGroups collects explicitly labeled groups, then forms
// auto_group_N groups of two or more unlabeled steps sharing the same
// dependency set.
func identifyParallelGroups(steps []Step, graph map[string][]string) map[string][]string {
	groups := make(map[string][]string)
	for _, s := range steps {
		if s.ParallelGroup != "" {
			groups[s.ParallelGroup] = append(groups[s.ParallelGroup], s.ID)
		}
	}

	processed := make(map[string]bool)
	groupID := 0
	for _, s := range steps {
		if processed[s.ID] || s.ParallelGroup != "" {
			continue
		}
		var sameDeps []string
		for _, other := range steps {
			if processed[other.ID] || other.ParallelGroup != "" {
				continue
			}
			if equalStringSlices(graph[other.ID], graph[s.ID]) {
				sameDeps = append(sameDeps, other.ID)
			}
		}
		if len(sameDeps) > 1 {
			name := fmt.Sprintf("auto_group_%d", groupID)
			groups[name] = sameDeps
			for _, id := range sameDeps {
				processed[id] = true
			}
			groupID++
		}
	}
	return groups
}

// estimateDuration sums sequential steps and takes the max within each
// parallel group. Steps without an estimate count as 5 seconds.
func estimateDuration(steps []Step, groups map[string][]string) float64 {
	durationOf := func(s Step) float64 {
		if s.EstimatedDuration > 0 {
			return s.EstimatedDuration
		}
		return 5.0
	}
	byID := make(map[string]Step, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}

	var total float64
	processed := make(map[string]bool)
	for _, s := range steps {
		if processed[s.ID] {
			continue
		}
		var grouped bool
		for _, members := range groups {
			if !containsString(members, s.ID) {
				continue
			}
			var max float64
			for _, id := range members {
				if d := durationOf(byID[id]); d > max {
					max = d
				}
				processed[id] = true
			}
			total += max
			grouped = true
			break
		}
		if !grouped {
			total += durationOf(s)
			processed[s.ID] = true
		}
	}
	return total
}

// estimateSuccessProbability multiplies per-step probabilities. A step with
// no estimate counts as certain.
func estimateSuccessProbability(steps []Step) float64 {
	p := 1.0
	for _, s := range steps {
		if s.SuccessProbability > 0 {
			p *= s.SuccessProbability
		}
	}
	return p
}

// findCycle returns the ID of a step on a dependency cycle, or "".
func findCycle(graph map[string][]string) string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(graph))
	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		state[id] = visiting
		for _, dep := range graph[id] {
			if hit := visit(dep); hit != "" {
				return hit
			}
		}
		state[id] = done
		return ""
	}
	for id := range graph {
		if hit := visit(id); hit != "" {
			return hit
		}
	}
	return ""
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
