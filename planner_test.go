package superagent

import (
	"context"
	"testing"
)

const plannerJSONPlan = "```json\n" + `{
	"steps": [
		{"id": "gather", "type": "think", "description": "Review inputs", "success_probability": 0.95},
		{"id": "write", "type": "act", "description": "Write the file", "tool": "write_file",
		 "tool_args": {"path": "out.txt", "content": "hi"}, "dependencies": ["gather"], "priority": "high"},
		{"id": "check", "type": "observe", "description": "Check the output", "dependencies": ["write"]}
	]
}` + "\n```"

func TestPlannerCreatePlanJSON(t *testing.T) {
	provider := &fakeProvider{name: "fake", content: plannerJSONPlan}
	planner := NewPlanner(provider, nil, "fake-model")

	plan, err := planner.CreatePlan(context.Background(), NewTask("write a file"), nil)
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if len(plan.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(plan.Steps))
	}
	if plan.Steps[0].Type != StepThink || plan.Steps[1].Type != StepAct || plan.Steps[2].Type != StepObserve {
		t.Errorf("types = %v, %v, %v", plan.Steps[0].Type, plan.Steps[1].Type, plan.Steps[2].Type)
	}
	write := plan.Steps[1]
	if write.ToolName != "write_file" || write.ToolArgs["path"] != "out.txt" || write.Priority != PriorityHigh {
		t.Errorf("act step = %+v", write)
	}
	// check has no probability estimate: defaults to certain.
	if plan.Steps[2].SuccessProbability != 1.0 {
		t.Errorf("default probability = %v", plan.Steps[2].SuccessProbability)
	}
	if got := plan.DependencyGraph["write"]; len(got) != 1 || got[0] != "gather" {
		t.Errorf("dependency graph = %v", plan.DependencyGraph)
	}
	if plan.Reasoning == "" {
		t.Error("reasoning should carry the model output")
	}
}

func TestPlannerCreatePlanCapsSteps(t *testing.T) {
	provider := &fakeProvider{name: "fake", content: `[
		{"id": "s1", "type": "act", "description": "one"},
		{"id": "s2", "type": "act", "description": "two"},
		{"id": "s3", "type": "act", "description": "three"}
	]`}
	planner := NewPlanner(provider, nil, "fake-model")

	task := NewTask("bounded")
	task.MaxSteps = 2
	plan, err := planner.CreatePlan(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Errorf("steps = %d, want 2", len(plan.Steps))
	}
}

func TestPlannerFallbackLineParse(t *testing.T) {
	provider := &fakeProvider{name: "fake", content: "Step 1: read the config\nStep 2: apply the change"}
	planner := NewPlanner(provider, nil, "fake-model")

	plan, err := planner.CreatePlan(context.Background(), NewTask("two liner"), nil)
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(plan.Steps))
	}
	for _, s := range plan.Steps {
		if s.Type != StepAct || s.ID == "" {
			t.Errorf("fallback step = %+v", s)
		}
	}
}

func TestPlannerFallbackSingleStep(t *testing.T) {
	provider := &fakeProvider{name: "fake", content: "I cannot produce a structured plan."}
	planner := NewPlanner(provider, nil, "fake-model")

	task := NewTask("do the thing")
	plan, err := planner.CreatePlan(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Description != task.Description {
		t.Errorf("plan = %+v", plan.Steps)
	}
}

func TestPlannerReplanSplices(t *testing.T) {
	calls := 0
	provider := &fakeProvider{name: "fake"}
	provider.generate = func(_ context.Context, req LLMRequest) (LLMResponse, error) {
		calls++
		content := plannerJSONPlan
		if calls > 1 {
			content = `[
				{"id": "fix1", "type": "act", "description": "Inspect the failure", "dependencies": ["write"]},
				{"id": "fix2", "type": "act", "description": "Retry with corrected args",
				 "dependencies": ["fix1"], "parallel_group": "g"}
			]`
		}
		return LLMResponse{ID: NewID(), Model: req.Model, Content: content}, nil
	}
	planner := NewPlanner(provider, nil, "fake-model")

	plan, err := planner.CreatePlan(context.Background(), NewTask("write a file"), nil)
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	plan, err = planner.Replan(context.Background(), plan, "write", "tool crashed")
	if err != nil {
		t.Fatalf("Replan: %v", err)
	}

	if len(plan.Steps) != 5 {
		t.Fatalf("steps = %d, want 5", len(plan.Steps))
	}
	if plan.Steps[2].ID != "fix1" || plan.Steps[3].ID != "fix2" {
		t.Errorf("recovery steps not after failed step: %v", plan.Steps)
	}
	// The recovery plan's internal ordering survives the splice; the
	// dangling reference to a step it never planned does not.
	fix1, fix2 := plan.Steps[2], plan.Steps[3]
	if len(fix1.Dependencies) != 0 {
		t.Errorf("fix1 dependencies = %v, want none", fix1.Dependencies)
	}
	if len(fix2.Dependencies) != 1 || fix2.Dependencies[0] != "fix1" || fix2.ParallelGroup != "g" {
		t.Errorf("fix2 lost its recovery ordering: %+v", fix2)
	}
	if got := plan.DependencyGraph["fix2"]; len(got) != 1 || got[0] != "fix1" {
		t.Errorf("dependency graph = %v", plan.DependencyGraph)
	}
}

func TestPlannerReplanUnknownStep(t *testing.T) {
	planner := NewPlanner(&fakeProvider{name: "fake"}, nil, "fake-model")
	plan := &Plan{TaskID: "t", Steps: []Step{{ID: "s1"}}}
	if _, err := planner.Replan(context.Background(), plan, "ghost", "err"); err == nil {
		t.Error("expected error for unknown failed step")
	}
}
