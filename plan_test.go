package superagent

import (
	"errors"
	"strings"
	"testing"
)

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask("summarize the repo")
	if task.ID == "" || task.Priority != PriorityMedium || task.MaxSteps != 10 || task.TimeoutSeconds != 300 {
		t.Errorf("task = %+v", task)
	}
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		steps   []Step
		wantMsg string
	}{
		{
			"valid chain",
			[]Step{
				{ID: "s1", Type: StepThink},
				{ID: "s2", Type: StepAct, Dependencies: []string{"s1"}},
			},
			"",
		},
		{
			"empty id",
			[]Step{{ID: ""}},
			"empty id",
		},
		{
			"duplicate id",
			[]Step{{ID: "s1"}, {ID: "s1"}},
			"duplicate step id",
		},
		{
			"unknown dependency",
			[]Step{{ID: "s1", Dependencies: []string{"ghost"}}},
			"unknown step",
		},
		{
			"cycle",
			[]Step{
				{ID: "s1", Dependencies: []string{"s2"}},
				{ID: "s2", Dependencies: []string{"s1"}},
			},
			"cycle",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := &Plan{TaskID: "t", Steps: tt.steps}
			plan.finalize()
			err := plan.Validate()
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if !strings.Contains(verr.Message, tt.wantMsg) {
				t.Errorf("message = %q, want substring %q", verr.Message, tt.wantMsg)
			}
		})
	}
}

func TestPlanParallelGroups(t *testing.T) {
	plan := &Plan{
		TaskID: "t",
		Steps: []Step{
			{ID: "root", Type: StepThink},
			{ID: "a", Type: StepAct, Dependencies: []string{"root"}},
			{ID: "b", Type: StepAct, Dependencies: []string{"root"}},
			{ID: "x", Type: StepAct, ParallelGroup: "fanout"},
			{ID: "y", Type: StepAct, ParallelGroup: "fanout"},
		},
	}
	plan.finalize()

	if got := plan.ParallelGroups["fanout"]; len(got) != 2 {
		t.Errorf("explicit group = %v", got)
	}
	// a and b share the same dependency set and no explicit group.
	var auto []string
	for name, members := range plan.ParallelGroups {
		if strings.HasPrefix(name, "auto_group_") {
			auto = members
		}
	}
	if len(auto) != 2 {
		t.Errorf("auto group = %v, groups = %v", auto, plan.ParallelGroups)
	}
}

func TestPlanEstimates(t *testing.T) {
	plan := &Plan{
		TaskID: "t",
		Steps: []Step{
			{ID: "s1", EstimatedDuration: 2, SuccessProbability: 0.9},
			{ID: "p1", EstimatedDuration: 4, SuccessProbability: 0.8, ParallelGroup: "g"},
			{ID: "p2", EstimatedDuration: 10, ParallelGroup: "g"},
			{ID: "s2"}, // no estimate: 5s, certain
		},
	}
	plan.finalize()

	// 2 sequential + max(4, 10) in the group + 5 default.
	if plan.EstimatedDuration != 17 {
		t.Errorf("duration = %v, want 17", plan.EstimatedDuration)
	}
	want := 0.9 * 0.8
	if diff := plan.SuccessProbability - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("probability = %v, want %v", plan.SuccessProbability, want)
	}
}

func TestPlanSpliceRecovery(t *testing.T) {
	plan := &Plan{
		TaskID: "t",
		Steps: []Step{
			{ID: "s1"},
			{ID: "s2"},
			{ID: "s3"},
		},
	}
	plan.finalize()

	if err := plan.SpliceRecovery("s2", []Step{{ID: "r1"}, {ID: "r2"}}); err != nil {
		t.Fatalf("SpliceRecovery: %v", err)
	}
	var order []string
	for _, s := range plan.Steps {
		order = append(order, s.ID)
	}
	want := []string{"s1", "s2", "r1", "r2", "s3"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if _, ok := plan.DependencyGraph["r1"]; !ok {
		t.Error("derived fields not recomputed after splice")
	}
}

func TestPlanSpliceRecoveryUnknownStep(t *testing.T) {
	plan := &Plan{TaskID: "t", Steps: []Step{{ID: "s1"}}}
	plan.finalize()
	if err := plan.SpliceRecovery("ghost", []Step{{ID: "r1"}}); err == nil {
		t.Error("expected error for unknown failed step")
	}
}

func TestPlanStepLookup(t *testing.T) {
	plan := &Plan{Steps: []Step{{ID: "s1", Description: "only"}}}
	if s, ok := plan.Step("s1"); !ok || s.Description != "only" {
		t.Errorf("Step = %+v, %v", s, ok)
	}
	if _, ok := plan.Step("missing"); ok {
		t.Error("missing step reported present")
	}
}
