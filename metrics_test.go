package superagent

import (
	"errors"
	"testing"
)

func TestMetricsRegistryRecords(t *testing.T) {
	reg := NewMetricsRegistry()
	reg.RecordSuccess("openai", 100, 0.5, 200)
	reg.RecordSuccess("openai", 50, 0.25, 400)
	reg.RecordFailure("openai", errors.New("rate limited"))

	pm, ok := reg.Provider("openai")
	if !ok {
		t.Fatal("provider not tracked")
	}
	if pm.Total != 3 || pm.Successful != 2 || pm.Failed != 1 {
		t.Errorf("counts = %+v", pm)
	}
	if pm.TotalTokens != 150 || pm.TotalCost != 0.75 {
		t.Errorf("usage = %+v", pm)
	}
	// Running mean over successes only.
	if pm.AvgLatencyMS != 300 {
		t.Errorf("avg latency = %v", pm.AvgLatencyMS)
	}
	if pm.LastError != "rate limited" {
		t.Errorf("last error = %q", pm.LastError)
	}
}

func TestMetricsRegistryUnknownProvider(t *testing.T) {
	reg := NewMetricsRegistry()
	if _, ok := reg.Provider("ghost"); ok {
		t.Error("unseen provider reported as tracked")
	}
}

func TestMetricsRegistryAll(t *testing.T) {
	reg := NewMetricsRegistry()
	reg.RecordSuccess("a", 10, 0, 1)
	reg.RecordFailure("b", errors.New("down"))

	all := reg.All()
	if len(all) != 2 {
		t.Fatalf("all = %v", all)
	}
	if all["a"].Successful != 1 || all["b"].Failed != 1 {
		t.Errorf("all = %v", all)
	}

	// Snapshots are copies, not live views.
	reg.RecordSuccess("a", 10, 0, 1)
	if all["a"].Successful != 1 {
		t.Error("snapshot mutated by later writes")
	}
}

func TestCounterSet(t *testing.T) {
	c := NewCounterSet()
	c.Inc("event.plan_requested")
	c.Inc("event.plan_requested")
	c.Inc("agent.planner.events")

	if c.Get("event.plan_requested") != 2 {
		t.Errorf("counter = %d", c.Get("event.plan_requested"))
	}
	if c.Get("missing") != 0 {
		t.Errorf("missing counter = %d", c.Get("missing"))
	}

	snap := c.Snapshot()
	if len(snap) != 2 || snap["agent.planner.events"] != 1 {
		t.Errorf("snapshot = %v", snap)
	}
	c.Inc("agent.planner.events")
	if snap["agent.planner.events"] != 1 {
		t.Error("snapshot mutated by later writes")
	}
}
