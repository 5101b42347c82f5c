package superagent

import (
	"strings"
	"testing"
)

func TestCheckpointCreateRestore(t *testing.T) {
	mgr, err := NewCheckpointManager(CheckpointDir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	id, err := mgr.Create("sess-1", map[string]any{"step": "planning", "files": 2.0}, "before applying changes")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cp, err := mgr.Restore(id)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if cp.SessionID != "sess-1" || cp.Description != "before applying changes" {
		t.Errorf("checkpoint = %+v", cp)
	}
	if cp.State["step"] != "planning" || cp.State["files"] != 2.0 {
		t.Errorf("state = %v", cp.State)
	}
}

func TestCheckpointDefaultDescription(t *testing.T) {
	mgr, _ := NewCheckpointManager(CheckpointDir(t.TempDir()))
	id, err := mgr.Create("sess-1", nil, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	cp, _ := mgr.Restore(id)
	if cp.Description != "Auto checkpoint" {
		t.Errorf("description = %q", cp.Description)
	}
}

func TestCheckpointRestoreMissing(t *testing.T) {
	mgr, _ := NewCheckpointManager(CheckpointDir(t.TempDir()))
	if _, err := mgr.Restore("ghost"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v", err)
	}
}

func TestCheckpointListFiltersAndOrders(t *testing.T) {
	mgr, _ := NewCheckpointManager(CheckpointDir(t.TempDir()))
	first, _ := mgr.Create("sess-a", nil, "first")
	second, _ := mgr.Create("sess-a", nil, "second")
	mgr.Create("sess-b", nil, "other session")

	all, err := mgr.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d", len(all))
	}

	filtered, _ := mgr.List("sess-a")
	if len(filtered) != 2 {
		t.Fatalf("filtered = %d", len(filtered))
	}
	// Newest first.
	if filtered[0].CheckpointID != second || filtered[1].CheckpointID != first {
		t.Errorf("order = %s, %s", filtered[0].CheckpointID, filtered[1].CheckpointID)
	}
}

func TestCheckpointDeleteIdempotent(t *testing.T) {
	mgr, _ := NewCheckpointManager(CheckpointDir(t.TempDir()))
	id, _ := mgr.Create("sess-1", nil, "doomed")
	if err := mgr.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := mgr.Delete(id); err != nil {
		t.Errorf("repeat delete: %v", err)
	}
	if _, err := mgr.Restore(id); err == nil {
		t.Error("deleted checkpoint still restorable")
	}
}
