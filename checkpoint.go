package superagent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Checkpoint is one persisted session state.
type Checkpoint struct {
	CheckpointID string         `json:"checkpoint_id"`
	SessionID    string         `json:"session_id"`
	CreatedAt    time.Time      `json:"created_at"`
	Description  string         `json:"description"`
	State        map[string]any `json:"state"`
}

// CheckpointManager persists session checkpoints as JSON files, one per
// checkpoint, so any earlier state can be restored after a failed or
// rejected change.
type CheckpointManager struct {
	dir    string
	logger *slog.Logger
}

// CheckpointOption configures a CheckpointManager.
type CheckpointOption func(*CheckpointManager)

// CheckpointDir sets the storage directory (default:
// ~/.superagent/checkpoints).
func CheckpointDir(dir string) CheckpointOption {
	return func(m *CheckpointManager) { m.dir = dir }
}

// CheckpointLogger sets the structured logger.
func CheckpointLogger(l *slog.Logger) CheckpointOption {
	return func(m *CheckpointManager) { m.logger = l }
}

// NewCheckpointManager creates a manager and ensures its directory exists.
func NewCheckpointManager(opts ...CheckpointOption) (*CheckpointManager, error) {
	m := &CheckpointManager{}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = nopLogger
	}
	if m.dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, &ConfigError{Field: "checkpoint_dir", Message: "cannot resolve home directory: " + err.Error()}
		}
		m.dir = filepath.Join(home, ".superagent", "checkpoints")
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, &ConfigError{Field: "checkpoint_dir", Message: err.Error()}
	}
	return m, nil
}

// Dir returns the storage directory.
func (m *CheckpointManager) Dir() string { return m.dir }

// Create writes a checkpoint of state and returns its ID. An empty
// description defaults to "Auto checkpoint".
func (m *CheckpointManager) Create(sessionID string, state map[string]any, description string) (string, error) {
	if description == "" {
		description = "Auto checkpoint"
	}
	cp := Checkpoint{
		CheckpointID: NewID(),
		SessionID:    sessionID,
		CreatedAt:    time.Now().UTC(),
		Description:  description,
		State:        state,
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := os.WriteFile(m.path(cp.CheckpointID), data, 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	m.logger.Info("checkpoint created",
		"checkpoint_id", cp.CheckpointID,
		"session_id", sessionID,
		"description", description)
	return cp.CheckpointID, nil
}

// Restore loads a checkpoint by ID.
func (m *CheckpointManager) Restore(checkpointID string) (Checkpoint, error) {
	var cp Checkpoint
	data, err := os.ReadFile(m.path(checkpointID))
	if err != nil {
		if os.IsNotExist(err) {
			return cp, fmt.Errorf("checkpoint %q not found", checkpointID)
		}
		return cp, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return cp, fmt.Errorf("decode checkpoint %q: %w", checkpointID, err)
	}
	m.logger.Info("checkpoint restored", "checkpoint_id", checkpointID, "session_id", cp.SessionID)
	return cp, nil
}

// List returns checkpoints newest first, filtered by session when sessionID
// is non-empty. Unreadable files are skipped.
func (m *CheckpointManager) List(sessionID string) ([]Checkpoint, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	var out []Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			m.logger.Warn("skipping unreadable checkpoint", "file", entry.Name(), "error", err)
			continue
		}
		if sessionID != "" && cp.SessionID != sessionID {
			continue
		}
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes a checkpoint by ID. Deleting a missing checkpoint is not
// an error.
func (m *CheckpointManager) Delete(checkpointID string) error {
	err := os.Remove(m.path(checkpointID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func (m *CheckpointManager) path(checkpointID string) string {
	return filepath.Join(m.dir, checkpointID+".json")
}
