package superagent

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// defaultSnapshotSkip lists directory names excluded from snapshots. VCS
// metadata and dependency caches are large and reproducible; they are never
// copied and never touched on restore.
var defaultSnapshotSkip = []string{
	".git",
	"node_modules",
	"__pycache__",
	".venv",
	"venv",
	".cache",
	"dist",
	"build",
}

// defaultSnapshotTimeout bounds one snapshot or restore pass.
const defaultSnapshotTimeout = 10 * time.Second

// Snapshot is one point-in-time copy of a directory tree.
type Snapshot struct {
	ID      string
	Dir     string // location of the copy
	Root    string // source tree
	TakenAt time.Time
}

// Snapshotter copies a working tree aside and restores it byte for byte.
// Restore removes files created after the snapshot, so after a restore the
// tree matches the snapshot exactly outside the skip list.
type Snapshotter struct {
	root    string
	baseDir string
	skip    map[string]bool
	timeout time.Duration
	logger  *slog.Logger
}

// SnapshotOption configures a Snapshotter.
type SnapshotOption func(*Snapshotter)

// SnapshotSkip adds directory names to the skip list.
func SnapshotSkip(names ...string) SnapshotOption {
	return func(s *Snapshotter) {
		for _, n := range names {
			s.skip[n] = true
		}
	}
}

// SnapshotTimeout bounds one snapshot or restore pass (default: 10s).
func SnapshotTimeout(d time.Duration) SnapshotOption {
	return func(s *Snapshotter) { s.timeout = d }
}

// SnapshotBaseDir sets where copies are kept (default: os.TempDir()).
func SnapshotBaseDir(dir string) SnapshotOption {
	return func(s *Snapshotter) { s.baseDir = dir }
}

// SnapshotLogger sets the structured logger.
func SnapshotLogger(l *slog.Logger) SnapshotOption {
	return func(s *Snapshotter) { s.logger = l }
}

// NewSnapshotter creates a snapshotter for the tree rooted at root.
func NewSnapshotter(root string, opts ...SnapshotOption) *Snapshotter {
	s := &Snapshotter{
		root:    root,
		baseDir: os.TempDir(),
		skip:    make(map[string]bool, len(defaultSnapshotSkip)),
		timeout: defaultSnapshotTimeout,
	}
	for _, n := range defaultSnapshotSkip {
		s.skip[n] = true
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = nopLogger
	}
	return s
}

// Take copies the tree into a fresh directory and returns the snapshot.
func (s *Snapshotter) Take(ctx context.Context) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	id := NewID()
	dir := filepath.Join(s.baseDir, "snapshot_"+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := s.copyTree(ctx, s.root, dir); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}
	s.logger.Debug("snapshot taken", "snapshot_id", id, "root", s.root)
	return &Snapshot{ID: id, Dir: dir, Root: s.root, TakenAt: time.Now()}, nil
}

// Restore brings the tree back to the snapshot's state: files added since
// are removed, modified files are overwritten, skip-listed directories are
// left alone.
func (s *Snapshotter) Restore(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return &ValidationError{Field: "snapshot", Message: "nil snapshot"}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.removeExtra(ctx, snap.Root, snap.Dir); err != nil {
		return fmt.Errorf("restore %s: %w", snap.ID, err)
	}
	if err := s.copyTree(ctx, snap.Dir, snap.Root); err != nil {
		return fmt.Errorf("restore %s: %w", snap.ID, err)
	}
	s.logger.Info("snapshot restored", "snapshot_id", snap.ID, "root", snap.Root)
	return nil
}

// Discard deletes the snapshot's copy.
func (s *Snapshotter) Discard(snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	return os.RemoveAll(snap.Dir)
}

// copyTree copies src into dst, skipping skip-listed directory names.
func (s *Snapshotter) copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if s.skip[d.Name()] {
				return filepath.SkipDir
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(filepath.Join(dst, rel), info.Mode().Perm())
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, filepath.Join(dst, rel))
	})
}

// removeExtra deletes entries under root that do not exist in snapDir,
// leaving skip-listed directories untouched.
func (s *Snapshotter) removeExtra(ctx context.Context, root, snapDir string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// The walk may visit entries removed by an earlier RemoveAll.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && s.skip[d.Name()] {
			return filepath.SkipDir
		}
		if _, statErr := os.Lstat(filepath.Join(snapDir, rel)); os.IsNotExist(statErr) {
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return rmErr
			}
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
