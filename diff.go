package superagent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileDiff is the unified diff of one file.
type FileDiff struct {
	FilePath   string   `json:"file_path"`
	OldContent string   `json:"old_content"`
	NewContent string   `json:"new_content"`
	DiffLines  []string `json:"diff_lines"`
	Additions  int      `json:"additions"`
	Deletions  int      `json:"deletions"`
}

// Status reports created, deleted, or modified.
func (d FileDiff) Status() string {
	switch {
	case d.OldContent == "":
		return "created"
	case d.NewContent == "":
		return "deleted"
	default:
		return "modified"
	}
}

// Text renders the diff as one string.
func (d FileDiff) Text() string { return strings.Join(d.DiffLines, "\n") }

// DiffPreview aggregates every planned file change.
type DiffPreview struct {
	FileDiffs      []FileDiff `json:"file_diffs"`
	TotalAdditions int        `json:"total_additions"`
	TotalDeletions int        `json:"total_deletions"`
	TotalFiles     int        `json:"total_files"`
	Summary        string     `json:"summary"`
}

// DiffEngine generates unified diffs of planned changes and applies them,
// in full or for a selected subset of files.
type DiffEngine struct {
	root   string
	logger *slog.Logger
}

// DiffEngineOption configures a DiffEngine.
type DiffEngineOption func(*DiffEngine)

// DiffLogger sets the structured logger.
func DiffLogger(l *slog.Logger) DiffEngineOption {
	return func(e *DiffEngine) { e.logger = l }
}

// NewDiffEngine creates an engine resolving relative paths under root.
func NewDiffEngine(root string, opts ...DiffEngineOption) *DiffEngine {
	e := &DiffEngine{root: root}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = nopLogger
	}
	return e
}

// GeneratePreview diffs each planned change against the file's current
// content. A missing file diffs as created; empty new content as deleted.
func (e *DiffEngine) GeneratePreview(changes map[string]string) DiffPreview {
	preview := DiffPreview{}
	paths := make([]string, 0, len(changes))
	for p := range changes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		old := e.readFile(path)
		fd := GenerateFileDiff(path, old, changes[path])
		preview.FileDiffs = append(preview.FileDiffs, fd)
		preview.TotalAdditions += fd.Additions
		preview.TotalDeletions += fd.Deletions
	}
	preview.TotalFiles = len(preview.FileDiffs)
	preview.Summary = diffSummary(preview)
	return preview
}

// ApplyChanges writes the new content of each diff, restricted to
// selectedFiles when non-empty. Returns per-file success.
func (e *DiffEngine) ApplyChanges(preview DiffPreview, selectedFiles []string) map[string]bool {
	selected := make(map[string]bool, len(selectedFiles))
	for _, f := range selectedFiles {
		selected[f] = true
	}
	results := make(map[string]bool)
	for _, fd := range preview.FileDiffs {
		if len(selected) > 0 && !selected[fd.FilePath] {
			continue
		}
		path := e.resolve(fd.FilePath)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			e.logger.Error("apply failed", "file", fd.FilePath, "error", err)
			results[fd.FilePath] = false
			continue
		}
		if err := os.WriteFile(path, []byte(fd.NewContent), 0o644); err != nil {
			e.logger.Error("apply failed", "file", fd.FilePath, "error", err)
			results[fd.FilePath] = false
			continue
		}
		results[fd.FilePath] = true
		e.logger.Info("changes applied", "file", fd.FilePath)
	}
	return results
}

func (e *DiffEngine) resolve(path string) string {
	if filepath.IsAbs(path) || e.root == "" {
		return path
	}
	return filepath.Join(e.root, path)
}

func (e *DiffEngine) readFile(path string) string {
	data, err := os.ReadFile(e.resolve(path))
	if err != nil {
		// Missing files diff as created.
		return ""
	}
	return string(data)
}

// GenerateFileDiff produces the unified diff of one file with a/ and b/
// headers and three lines of context. Addition and deletion counts exclude
// the header lines.
func GenerateFileDiff(path, oldContent, newContent string) FileDiff {
	diffLines := unifiedDiff(
		splitLines(oldContent),
		splitLines(newContent),
		"a/"+path,
		"b/"+path,
	)
	var additions, deletions int
	for _, line := range diffLines {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			additions++
		case strings.HasPrefix(line, "-"):
			deletions++
		}
	}
	return FileDiff{
		FilePath:   path,
		OldContent: oldContent,
		NewContent: newContent,
		DiffLines:  diffLines,
		Additions:  additions,
		Deletions:  deletions,
	}
}

// diffSummary renders "N files changed (+A, -D)" with one line per file.
func diffSummary(p DiffPreview) string {
	if p.TotalFiles == 0 {
		return "No changes"
	}
	lines := []string{fmt.Sprintf("%d files changed (+%d, -%d)", p.TotalFiles, p.TotalAdditions, p.TotalDeletions)}
	for _, fd := range p.FileDiffs {
		lines = append(lines, fmt.Sprintf("  %s: %s (+%d, -%d)", fd.FilePath, fd.Status(), fd.Additions, fd.Deletions))
	}
	return strings.Join(lines, "\n")
}

// diffOp is one line-level edit.
type diffOp struct {
	kind byte // ' ', '-', '+'
	line string
}

// unifiedDiff renders the standard unified format with 3 context lines.
// Identical inputs produce no output.
func unifiedDiff(oldLines, newLines []string, fromFile, toFile string) []string {
	ops := diffOps(oldLines, newLines)
	changed := false
	for _, op := range ops {
		if op.kind != ' ' {
			changed = true
			break
		}
	}
	if !changed {
		return nil
	}

	const context = 3
	out := []string{"--- " + fromFile, "+++ " + toFile}

	// Group ops into hunks separated by more than 2*context equal lines.
	type hunk struct{ start, end int }
	var hunks []hunk
	i := 0
	for i < len(ops) {
		if ops[i].kind == ' ' {
			i++
			continue
		}
		start := i - context
		if start < 0 {
			start = 0
		}
		end := i
		run := 0
		for j := i; j < len(ops); j++ {
			if ops[j].kind == ' ' {
				run++
				if run > 2*context {
					break
				}
			} else {
				run = 0
				end = j
			}
		}
		stop := end + context
		if stop > len(ops)-1 {
			stop = len(ops) - 1
		}
		hunks = append(hunks, hunk{start, stop})
		i = stop + 1
	}

	oldPos, newPos := 1, 1
	opIdx := 0
	for _, h := range hunks {
		// Advance line counters through ops before the hunk.
		for ; opIdx < h.start; opIdx++ {
			switch ops[opIdx].kind {
			case ' ':
				oldPos++
				newPos++
			case '-':
				oldPos++
			case '+':
				newPos++
			}
		}
		oldStart, newStart := oldPos, newPos
		var oldCount, newCount int
		var body []string
		for ; opIdx <= h.end; opIdx++ {
			op := ops[opIdx]
			body = append(body, string(op.kind)+op.line)
			switch op.kind {
			case ' ':
				oldPos++
				newPos++
				oldCount++
				newCount++
			case '-':
				oldPos++
				oldCount++
			case '+':
				newPos++
				newCount++
			}
		}
		out = append(out, fmt.Sprintf("@@ -%s +%s @@", hunkRange(oldStart, oldCount), hunkRange(newStart, newCount)))
		out = append(out, body...)
	}
	return out
}

func hunkRange(start, count int) string {
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	if count == 0 && start > 0 {
		start--
	}
	return fmt.Sprintf("%d,%d", start, count)
}

// diffOps computes a line diff via longest common subsequence.
func diffOps(a, b []string) []diffOp {
	n, m := len(a), len(b)
	// lcs[i][j] = LCS length of a[i:], b[j:].
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}
	var ops []diffOp
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, diffOp{' ', a[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, diffOp{'-', a[i]})
			i++
		default:
			ops = append(ops, diffOp{'+', b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, diffOp{'-', a[i]})
	}
	for ; j < m; j++ {
		ops = append(ops, diffOp{'+', b[j]})
	}
	return ops
}

// splitLines splits content into lines without terminators. Empty content
// yields no lines.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
