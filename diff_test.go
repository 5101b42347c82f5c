package superagent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateFileDiffModified(t *testing.T) {
	fd := GenerateFileDiff("main.go", "a\nb\nc\n", "a\nx\nc\n")

	if fd.Status() != "modified" {
		t.Errorf("status = %q", fd.Status())
	}
	if fd.Additions != 1 || fd.Deletions != 1 {
		t.Errorf("additions = %d, deletions = %d", fd.Additions, fd.Deletions)
	}
	if fd.DiffLines[0] != "--- a/main.go" || fd.DiffLines[1] != "+++ b/main.go" {
		t.Errorf("headers = %v", fd.DiffLines[:2])
	}
	text := fd.Text()
	if !strings.Contains(text, "@@ ") || !strings.Contains(text, "-b") || !strings.Contains(text, "+x") {
		t.Errorf("diff text = %q", text)
	}
}

func TestGenerateFileDiffCreated(t *testing.T) {
	fd := GenerateFileDiff("new.txt", "", "hello\nworld\n")
	if fd.Status() != "created" {
		t.Errorf("status = %q", fd.Status())
	}
	if fd.Additions != 2 || fd.Deletions != 0 {
		t.Errorf("additions = %d, deletions = %d", fd.Additions, fd.Deletions)
	}
}

func TestGenerateFileDiffDeleted(t *testing.T) {
	fd := GenerateFileDiff("old.txt", "gone\n", "")
	if fd.Status() != "deleted" {
		t.Errorf("status = %q", fd.Status())
	}
	if fd.Additions != 0 || fd.Deletions != 1 {
		t.Errorf("additions = %d, deletions = %d", fd.Additions, fd.Deletions)
	}
}

func TestGenerateFileDiffIdentical(t *testing.T) {
	fd := GenerateFileDiff("same.txt", "x\n", "x\n")
	if len(fd.DiffLines) != 0 || fd.Additions != 0 || fd.Deletions != 0 {
		t.Errorf("identical content produced a diff: %+v", fd)
	}
}

func TestDiffEngineGeneratePreview(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "existing.txt"), []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	engine := NewDiffEngine(root)

	preview := engine.GeneratePreview(map[string]string{
		"existing.txt": "new\n",
		"added.txt":    "fresh\n",
	})

	if preview.TotalFiles != 2 {
		t.Fatalf("total files = %d", preview.TotalFiles)
	}
	// Paths come back sorted.
	if preview.FileDiffs[0].FilePath != "added.txt" || preview.FileDiffs[1].FilePath != "existing.txt" {
		t.Errorf("order = %s, %s", preview.FileDiffs[0].FilePath, preview.FileDiffs[1].FilePath)
	}
	if preview.FileDiffs[0].Status() != "created" || preview.FileDiffs[1].Status() != "modified" {
		t.Errorf("statuses = %s, %s", preview.FileDiffs[0].Status(), preview.FileDiffs[1].Status())
	}
	if !strings.Contains(preview.Summary, "2 files changed") {
		t.Errorf("summary = %q", preview.Summary)
	}
}

func TestDiffEngineEmptyPreview(t *testing.T) {
	engine := NewDiffEngine(t.TempDir())
	preview := engine.GeneratePreview(nil)
	if preview.Summary != "No changes" {
		t.Errorf("summary = %q", preview.Summary)
	}
}

func TestDiffEngineApplyChanges(t *testing.T) {
	root := t.TempDir()
	engine := NewDiffEngine(root)
	preview := engine.GeneratePreview(map[string]string{
		"a.txt":        "alpha\n",
		"sub/deep.txt": "nested\n",
	})

	results := engine.ApplyChanges(preview, nil)
	if !results["a.txt"] || !results["sub/deep.txt"] {
		t.Fatalf("results = %v", results)
	}
	data, err := os.ReadFile(filepath.Join(root, "sub", "deep.txt"))
	if err != nil || string(data) != "nested\n" {
		t.Errorf("applied content = %q, %v", data, err)
	}
}

func TestDiffEngineApplySelected(t *testing.T) {
	root := t.TempDir()
	engine := NewDiffEngine(root)
	preview := engine.GeneratePreview(map[string]string{
		"keep.txt": "yes\n",
		"skip.txt": "no\n",
	})

	results := engine.ApplyChanges(preview, []string{"keep.txt"})
	if len(results) != 1 || !results["keep.txt"] {
		t.Fatalf("results = %v", results)
	}
	if _, err := os.Stat(filepath.Join(root, "skip.txt")); !os.IsNotExist(err) {
		t.Error("unselected file was written")
	}
}
