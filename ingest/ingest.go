// Package ingest extracts plain text from context files referenced in user
// input: plain text, markdown (formatting stripped), and PDF. The Loader
// applies the security policy's path and size checks before reading, so it
// plugs directly into the UX file-loading hook.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"

	superagent "github.com/superagent-core/superagent"
)

// Extract converts raw file content to plain text based on the file
// extension. Unknown extensions are treated as plain text.
func Extract(path string, content []byte) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "pdf":
		return extractPDF(content)
	case "md", "markdown":
		return extractMarkdown(content), nil
	default:
		return extractPlain(path, content)
	}
}

func extractPlain(path string, content []byte) (string, error) {
	if !utf8.Valid(content) {
		return "", fmt.Errorf("ingest: %s is not valid UTF-8 text", path)
	}
	return strings.TrimSpace(string(content)), nil
}

// extractMarkdown walks the goldmark AST collecting text content, which
// drops heading markers, emphasis, and link destinations.
func extractMarkdown(src []byte) string {
	doc := goldmark.New().Parser().Parse(gmtext.NewReader(src))
	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			switch n.Kind() {
			case ast.KindHeading, ast.KindParagraph, ast.KindListItem, ast.KindTextBlock:
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.Text:
			b.Write(n.Segment.Value(src))
			if n.SoftLineBreak() || n.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(n.Value)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// Loader reads and extracts context files under policy control.
type Loader struct {
	policy *superagent.Policy
	logger *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) LoaderOption {
	return func(ld *Loader) { ld.logger = l }
}

// NewLoader creates a Loader. A nil policy falls back to the default policy.
func NewLoader(policy *superagent.Policy, opts ...LoaderOption) *Loader {
	if policy == nil {
		policy = superagent.NewPolicy()
	}
	ld := &Loader{policy: policy, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(ld)
	}
	return ld
}

// Load reads path and returns its extracted text. The policy's read and
// size checks run before any bytes are read. Load satisfies the UX file
// loader signature.
func (ld *Loader) Load(_ context.Context, path string) (string, error) {
	if err := ld.policy.CheckPath("read", path); err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("ingest: stat %s: %w", path, err)
	}
	if err := ld.policy.CheckSize(path, info.Size()); err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("ingest: read %s: %w", path, err)
	}
	text, err := Extract(path, content)
	if err != nil {
		return "", err
	}
	ld.logger.Debug("context file loaded", "path", path, "chars", len(text))
	return text, nil
}
