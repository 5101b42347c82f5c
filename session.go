package superagent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// exportFormatVersion tags JSON exports so future readers can migrate.
const exportFormatVersion = "2.0.0"

// Session is one persisted conversation with its active model.
type Session struct {
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Model     string         `json:"model"`
	Messages  []Message      `json:"messages"`
	Profile   map[string]any `json:"profile,omitempty"`
}

// NewSession creates an empty session for model.
func NewSession(model string) *Session {
	return &Session{
		SessionID: NewID(),
		Timestamp: time.Now().UTC(),
		Model:     model,
	}
}

// Append adds a message to the history.
func (s *Session) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// Search returns the indices of messages whose content contains query,
// case-insensitive.
func (s *Session) Search(query string) []int {
	q := strings.ToLower(query)
	var out []int
	for i, msg := range s.Messages {
		if strings.Contains(strings.ToLower(msg.Content), q) {
			out = append(out, i)
		}
	}
	return out
}

// Branch returns a new session sharing history up to and including index.
func (s *Session) Branch(index int) (*Session, error) {
	if index < 0 || index >= len(s.Messages) {
		return nil, &ValidationError{Field: "index", Message: fmt.Sprintf("invalid branch point: %d", index)}
	}
	branched := NewSession(s.Model)
	branched.Messages = append([]Message(nil), s.Messages[:index+1]...)
	return branched, nil
}

// SessionStore persists sessions as one JSON file each.
type SessionStore struct {
	dir    string
	logger *slog.Logger
}

// SessionStoreOption configures a SessionStore.
type SessionStoreOption func(*SessionStore)

// SessionLogger sets the structured logger.
func SessionLogger(l *slog.Logger) SessionStoreOption {
	return func(s *SessionStore) { s.logger = l }
}

// NewSessionStore creates a store rooted at dir (default:
// ~/.superagent/sessions) and ensures the directory exists.
func NewSessionStore(dir string, opts ...SessionStoreOption) (*SessionStore, error) {
	s := &SessionStore{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = nopLogger
	}
	if s.dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, &ConfigError{Field: "session_dir", Message: "cannot resolve home directory: " + err.Error()}
		}
		s.dir = filepath.Join(home, ".superagent", "sessions")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, &ConfigError{Field: "session_dir", Message: err.Error()}
	}
	return s, nil
}

// Save writes the session, stamping its timestamp.
func (s *SessionStore) Save(sess *Session) error {
	if sess.SessionID == "" {
		return &ValidationError{Field: "session_id", Message: "session_id is required"}
	}
	sess.Timestamp = time.Now().UTC()
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(s.path(sess.SessionID), data, 0o644); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.logger.Info("session saved", "session_id", sess.SessionID, "messages", len(sess.Messages))
	return nil
}

// Load reads a session by ID.
func (s *SessionStore) Load(sessionID string) (*Session, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %q not found", sessionID)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %q: %w", sessionID, err)
	}
	return &sess, nil
}

// List returns saved sessions newest first. Unreadable files are skipped.
func (s *SessionStore) List() ([]*Session, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []*Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			s.logger.Warn("skipping unreadable session", "file", entry.Name(), "error", err)
			continue
		}
		out = append(out, &sess)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// Delete removes a session by ID. Missing sessions are not an error.
func (s *SessionStore) Delete(sessionID string) error {
	err := os.Remove(s.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) path(sessionID string) string {
	return filepath.Join(s.dir, "session_"+sessionID+".json")
}

// Export formats.
const (
	ExportTxt      = "txt"
	ExportMarkdown = "md"
	ExportHTML     = "html"
	ExportJSON     = "json"
)

// jsonExport is the JSON export envelope. Messages round-trip unchanged.
type jsonExport struct {
	ExportDate    string    `json:"export_date"`
	FormatVersion string    `json:"format_version"`
	Messages      []Message `json:"messages"`
}

// ExportConversation renders the history in the given format. Role, content,
// and timestamp survive in order for every format; json round-trips.
func ExportConversation(messages []Message, format string) (string, error) {
	switch format {
	case ExportTxt:
		return exportText(messages), nil
	case ExportMarkdown:
		return exportMarkdown(messages), nil
	case ExportHTML:
		return exportHTML(messages)
	case ExportJSON:
		data, err := json.MarshalIndent(jsonExport{
			ExportDate:    time.Now().UTC().Format(time.RFC3339),
			FormatVersion: exportFormatVersion,
			Messages:      messages,
		}, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode export: %w", err)
		}
		return string(data), nil
	default:
		return "", &ValidationError{Field: "format", Message: "unsupported format: " + format}
	}
}

// ImportConversation decodes a JSON export back into messages.
func ImportConversation(data []byte) ([]Message, error) {
	var export jsonExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	return export.Messages, nil
}

func exportText(messages []Message) string {
	var b strings.Builder
	b.WriteString("Conversation Export\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	for _, msg := range messages {
		fmt.Fprintf(&b, "%s (%s):\n%s\n\n", strings.ToUpper(msg.Role), messageStamp(msg), msg.Content)
		b.WriteString(strings.Repeat("-", 50) + "\n\n")
	}
	return b.String()
}

func exportMarkdown(messages []Message) string {
	var b strings.Builder
	b.WriteString("# Conversation Export\n\n")
	for _, msg := range messages {
		fmt.Fprintf(&b, "## %s (%s)\n\n%s\n\n---\n\n", titleCase(msg.Role), messageStamp(msg), msg.Content)
	}
	return b.String()
}

var exportRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// exportHTML renders each message's markdown content through goldmark inside
// a self-contained page.
func exportHTML(messages []Message) (string, error) {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Conversation Export</title>
  <style>
    body { font-family: Arial, sans-serif; max-width: 800px; margin: 0 auto; padding: 20px; }
    .message { margin: 20px 0; padding: 15px; border-radius: 8px; }
    .user { background-color: #e3f2fd; }
    .assistant { background-color: #f5f5f5; }
    .role { font-weight: bold; color: #1976d2; }
    .timestamp { color: #666; font-size: 0.9em; }
    .content { margin-top: 10px; line-height: 1.6; }
  </style>
</head>
<body>
  <h1>Conversation Export</h1>
`)
	for _, msg := range messages {
		var rendered bytes.Buffer
		if err := exportRenderer.Convert([]byte(msg.Content), &rendered); err != nil {
			return "", fmt.Errorf("render message: %w", err)
		}
		fmt.Fprintf(&b, `
  <div class="message %s">
    <div class="role">%s</div>
    <div class="timestamp">%s</div>
    <div class="content">%s</div>
  </div>
`, html.EscapeString(msg.Role), strings.ToUpper(html.EscapeString(msg.Role)), messageStamp(msg), rendered.String())
	}
	b.WriteString("\n</body>\n</html>\n")
	return b.String(), nil
}

func messageStamp(msg Message) string {
	if msg.Timestamp == 0 {
		return ""
	}
	return time.Unix(msg.Timestamp, 0).UTC().Format(time.RFC3339)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
