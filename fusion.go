package superagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Context node types.
const (
	NodeConversation = "conversation"
	NodeFile         = "file"
	NodeMemory       = "memory"
	NodeTool         = "tool"
	NodePlan         = "plan"
)

// ContextNode is one piece of fused context with its relevance weight.
type ContextNode struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	RelevanceScore float64        `json:"relevance_score"`
	Timestamp      time.Time      `json:"timestamp"`
}

// UnifiedContext merges every context source for one session.
type UnifiedContext struct {
	SessionID           string         `json:"session_id"`
	Nodes               []ContextNode  `json:"nodes"`
	ConversationHistory []Message      `json:"conversation_history,omitempty"`
	ActiveFiles         []string       `json:"active_files,omitempty"`
	ActiveTools         []string       `json:"active_tools,omitempty"`
	CurrentPlan         *Plan          `json:"current_plan,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
}

// Summary renders a one-line overview of what the context holds.
func (c *UnifiedContext) Summary() string {
	var parts []string
	if len(c.ConversationHistory) > 0 {
		parts = append(parts, fmt.Sprintf("Conversation: %d messages", len(c.ConversationHistory)))
	}
	if len(c.ActiveFiles) > 0 {
		parts = append(parts, "Files: "+strings.Join(c.ActiveFiles, ", "))
	}
	if len(c.ActiveTools) > 0 {
		parts = append(parts, "Tools: "+strings.Join(c.ActiveTools, ", "))
	}
	if c.CurrentPlan != nil {
		parts = append(parts, "Plan: "+c.CurrentPlan.TaskID)
	}
	var memories int
	for _, n := range c.Nodes {
		if n.Type == NodeMemory {
			memories++
		}
	}
	if memories > 0 {
		parts = append(parts, fmt.Sprintf("Memories: %d relevant", memories))
	}
	if len(parts) == 0 {
		return "Empty context"
	}
	return strings.Join(parts, " | ")
}

// Render produces the prompt-ready text of the context: nodes in order,
// highest relevance first within their arrival order.
func (c *UnifiedContext) Render() string {
	var b strings.Builder
	for _, n := range c.Nodes {
		if n.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", n.Type, truncateStr(n.Content, 500))
	}
	return strings.TrimSpace(b.String())
}

// ContextFusion merges conversation, files, semantic memories, and the
// active plan into one context per session, cached until the next fusion.
// Safe for concurrent use.
type ContextFusion struct {
	mu     sync.RWMutex
	memory *AdaptiveMemory
	cache  map[string]*UnifiedContext
	logger *slog.Logger
}

// ContextFusionOption configures a ContextFusion.
type ContextFusionOption func(*ContextFusion)

// FusionLogger sets the structured logger.
func FusionLogger(l *slog.Logger) ContextFusionOption {
	return func(f *ContextFusion) { f.logger = l }
}

// NewContextFusion creates a fusion engine. memory may be nil; fusion then
// skips semantic retrieval.
func NewContextFusion(memory *AdaptiveMemory, opts ...ContextFusionOption) *ContextFusion {
	f := &ContextFusion{memory: memory, cache: make(map[string]*UnifiedContext)}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = nopLogger
	}
	return f
}

// FuseContext builds the unified context for one session: the last 10
// conversation messages weighted by recency, active files at 0.8, up to 5
// semantic memories for the query, and the current plan at 1.0. The result
// replaces the session's cached context.
func (f *ContextFusion) FuseContext(ctx context.Context, sessionID, query string, history []Message, activeFiles []string) (*UnifiedContext, error) {
	return f.Fuse(ctx, FusionInput{
		SessionID:   sessionID,
		Query:       query,
		History:     history,
		ActiveFiles: activeFiles,
	})
}

// FusionInput carries every source handed to Fuse.
type FusionInput struct {
	SessionID   string
	Query       string
	History     []Message
	ActiveFiles []string
	ActiveTools []string
	CurrentPlan *Plan
}

// Fuse is the full-surface variant of FuseContext.
func (f *ContextFusion) Fuse(ctx context.Context, in FusionInput) (*UnifiedContext, error) {
	uc := &UnifiedContext{
		SessionID:           in.SessionID,
		ConversationHistory: in.History,
		ActiveFiles:         in.ActiveFiles,
		ActiveTools:         in.ActiveTools,
		CurrentPlan:         in.CurrentPlan,
		CreatedAt:           time.Now(),
	}

	recent := in.History
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	for i, msg := range recent {
		uc.Nodes = append(uc.Nodes, ContextNode{
			ID:             fmt.Sprintf("conv_%d", i),
			Type:           NodeConversation,
			Content:        msg.Content,
			Metadata:       map[string]any{"role": msg.Role, "index": i},
			RelevanceScore: 1.0 - float64(i)*0.1,
			Timestamp:      time.Unix(msg.Timestamp, 0),
		})
	}
	for _, path := range in.ActiveFiles {
		uc.Nodes = append(uc.Nodes, ContextNode{
			ID:             "file_" + path,
			Type:           NodeFile,
			Content:        path,
			Metadata:       map[string]any{"path": path},
			RelevanceScore: 0.8,
			Timestamp:      time.Now(),
		})
	}
	if f.memory != nil && in.Query != "" {
		memories, err := f.memory.RetrieveRelevantContext(ctx, in.Query, 5, 0.3)
		if err != nil {
			f.logger.Warn("memory retrieval failed during fusion", "error", err)
		} else {
			for i, m := range memories {
				uc.Nodes = append(uc.Nodes, ContextNode{
					ID:             fmt.Sprintf("memory_%d", i),
					Type:           NodeMemory,
					Content:        m.Content,
					Metadata:       m.Metadata,
					RelevanceScore: m.RelevanceScore,
					Timestamp:      time.Now(),
				})
			}
		}
	}
	if in.CurrentPlan != nil {
		uc.Nodes = append(uc.Nodes, ContextNode{
			ID:             "current_plan",
			Type:           NodePlan,
			Content:        in.CurrentPlan.Reasoning,
			Metadata:       map[string]any{"task_id": in.CurrentPlan.TaskID, "steps": len(in.CurrentPlan.Steps)},
			RelevanceScore: 1.0,
			Timestamp:      in.CurrentPlan.CreatedAt,
		})
	}

	f.mu.Lock()
	f.cache[in.SessionID] = uc
	f.mu.Unlock()

	f.logger.Info("context fused", "session_id", in.SessionID, "nodes", len(uc.Nodes))
	return uc, nil
}

// CachedContext returns the session's last fused context, or nil.
func (f *ContextFusion) CachedContext(sessionID string) *UnifiedContext {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cache[sessionID]
}

// ClearCache drops one session's cached context, or all of them when
// sessionID is empty.
func (f *ContextFusion) ClearCache(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sessionID == "" {
		f.cache = make(map[string]*UnifiedContext)
		return
	}
	delete(f.cache, sessionID)
}
