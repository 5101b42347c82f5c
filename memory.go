package superagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
)

// MemoryType classifies where an item lives in the memory hierarchy.
type MemoryType string

const (
	MemoryShortTerm MemoryType = "short_term" // recent interactions
	MemoryWorking   MemoryType = "working"    // current task context
	MemoryLongTerm  MemoryType = "long_term"  // persistent knowledge
	MemoryEpisodic  MemoryType = "episodic"   // specific events
	MemorySemantic  MemoryType = "semantic"   // facts
)

// MemoryItem is a single stored memory.
type MemoryItem struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	Type        MemoryType     `json:"memory_type"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Embedding   []float32      `json:"embedding,omitempty"`
	Importance  float64        `json:"importance"`
	AccessCount int            `json:"access_count"`
}

// MemoryResult is one search hit.
type MemoryResult struct {
	Item  MemoryItem `json:"item"`
	Score float64    `json:"score"`
}

// VectorStore is long-term memory storage with dense similarity search.
// Implementations live under store/.
type VectorStore interface {
	// Add stores items and returns their IDs in order.
	Add(ctx context.Context, items []MemoryItem) ([]string, error)
	// Search returns up to limit items nearest to embedding, best first.
	Search(ctx context.Context, embedding []float32, limit int) ([]MemoryResult, error)
	// Get fetches one item by ID.
	Get(ctx context.Context, id string) (MemoryItem, bool, error)
	// Delete removes one item by ID.
	Delete(ctx context.Context, id string) error
	// Clear removes everything.
	Clear(ctx context.Context) error
	// Count returns the number of stored items.
	Count(ctx context.Context) (int, error)
}

// ConversationSummary is the product of compressing a run of messages.
type ConversationSummary struct {
	Content          string              `json:"content"`
	Entities         []string            `json:"entities"`
	Relationships    map[string][]string `json:"relationships"`
	KeyDecisions     []string            `json:"key_decisions"`
	CompressionRatio float64             `json:"compression_ratio"`
	OriginalCount    int                 `json:"original_count"`
	Timestamp        time.Time           `json:"timestamp"`
}

// RetrievedContext is one piece of context recovered for a query.
type RetrievedContext struct {
	Content        string         `json:"content"`
	RelevanceScore float64        `json:"relevance_score"`
	TemporalWeight float64        `json:"temporal_weight"`
	SourceType     string         `json:"source_type"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Default memory capacities.
const (
	defaultWorkingCapacity      = 10
	defaultEpisodicCapacity     = 1000
	defaultCompressionThreshold = 50
)

// AdaptiveMemory is a three-tier memory: a small working ring for the
// current task, compressed episodic summaries of past conversation, and a
// vector store for long-term semantic recall. Once the pending buffer
// reaches the compression threshold it is summarized and archived. Safe for
// concurrent use.
type AdaptiveMemory struct {
	mu       sync.Mutex
	store    VectorStore
	embedder EmbeddingProvider

	workingCapacity      int
	episodicCapacity     int
	compressionThreshold int

	working  []MemoryItem
	episodic []MemoryItem
	pending  []MemoryItem

	logger *slog.Logger
}

// MemoryOption configures an AdaptiveMemory.
type MemoryOption func(*AdaptiveMemory)

// WorkingCapacity sets the working ring size (default: 10).
func WorkingCapacity(n int) MemoryOption {
	return func(m *AdaptiveMemory) { m.workingCapacity = n }
}

// EpisodicCapacity sets how many summaries are kept (default: 1000).
func EpisodicCapacity(n int) MemoryOption {
	return func(m *AdaptiveMemory) { m.episodicCapacity = n }
}

// CompressionThreshold sets how many pending items trigger compression
// (default: 50).
func CompressionThreshold(n int) MemoryOption {
	return func(m *AdaptiveMemory) { m.compressionThreshold = n }
}

// MemoryLogger sets the structured logger.
func MemoryLogger(l *slog.Logger) MemoryOption {
	return func(m *AdaptiveMemory) { m.logger = l }
}

// NewAdaptiveMemory creates a memory over a vector store and embedder.
func NewAdaptiveMemory(store VectorStore, embedder EmbeddingProvider, opts ...MemoryOption) *AdaptiveMemory {
	m := &AdaptiveMemory{
		store:                store,
		embedder:             embedder,
		workingCapacity:      defaultWorkingCapacity,
		episodicCapacity:     defaultEpisodicCapacity,
		compressionThreshold: defaultCompressionThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = nopLogger
	}
	return m
}

// Add stores one item: it enters the working ring (evicting the oldest when
// full), joins the pending compression buffer, and is written to the vector
// store. Returns the item's ID.
func (m *AdaptiveMemory) Add(ctx context.Context, item MemoryItem) (string, error) {
	if item.ID == "" {
		item.ID = NewID()
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}
	if item.Embedding == nil && m.embedder != nil {
		vecs, err := m.embedder.Embed(ctx, []string{item.Content})
		if err != nil {
			return "", fmt.Errorf("embed memory item: %w", err)
		}
		item.Embedding = vecs[0]
	}

	m.mu.Lock()
	m.working = append(m.working, item)
	if len(m.working) > m.workingCapacity {
		m.working = m.working[len(m.working)-m.workingCapacity:]
	}
	m.pending = append(m.pending, item)
	compress := len(m.pending) >= m.compressionThreshold
	m.mu.Unlock()

	if compress {
		if err := m.compressAndArchive(ctx); err != nil {
			m.logger.Warn("compression failed", "error", err)
		}
	}

	if _, err := m.store.Add(ctx, []MemoryItem{item}); err != nil {
		return "", fmt.Errorf("store memory item: %w", err)
	}
	m.logger.Debug("memory item added", "item_id", item.ID, "type", item.Type)
	return item.ID, nil
}

// RetrieveRelevantContext answers a query with hybrid retrieval: dense
// vector similarity and sparse keyword overlap are fused by reciprocal
// rank, then temporally decayed. Returns at most k contexts, best first.
func (m *AdaptiveMemory) RetrieveRelevantContext(ctx context.Context, query string, k int, temporalWeight float64) ([]RetrievedContext, error) {
	if k <= 0 {
		k = 5
	}
	var dense []MemoryResult
	if m.embedder != nil {
		vecs, err := m.embedder.Embed(ctx, []string{query})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		dense, err = m.store.Search(ctx, vecs[0], k*2)
		if err != nil {
			return nil, fmt.Errorf("dense search: %w", err)
		}
	}

	m.mu.Lock()
	working := make([]MemoryItem, len(m.working))
	copy(working, m.working)
	m.mu.Unlock()

	sparse := sparseSearch(query, working, k*2)
	return fusionRank(dense, sparse, temporalWeight, k, time.Now()), nil
}

// CompressConversation reduces a run of messages to a summary: entities,
// their co-occurrence graph, key decisions, and a compact content line.
func CompressConversation(messages []MemoryItem) ConversationSummary {
	if len(messages) == 0 {
		return ConversationSummary{Relationships: map[string][]string{}, Timestamp: time.Now()}
	}
	entities := extractEntities(messages)
	relationships := buildKnowledgeGraph(entities, messages)
	decisions := extractKeyDecisions(messages)
	content := summarize(messages, entities, decisions)

	var originalLen int
	for _, msg := range messages {
		originalLen += len(msg.Content)
	}
	ratio := 0.0
	if originalLen > 0 {
		ratio = float64(len(content)) / float64(originalLen)
	}
	return ConversationSummary{
		Content:          content,
		Entities:         entities,
		Relationships:    relationships,
		KeyDecisions:     decisions,
		CompressionRatio: ratio,
		OriginalCount:    len(messages),
		Timestamp:        time.Now(),
	}
}

// compressAndArchive summarizes the pending buffer into one long-term item
// and appends it to episodic memory, evicting the oldest past capacity.
func (m *AdaptiveMemory) compressAndArchive(ctx context.Context) error {
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		return nil
	}
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	summary := CompressConversation(batch)
	item := MemoryItem{
		ID:        NewID(),
		Content:   summary.Content,
		Type:      MemoryLongTerm,
		Timestamp: summary.Timestamp,
		Metadata: map[string]any{
			"type":              "summary",
			"entities":          summary.Entities,
			"relationships":     summary.Relationships,
			"key_decisions":     summary.KeyDecisions,
			"original_count":    summary.OriginalCount,
			"compression_ratio": summary.CompressionRatio,
		},
	}
	if m.embedder != nil && item.Content != "" {
		vecs, err := m.embedder.Embed(ctx, []string{item.Content})
		if err != nil {
			return fmt.Errorf("embed summary: %w", err)
		}
		item.Embedding = vecs[0]
	}
	if _, err := m.store.Add(ctx, []MemoryItem{item}); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}

	m.mu.Lock()
	m.episodic = append(m.episodic, item)
	if len(m.episodic) > m.episodicCapacity {
		m.episodic = m.episodic[len(m.episodic)-m.episodicCapacity:]
	}
	m.mu.Unlock()

	m.logger.Info("conversation compressed",
		"messages", summary.OriginalCount,
		"summary_chars", len(summary.Content),
		"compression_ratio", summary.CompressionRatio)
	return nil
}

// Get fetches an item, checking the working ring before the store.
func (m *AdaptiveMemory) Get(ctx context.Context, id string) (MemoryItem, bool, error) {
	m.mu.Lock()
	for _, item := range m.working {
		if item.ID == id {
			m.mu.Unlock()
			return item, true, nil
		}
	}
	m.mu.Unlock()
	return m.store.Get(ctx, id)
}

// Delete removes an item from the working ring and the store.
func (m *AdaptiveMemory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	kept := m.working[:0]
	for _, item := range m.working {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	m.working = kept
	m.mu.Unlock()
	return m.store.Delete(ctx, id)
}

// Clear empties every tier.
func (m *AdaptiveMemory) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.working = nil
	m.episodic = nil
	m.pending = nil
	m.mu.Unlock()
	return m.store.Clear(ctx)
}

// Count reports items per tier: the working ring for MemoryWorking, the
// episodic archive for MemoryLongTerm, their sum otherwise.
func (m *AdaptiveMemory) Count(memType MemoryType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch memType {
	case MemoryWorking:
		return len(m.working)
	case MemoryLongTerm:
		return len(m.episodic)
	default:
		return len(m.working) + len(m.episodic)
	}
}

// decisionKeywords mark a message as recording a decision.
var decisionKeywords = []string{"decided", "chose", "selected", "determined", "concluded"}

// extractEntities returns distinct capitalized tokens in first-seen order,
// capped at 50.
func extractEntities(messages []MemoryItem) []string {
	seen := make(map[string]bool)
	var entities []string
	for _, msg := range messages {
		for _, word := range strings.Fields(msg.Content) {
			runes := []rune(word)
			if len(runes) == 0 || !unicode.IsUpper(runes[0]) || seen[word] {
				continue
			}
			seen[word] = true
			entities = append(entities, word)
			if len(entities) == 50 {
				return entities
			}
		}
	}
	return entities
}

// buildKnowledgeGraph links entities that co-occur in a message.
func buildKnowledgeGraph(entities []string, messages []MemoryItem) map[string][]string {
	graph := make(map[string][]string, len(entities))
	for _, e := range entities {
		graph[e] = []string{}
	}
	for _, msg := range messages {
		content := strings.ToLower(msg.Content)
		for _, e := range entities {
			if !strings.Contains(content, strings.ToLower(e)) {
				continue
			}
			for _, other := range entities {
				if other == e || !strings.Contains(content, strings.ToLower(other)) {
					continue
				}
				if !containsString(graph[e], other) {
					graph[e] = append(graph[e], other)
				}
			}
		}
	}
	return graph
}

// extractKeyDecisions returns the first 200 characters of up to 10 messages
// containing a decision keyword.
func extractKeyDecisions(messages []MemoryItem) []string {
	var decisions []string
	for _, msg := range messages {
		content := strings.ToLower(msg.Content)
		for _, kw := range decisionKeywords {
			if strings.Contains(content, kw) {
				decisions = append(decisions, truncateRunes(msg.Content, 200))
				break
			}
		}
		if len(decisions) == 10 {
			break
		}
	}
	return decisions
}

// summarize joins the summary parts with " | ".
func summarize(messages []MemoryItem, entities, decisions []string) string {
	var parts []string
	if len(entities) > 0 {
		head := entities
		if len(head) > 10 {
			head = head[:10]
		}
		parts = append(parts, "Key entities: "+strings.Join(head, ", "))
	}
	if len(decisions) > 0 {
		head := decisions
		if len(head) > 3 {
			head = head[:3]
		}
		parts = append(parts, "Key decisions: "+strings.Join(head, "; "))
	}
	first := messages[0].Timestamp
	last := messages[len(messages)-1].Timestamp
	minutes := last.Sub(first).Minutes()
	parts = append(parts, fmt.Sprintf("Conversation span: %.1f minutes, %d messages", minutes, len(messages)))
	return strings.Join(parts, " | ")
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
