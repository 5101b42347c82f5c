package superagent

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeVectorStore is an in-memory VectorStore scoring by dot product.
type fakeVectorStore struct {
	mu    sync.Mutex
	items map[string]MemoryItem
	order []string
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{items: make(map[string]MemoryItem)}
}

func (s *fakeVectorStore) Add(_ context.Context, items []MemoryItem) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, exists := s.items[item.ID]; !exists {
			s.order = append(s.order, item.ID)
		}
		s.items[item.ID] = item
		ids = append(ids, item.ID)
	}
	return ids, nil
}

func (s *fakeVectorStore) Search(_ context.Context, embedding []float32, limit int) ([]MemoryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var results []MemoryResult
	for _, id := range s.order {
		item := s.items[id]
		var score float64
		for i := range embedding {
			if i < len(item.Embedding) {
				score += float64(embedding[i]) * float64(item.Embedding[i])
			}
		}
		results = append(results, MemoryResult{Item: item, Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *fakeVectorStore) Get(_ context.Context, id string) (MemoryItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	return item, ok, nil
}

func (s *fakeVectorStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *fakeVectorStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]MemoryItem)
	s.order = nil
	return nil
}

func (s *fakeVectorStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}

var _ VectorStore = (*fakeVectorStore)(nil)

func TestMemoryAddFillsIDAndEmbedding(t *testing.T) {
	store := newFakeVectorStore()
	mem := NewAdaptiveMemory(store, &fakeEmbedder{})

	id, err := mem.Add(context.Background(), MemoryItem{Content: "the deploy finished", Type: MemoryWorking})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id == "" {
		t.Fatal("no id assigned")
	}
	stored, ok, err := store.Get(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("stored item missing: %v, %v", ok, err)
	}
	if len(stored.Embedding) == 0 || stored.Timestamp.IsZero() {
		t.Errorf("stored item = %+v", stored)
	}
}

func TestMemoryWorkingRingEviction(t *testing.T) {
	store := newFakeVectorStore()
	mem := NewAdaptiveMemory(store, &fakeEmbedder{}, WorkingCapacity(3))

	ctx := context.Background()
	var firstID string
	for i, content := range []string{"one", "two", "three", "four", "five"} {
		id, err := mem.Add(ctx, MemoryItem{Content: content})
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			firstID = id
		}
	}
	if got := mem.Count(MemoryWorking); got != 3 {
		t.Errorf("working count = %d, want 3", got)
	}
	// Evicted items are still reachable through the store.
	if _, ok, _ := mem.Get(ctx, firstID); !ok {
		t.Error("evicted item lost from long-term storage")
	}
}

func TestMemoryCompressionAtThreshold(t *testing.T) {
	store := newFakeVectorStore()
	mem := NewAdaptiveMemory(store, &fakeEmbedder{}, CompressionThreshold(3))

	ctx := context.Background()
	contents := []string{
		"Alice decided to use Postgres for the Billing service",
		"Bob reviewed the Billing schema",
		"The team chose Kafka for events",
	}
	for _, c := range contents {
		if _, err := mem.Add(ctx, MemoryItem{Content: c}); err != nil {
			t.Fatal(err)
		}
	}

	if got := mem.Count(MemoryLongTerm); got != 1 {
		t.Fatalf("episodic count = %d, want 1 summary", got)
	}
	// The store holds the three items plus the summary.
	if n, _ := store.Count(ctx); n != 4 {
		t.Errorf("store count = %d, want 4", n)
	}
	var summary MemoryItem
	for _, id := range store.order {
		if store.items[id].Type == MemoryLongTerm {
			summary = store.items[id]
		}
	}
	if summary.ID == "" {
		t.Fatal("no summary item in the store")
	}
	if summary.Metadata["original_count"] != 3 {
		t.Errorf("summary metadata = %v", summary.Metadata)
	}
	if !strings.Contains(summary.Content, "Key entities") {
		t.Errorf("summary content = %q", summary.Content)
	}
}

func TestMemoryDeleteAndClear(t *testing.T) {
	store := newFakeVectorStore()
	mem := NewAdaptiveMemory(store, &fakeEmbedder{})

	ctx := context.Background()
	id, _ := mem.Add(ctx, MemoryItem{Content: "ephemeral"})
	if err := mem.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := mem.Get(ctx, id); ok {
		t.Error("item survived delete")
	}

	mem.Add(ctx, MemoryItem{Content: "a"})
	mem.Add(ctx, MemoryItem{Content: "b"})
	if err := mem.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if mem.Count("") != 0 {
		t.Errorf("count after clear = %d", mem.Count(""))
	}
	if n, _ := store.Count(ctx); n != 0 {
		t.Errorf("store count after clear = %d", n)
	}
}

func TestMemoryRetrieveRelevantContext(t *testing.T) {
	store := newFakeVectorStore()
	mem := NewAdaptiveMemory(store, &fakeEmbedder{})

	ctx := context.Background()
	mem.Add(ctx, MemoryItem{Content: "postgres connection pool exhausted", Type: MemoryWorking})
	mem.Add(ctx, MemoryItem{Content: "frontend build pipeline is green", Type: MemoryWorking})

	got, err := mem.RetrieveRelevantContext(ctx, "postgres pool", 5, 0.3)
	if err != nil {
		t.Fatalf("RetrieveRelevantContext: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("no context retrieved")
	}
	var hit bool
	for _, c := range got {
		if strings.Contains(c.Content, "postgres") {
			hit = true
		}
	}
	if !hit {
		t.Errorf("postgres item not retrieved: %+v", got)
	}
}

func TestCompressConversation(t *testing.T) {
	now := time.Now()
	messages := []MemoryItem{
		{Content: "Alice and Bob discussed the Payments redesign", Timestamp: now.Add(-10 * time.Minute)},
		{Content: "We decided to keep the ledger in Postgres", Timestamp: now.Add(-5 * time.Minute)},
		{Content: "Bob selected gRPC for the Payments API", Timestamp: now},
	}
	summary := CompressConversation(messages)

	if summary.OriginalCount != 3 {
		t.Errorf("original count = %d", summary.OriginalCount)
	}
	if !containsString(summary.Entities, "Alice") || !containsString(summary.Entities, "Payments") {
		t.Errorf("entities = %v", summary.Entities)
	}
	if len(summary.KeyDecisions) != 2 {
		t.Errorf("decisions = %v", summary.KeyDecisions)
	}
	if summary.CompressionRatio <= 0 {
		t.Errorf("ratio = %v", summary.CompressionRatio)
	}
	// Alice and Bob co-occur in the first message.
	if !containsString(summary.Relationships["Alice"], "Bob") {
		t.Errorf("relationships = %v", summary.Relationships)
	}
}

func TestCompressConversationEmpty(t *testing.T) {
	summary := CompressConversation(nil)
	if summary.OriginalCount != 0 || summary.Relationships == nil {
		t.Errorf("summary = %+v", summary)
	}
}

func TestSparseSearch(t *testing.T) {
	items := []MemoryItem{
		{ID: "both", Content: "alpha beta gamma"},
		{ID: "one", Content: "alpha delta"},
		{ID: "none", Content: "epsilon zeta"},
	}
	results := sparseSearch("alpha beta", items, 10)

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (zero-overlap dropped)", len(results))
	}
	if results[0].Item.ID != "both" || results[0].Score != 1.0 {
		t.Errorf("best = %+v", results[0])
	}
	if results[1].Item.ID != "one" || results[1].Score != 0.5 {
		t.Errorf("second = %+v", results[1])
	}
}

func TestSparseSearchLimit(t *testing.T) {
	items := []MemoryItem{
		{ID: "a", Content: "x"},
		{ID: "b", Content: "x"},
		{ID: "c", Content: "x"},
	}
	if got := sparseSearch("x", items, 2); len(got) != 2 {
		t.Errorf("results = %d, want 2", len(got))
	}
}

func TestFusionRankPrefersBothLists(t *testing.T) {
	now := time.Now()
	old := now.Add(-100 * time.Hour)
	dense := []MemoryResult{
		{Item: MemoryItem{ID: "shared", Content: "shared", Timestamp: old}},
		{Item: MemoryItem{ID: "dense-only", Content: "dense", Timestamp: old}},
	}
	sparse := []MemoryResult{
		{Item: MemoryItem{ID: "shared", Content: "shared", Timestamp: old}},
		{Item: MemoryItem{ID: "sparse-only", Content: "sparse", Timestamp: old}},
	}

	got := fusionRank(dense, sparse, 0, 10, now)
	if len(got) != 3 {
		t.Fatalf("contexts = %d, want 3", len(got))
	}
	if got[0].Content != "shared" {
		t.Errorf("best = %q, want the item present in both lists", got[0].Content)
	}
}

func TestFusionRankTemporalWeight(t *testing.T) {
	now := time.Now()
	dense := []MemoryResult{
		{Item: MemoryItem{ID: "old", Content: "old", Timestamp: now.Add(-240 * time.Hour)}},
		{Item: MemoryItem{ID: "fresh", Content: "fresh", Timestamp: now}},
	}

	// Without temporal weight the dense order wins; with it the fresh item
	// overtakes.
	plain := fusionRank(dense, nil, 0, 10, now)
	if plain[0].Content != "old" {
		t.Errorf("plain best = %q", plain[0].Content)
	}
	weighted := fusionRank(dense, nil, 1.0, 10, now)
	if weighted[0].Content != "fresh" {
		t.Errorf("weighted best = %q", weighted[0].Content)
	}
}

func TestFusionRankCapsAtK(t *testing.T) {
	var dense []MemoryResult
	for i := 0; i < 8; i++ {
		dense = append(dense, MemoryResult{Item: MemoryItem{ID: NewID(), Content: "x"}})
	}
	if got := fusionRank(dense, nil, 0, 3, time.Now()); len(got) != 3 {
		t.Errorf("contexts = %d, want 3", len(got))
	}
}
