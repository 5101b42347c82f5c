package chromem

import (
	"context"
	"math"
	"testing"
	"time"

	superagent "github.com/superagent-core/superagent"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func item(content string, emb []float32) superagent.MemoryItem {
	return superagent.MemoryItem{
		Content:    content,
		Type:       superagent.MemorySemantic,
		Timestamp:  time.Now().UTC(),
		Embedding:  emb,
		Importance: 0.5,
	}
}

func TestAddAssignsIDs(t *testing.T) {
	s := newTestStore(t)
	ids, err := s.Add(context.Background(), []superagent.MemoryItem{
		item("a", []float32{1, 0}),
		item("b", []float32{0, 1}),
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(ids) != 2 || ids[0] == "" || ids[0] == ids[1] {
		t.Fatalf("ids = %v", ids)
	}
	n, err := s.Count(context.Background())
	if err != nil || n != 2 {
		t.Errorf("Count = %d, %v", n, err)
	}
}

func TestAddRejectsMissingEmbedding(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add(context.Background(), []superagent.MemoryItem{
		{Content: "no vector", Type: superagent.MemorySemantic},
	})
	if err == nil {
		t.Fatal("want error for item without embedding")
	}
}

func TestSearchOrdersBySimilarity(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add(context.Background(), []superagent.MemoryItem{
		item("orthogonal", []float32{0, 1}),
		item("aligned", []float32{1, 0}),
		item("diagonal", []float32{0.707, 0.707}),
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := s.Search(context.Background(), []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Item.Content != "aligned" {
		t.Errorf("best hit = %q", results[0].Item.Content)
	}
	if math.Abs(results[0].Score-1.0) > 1e-4 {
		t.Errorf("best score = %v, want 1.0", results[0].Score)
	}
	if results[1].Item.Content != "diagonal" {
		t.Errorf("second hit = %q", results[1].Item.Content)
	}
}

func TestSearchLimitCappedAtCount(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Add(context.Background(), []superagent.MemoryItem{
		item("only", []float32{1, 0}),
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// Asking for more results than stored must not error.
	results, err := s.Search(context.Background(), []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want 1", len(results))
	}
}

func TestSearchEmptyStore(t *testing.T) {
	s := newTestStore(t)
	results, err := s.Search(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
}

func TestGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	src := item("remember me", []float32{0.1, 0.2})
	src.Metadata = map[string]any{"session": "s1"}
	ids, err := s.Add(context.Background(), []superagent.MemoryItem{src})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, ok, err := s.Get(context.Background(), ids[0])
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Content != "remember me" || got.Type != superagent.MemorySemantic {
		t.Errorf("item = %+v", got)
	}
	if got.Metadata["session"] != "s1" {
		t.Errorf("metadata = %v", got.Metadata)
	}
	if len(got.Embedding) != 2 {
		t.Errorf("embedding = %v", got.Embedding)
	}

	_, ok, err = s.Get(context.Background(), "missing")
	if err != nil || ok {
		t.Errorf("missing id: ok=%v err=%v", ok, err)
	}
}

func TestDeleteAndClear(t *testing.T) {
	s := newTestStore(t)
	ids, _ := s.Add(context.Background(), []superagent.MemoryItem{
		item("a", []float32{1, 0}),
		item("b", []float32{0, 1}),
	})

	if err := s.Delete(context.Background(), ids[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := s.Count(context.Background()); n != 1 {
		t.Errorf("count after delete = %d", n)
	}

	if err := s.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := s.Count(context.Background()); n != 0 {
		t.Errorf("count after clear = %d", n)
	}

	// The recreated collection must accept new items.
	if _, err := s.Add(context.Background(), []superagent.MemoryItem{
		item("again", []float32{1, 0}),
	}); err != nil {
		t.Fatalf("Add after Clear: %v", err)
	}
}
