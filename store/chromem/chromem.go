// Package chromem implements the vector store contract on chromem-go, an
// embedded vector database with optional on-disk persistence. Unlike the
// sql backends it indexes vectors natively, so no brute-force scan.
package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"

	superagent "github.com/superagent-core/superagent"
)

const collectionName = "memories"

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger. Without it no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store is a vector store backed by an embedded chromem-go collection.
type Store struct {
	mu     sync.Mutex
	db     *chromem.DB
	coll   *chromem.Collection
	logger *slog.Logger
}

var _ superagent.VectorStore = (*Store)(nil)

var nopLogger = slog.New(slog.DiscardHandler)

// New creates a Store. An empty path keeps everything in memory; otherwise
// the collection persists under path.
func New(path string, opts ...StoreOption) (*Store, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("chromem: open %s: %w", path, err)
		}
	}
	// Embeddings always arrive precomputed, so the embedding func must
	// never be called.
	coll, err := db.GetOrCreateCollection(collectionName, nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("chromem: create collection: %w", err)
	}
	s := &Store{db: db, coll: coll, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func rejectEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("chromem: store expects precomputed embeddings")
}

// Add stores items and returns their IDs in order. Items must carry an
// embedding.
func (s *Store) Add(ctx context.Context, items []superagent.MemoryItem) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]chromem.Document, 0, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			item.ID = superagent.NewID()
		}
		if item.Timestamp.IsZero() {
			item.Timestamp = time.Now().UTC()
		}
		if len(item.Embedding) == 0 {
			return nil, fmt.Errorf("chromem: item %s has no embedding", item.ID)
		}
		emb := item.Embedding
		// The full item round-trips through document metadata; the vector
		// index only sees content and embedding.
		stored := item
		stored.Embedding = nil
		payload, err := json.Marshal(stored)
		if err != nil {
			return nil, fmt.Errorf("chromem: marshal item: %w", err)
		}
		docs = append(docs, chromem.Document{
			ID:        item.ID,
			Content:   item.Content,
			Embedding: emb,
			Metadata:  map[string]string{"item": string(payload)},
		})
		ids = append(ids, item.ID)
	}
	if err := s.coll.AddDocuments(ctx, docs, 1); err != nil {
		return nil, fmt.Errorf("chromem: add documents: %w", err)
	}
	s.logger.Debug("chromem: memories added", "count", len(ids))
	return ids, nil
}

// Search returns up to limit items nearest to embedding, best first.
func (s *Store) Search(ctx context.Context, embedding []float32, limit int) ([]superagent.MemoryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// chromem rejects queries asking for more results than documents.
	if n := s.coll.Count(); limit > n {
		limit = n
	}
	if limit <= 0 {
		return nil, nil
	}
	hits, err := s.coll.QueryEmbedding(ctx, embedding, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}
	results := make([]superagent.MemoryResult, 0, len(hits))
	for _, hit := range hits {
		item, err := decodeItem(hit.ID, hit.Content, hit.Metadata, hit.Embedding)
		if err != nil {
			return nil, err
		}
		results = append(results, superagent.MemoryResult{
			Item:  item,
			Score: float64(hit.Similarity),
		})
	}
	return results, nil
}

// Get fetches one item by ID.
func (s *Store) Get(ctx context.Context, id string) (superagent.MemoryItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.coll.GetByID(ctx, id)
	if err != nil {
		// chromem reports missing IDs as errors.
		return superagent.MemoryItem{}, false, nil
	}
	item, err := decodeItem(doc.ID, doc.Content, doc.Metadata, doc.Embedding)
	if err != nil {
		return superagent.MemoryItem{}, false, err
	}
	return item, true, nil
}

// Delete removes one item by ID. Deleting a missing ID is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.coll.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("chromem: delete %s: %w", id, err)
	}
	return nil
}

// Clear removes everything by recreating the collection.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("chromem: delete collection: %w", err)
	}
	coll, err := s.db.GetOrCreateCollection(collectionName, nil, rejectEmbedding)
	if err != nil {
		return fmt.Errorf("chromem: recreate collection: %w", err)
	}
	s.coll = coll
	return nil
}

// Count returns the number of stored items.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coll.Count(), nil
}

func decodeItem(id, content string, metadata map[string]string, embedding []float32) (superagent.MemoryItem, error) {
	var item superagent.MemoryItem
	if payload, ok := metadata["item"]; ok {
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return item, fmt.Errorf("chromem: decode item %s: %w", id, err)
		}
	}
	item.ID = id
	if item.Content == "" {
		item.Content = content
	}
	item.Embedding = embedding
	return item, nil
}
