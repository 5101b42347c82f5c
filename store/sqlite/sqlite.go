// Package sqlite implements the vector store contract on pure-Go SQLite
// with in-process brute-force vector search. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	superagent "github.com/superagent-core/superagent"
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger. Without it no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store is a vector store backed by a local SQLite file. Embeddings are
// stored as JSON text and similarity search runs in process with
// brute-force cosine.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ superagent.VectorStore = (*Store)(nil)

var nopLogger = slog.New(slog.DiscardHandler)

// New creates a Store at dbPath. All goroutines serialize through one
// connection (SetMaxOpenConns(1)) so concurrent writers never hit
// SQLITE_BUSY.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the memories table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		memory_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		metadata TEXT,
		embedding TEXT,
		importance REAL NOT NULL DEFAULT 0,
		access_count INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		return fmt.Errorf("sqlite: create table: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Add stores items and returns their IDs in order. Items without an ID get
// one assigned.
func (s *Store) Add(ctx context.Context, items []superagent.MemoryItem) ([]string, error) {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			item.ID = superagent.NewID()
		}
		if item.Timestamp.IsZero() {
			item.Timestamp = time.Now().UTC()
		}
		meta, err := json.Marshal(item.Metadata)
		if err != nil {
			return nil, fmt.Errorf("sqlite: marshal metadata: %w", err)
		}
		emb, err := json.Marshal(item.Embedding)
		if err != nil {
			return nil, fmt.Errorf("sqlite: marshal embedding: %w", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO memories
			(id, content, memory_type, timestamp, metadata, embedding, importance, access_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.Content, string(item.Type), item.Timestamp.Unix(),
			string(meta), string(emb), item.Importance, item.AccessCount)
		if err != nil {
			return nil, fmt.Errorf("sqlite: insert memory: %w", err)
		}
		ids = append(ids, item.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	s.logger.Debug("sqlite: memories added", "count", len(ids), "elapsed", time.Since(start))
	return ids, nil
}

// Search returns up to limit items nearest to embedding, best first.
func (s *Store) Search(ctx context.Context, embedding []float32, limit int) ([]superagent.MemoryResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, memory_type, timestamp,
		metadata, embedding, importance, access_count
		FROM memories WHERE embedding IS NOT NULL AND embedding != 'null'`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	defer rows.Close()

	var results []superagent.MemoryResult
	for rows.Next() {
		item, stored, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		if len(stored) == 0 {
			continue
		}
		results = append(results, superagent.MemoryResult{
			Item:  item,
			Score: cosineSimilarity(embedding, stored),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: search rows: %w", err)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Get fetches one item by ID.
func (s *Store) Get(ctx context.Context, id string) (superagent.MemoryItem, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, content, memory_type, timestamp,
		metadata, embedding, importance, access_count FROM memories WHERE id = ?`, id)
	item, _, err := scanItem(row)
	if err == sql.ErrNoRows {
		return superagent.MemoryItem{}, false, nil
	}
	if err != nil {
		return superagent.MemoryItem{}, false, err
	}
	return item, true, nil
}

// Delete removes one item by ID. Deleting a missing ID is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete memory: %w", err)
	}
	return nil
}

// Clear removes everything.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories`); err != nil {
		return fmt.Errorf("sqlite: clear memories: %w", err)
	}
	return nil
}

// Count returns the number of stored items.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count memories: %w", err)
	}
	return n, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (superagent.MemoryItem, []float32, error) {
	var item superagent.MemoryItem
	var memType, meta, emb string
	var ts int64
	err := row.Scan(&item.ID, &item.Content, &memType, &ts,
		&meta, &emb, &item.Importance, &item.AccessCount)
	if err != nil {
		return item, nil, err
	}
	item.Type = superagent.MemoryType(memType)
	item.Timestamp = time.Unix(ts, 0).UTC()
	if meta != "" && meta != "null" {
		_ = json.Unmarshal([]byte(meta), &item.Metadata)
	}
	var stored []float32
	if emb != "" && emb != "null" {
		_ = json.Unmarshal([]byte(emb), &stored)
	}
	item.Embedding = stored
	return item, stored, nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Mismatched lengths or zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
