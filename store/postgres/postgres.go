// Package postgres implements the vector store contract on PostgreSQL via
// pgx. Embeddings are stored as JSON text and similarity search runs in
// process with brute-force cosine, matching the sqlite backend's contract.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	superagent "github.com/superagent-core/superagent"
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger. Without it no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store is a vector store backed by PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ superagent.VectorStore = (*Store)(nil)

var nopLogger = slog.New(slog.DiscardHandler)

// New connects to connString (a pgx connection URL or DSN).
func New(ctx context.Context, connString string, opts ...StoreOption) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s := &Store{pool: pool, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Init creates the memories table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		memory_type TEXT NOT NULL,
		timestamp BIGINT NOT NULL,
		metadata JSONB,
		embedding JSONB,
		importance DOUBLE PRECISION NOT NULL DEFAULT 0,
		access_count INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		return fmt.Errorf("postgres: create table: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Add stores items and returns their IDs in order.
func (s *Store) Add(ctx context.Context, items []superagent.MemoryItem) ([]string, error) {
	start := time.Now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

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
			return nil, fmt.Errorf("postgres: marshal metadata: %w", err)
		}
		emb, err := json.Marshal(item.Embedding)
		if err != nil {
			return nil, fmt.Errorf("postgres: marshal embedding: %w", err)
		}
		_, err = tx.Exec(ctx, `INSERT INTO memories
			(id, content, memory_type, timestamp, metadata, embedding, importance, access_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				memory_type = EXCLUDED.memory_type,
				timestamp = EXCLUDED.timestamp,
				metadata = EXCLUDED.metadata,
				embedding = EXCLUDED.embedding,
				importance = EXCLUDED.importance,
				access_count = EXCLUDED.access_count`,
			item.ID, item.Content, string(item.Type), item.Timestamp.Unix(),
			meta, emb, item.Importance, item.AccessCount)
		if err != nil {
			return nil, fmt.Errorf("postgres: insert memory: %w", err)
		}
		ids = append(ids, item.ID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit: %w", err)
	}
	s.logger.Debug("postgres: memories added", "count", len(ids), "elapsed", time.Since(start))
	return ids, nil
}

// Search returns up to limit items nearest to embedding, best first.
func (s *Store) Search(ctx context.Context, embedding []float32, limit int) ([]superagent.MemoryResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, content, memory_type, timestamp,
		metadata, embedding, importance, access_count
		FROM memories WHERE embedding IS NOT NULL AND embedding != 'null'::jsonb`)
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w", err)
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
		return nil, fmt.Errorf("postgres: search rows: %w", err)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Get fetches one item by ID.
func (s *Store) Get(ctx context.Context, id string) (superagent.MemoryItem, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, content, memory_type, timestamp,
		metadata, embedding, importance, access_count FROM memories WHERE id = $1`, id)
	item, _, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return superagent.MemoryItem{}, false, nil
	}
	if err != nil {
		return superagent.MemoryItem{}, false, err
	}
	return item, true, nil
}

// Delete removes one item by ID. Deleting a missing ID is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete memory: %w", err)
	}
	return nil
}

// Clear removes everything.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM memories`); err != nil {
		return fmt.Errorf("postgres: clear memories: %w", err)
	}
	return nil
}

// Count returns the number of stored items.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count memories: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (superagent.MemoryItem, []float32, error) {
	var item superagent.MemoryItem
	var memType string
	var ts int64
	var meta, emb []byte
	err := row.Scan(&item.ID, &item.Content, &memType, &ts,
		&meta, &emb, &item.Importance, &item.AccessCount)
	if err != nil {
		return item, nil, err
	}
	item.Type = superagent.MemoryType(memType)
	item.Timestamp = time.Unix(ts, 0).UTC()
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &item.Metadata)
	}
	var stored []float32
	if len(emb) > 0 {
		_ = json.Unmarshal(emb, &stored)
	}
	item.Embedding = stored
	return item, stored, nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
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
