// Package pgvector implements memory.Store on Postgres with the pgvector
// extension: a structured vector store with scalar columns alongside the
// embedding. It uses pgx/pgxpool for the driver and the `<=>`
// cosine-distance operator so the score it returns is already a cosine
// similarity in [0, 1] for the L2-normalized embeddings this module
// produces.
package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memnetlabs/memnet/memory"
)

// Store implements memory.Store on a Postgres + pgvector table.
type Store struct {
	pool       *pgxpool.Pool
	table      string
	vectorSize int
}

// Config configures the pgvector backend.
type Config struct {
	// ConnString is a libpq connection string or URL.
	ConnString string
	// Table names the backing table. Defaults to "memnet_memories".
	Table string
}

// New connects to Postgres and returns a pgvector-backed Store. It does not
// create the table; call EnsureCollectionExists first.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ConnString == "" {
		return nil, memory.ConfigurationError("pgvector: ConnString is required")
	}
	if cfg.Table == "" {
		cfg.Table = "memnet_memories"
	}

	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, memory.BackendUnavailableError("pgvector", err)
	}
	return &Store{pool: pool, table: cfg.Table}, nil
}

// EnsureCollectionExists creates the pgvector extension and backing table if
// missing. If the table already exists with a different vector dimension,
// it is dropped and recreated when allowRecreation is true, or
// EnsureCollectionExists fails with a SchemaMismatchError otherwise.
func (s *Store) EnsureCollectionExists(ctx context.Context, vectorSize int, allowRecreation bool) error {
	declared, err := s.declaredDimension(ctx)
	if err != nil {
		return memory.BackendUnavailableError("pgvector", err)
	}

	if declared != 0 && declared != vectorSize {
		if !allowRecreation {
			return memory.SchemaMismatchError(s.table, declared, vectorSize)
		}
		log.Printf("[STORE:pgvector] recreating table %s: %d -> %d", s.table, declared, vectorSize)
		if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.table)); err != nil {
			return memory.BackendUnavailableError("pgvector", err)
		}
	}

	schema := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL DEFAULT '',
    agent_id TEXT NOT NULL DEFAULT '',
    run_id TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL,
    metadata JSONB,
    embedding vector(%d) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS %s_user_idx ON %s (user_id);
CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops);
`, s.table, vectorSize, s.table, s.table, s.table, s.table)

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return memory.BackendUnavailableError("pgvector", err)
	}

	s.vectorSize = vectorSize
	return nil
}

func (s *Store) declaredDimension(ctx context.Context) (int, error) {
	var typ string
	err := s.pool.QueryRow(ctx, `
SELECT format_type(a.atttypid, a.atttypmod)
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
WHERE c.relname = $1 AND a.attname = 'embedding' AND NOT a.attisdropped
`, s.table).Scan(&typ)
	if err != nil {
		// Table/column doesn't exist yet: not an error, just "undeclared".
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}

	// typ looks like "vector(384)".
	open := strings.Index(typ, "(")
	close := strings.Index(typ, ")")
	if open < 0 || close < 0 || close <= open+1 {
		return 0, nil
	}
	n, err := strconv.Atoi(typ[open+1 : close])
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (s *Store) Describe(ctx context.Context) (memory.CollectionDescriptor, error) {
	return memory.CollectionDescriptor{
		Name:       s.table,
		VectorSize: s.vectorSize,
		Distance:   memory.DistanceCosine,
	}, nil
}

func (s *Store) Insert(ctx context.Context, items []memory.MemoryItem) error {
	for _, item := range items {
		if len(item.Embedding) != s.vectorSize {
			return memory.ValidationError("embedding length does not match declared vector size")
		}

		metadataJSON, err := json.Marshal(item.Metadata)
		if err != nil {
			return memory.ValidationError("metadata is not JSON-serializable")
		}

		query := fmt.Sprintf(`
INSERT INTO %s (id, user_id, agent_id, run_id, data, metadata, embedding, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::vector, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    user_id = EXCLUDED.user_id,
    agent_id = EXCLUDED.agent_id,
    run_id = EXCLUDED.run_id,
    data = EXCLUDED.data,
    metadata = EXCLUDED.metadata,
    embedding = EXCLUDED.embedding,
    updated_at = EXCLUDED.updated_at
`, s.table)

		var updatedAt interface{}
		if !item.UpdatedAt.IsZero() {
			updatedAt = item.UpdatedAt
		}

		if _, err := s.pool.Exec(ctx, query,
			item.ID, item.UserID, item.AgentID, item.RunID, item.Data,
			string(metadataJSON), vectorLiteral(item.Embedding), item.CreatedAt, updatedAt,
		); err != nil {
			return memory.BackendUnavailableError("pgvector", err)
		}
	}
	return nil
}

func (s *Store) Update(ctx context.Context, items []memory.MemoryItem) error {
	return s.Insert(ctx, items)
}

func (s *Store) Search(ctx context.Context, queryVec []float32, userID string, limit int) ([]memory.MemorySearchResult, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows pgxRows
	var err error
	if userID != "" {
		query := fmt.Sprintf(`
SELECT id, user_id, agent_id, run_id, data, metadata::text, created_at, updated_at,
       1 - (embedding <=> $1::vector) AS score
FROM %s
WHERE user_id = $2
ORDER BY embedding <=> $1::vector
LIMIT $3
`, s.table)
		rows, err = s.pool.Query(ctx, query, vectorLiteral(queryVec), userID, limit)
	} else {
		query := fmt.Sprintf(`
SELECT id, user_id, agent_id, run_id, data, metadata::text, created_at, updated_at,
       1 - (embedding <=> $1::vector) AS score
FROM %s
ORDER BY embedding <=> $1::vector
LIMIT $2
`, s.table)
		rows, err = s.pool.Query(ctx, query, vectorLiteral(queryVec), limit)
	}
	if err != nil {
		return nil, memory.BackendUnavailableError("pgvector", err)
	}
	defer rows.Close()

	var results []memory.MemorySearchResult
	for rows.Next() {
		item, score, err := scanMemoryWithScore(rows)
		if err != nil {
			return nil, memory.BackendUnavailableError("pgvector", err)
		}
		results = append(results, memory.MemorySearchResult{Memory: item, Score: clampScore(score)})
	}
	return results, rows.Err()
}

func (s *Store) List(ctx context.Context, userID string, limit int) ([]memory.MemoryItem, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows pgxRows
	var err error
	if userID != "" {
		query := fmt.Sprintf(`
SELECT id, user_id, agent_id, run_id, data, metadata::text, created_at, updated_at
FROM %s WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
`, s.table)
		rows, err = s.pool.Query(ctx, query, userID, limit)
	} else {
		query := fmt.Sprintf(`
SELECT id, user_id, agent_id, run_id, data, metadata::text, created_at, updated_at
FROM %s ORDER BY created_at DESC LIMIT $1
`, s.table)
		rows, err = s.pool.Query(ctx, query, limit)
	}
	if err != nil {
		return nil, memory.BackendUnavailableError("pgvector", err)
	}
	defer rows.Close()

	var items []memory.MemoryItem
	for rows.Next() {
		item, err := scanMemory(rows)
		if err != nil {
			return nil, memory.BackendUnavailableError("pgvector", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) Get(ctx context.Context, id string) (memory.MemoryItem, bool, error) {
	query := fmt.Sprintf(`
SELECT id, user_id, agent_id, run_id, data, metadata::text, created_at, updated_at
FROM %s WHERE id = $1
`, s.table)
	row := s.pool.QueryRow(ctx, query, id)
	item, err := scanMemoryRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return memory.MemoryItem{}, false, nil
		}
		return memory.MemoryItem{}, false, memory.BackendUnavailableError("pgvector", err)
	}
	return item, true, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table), id)
	if err != nil {
		return memory.BackendUnavailableError("pgvector", err)
	}
	return nil
}

func (s *Store) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, s.table), userID)
	if err != nil {
		return memory.BackendUnavailableError("pgvector", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// pgxRows is the subset of pgx.Rows (as returned by pool.Query) that the
// multi-row scan helpers rely on; pgxRow is the single-row counterpart for
// pool.QueryRow.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

type pgxRow interface {
	Scan(dest ...any) error
}

func scanMemory(rows pgxRows) (memory.MemoryItem, error) {
	var item memory.MemoryItem
	var metadataJSON string
	var updatedAt *time.Time

	if err := rows.Scan(&item.ID, &item.UserID, &item.AgentID, &item.RunID, &item.Data, &metadataJSON, &item.CreatedAt, &updatedAt); err != nil {
		return memory.MemoryItem{}, err
	}
	if updatedAt != nil {
		item.UpdatedAt = *updatedAt
	}
	if metadataJSON != "" {
		_ = json.Unmarshal([]byte(metadataJSON), &item.Metadata)
	}
	return item, nil
}

func scanMemoryRow(row pgxRow) (memory.MemoryItem, error) {
	var item memory.MemoryItem
	var metadataJSON string
	var updatedAt *time.Time

	if err := row.Scan(&item.ID, &item.UserID, &item.AgentID, &item.RunID, &item.Data, &metadataJSON, &item.CreatedAt, &updatedAt); err != nil {
		return memory.MemoryItem{}, err
	}
	if updatedAt != nil {
		item.UpdatedAt = *updatedAt
	}
	if metadataJSON != "" {
		_ = json.Unmarshal([]byte(metadataJSON), &item.Metadata)
	}
	return item, nil
}

func scanMemoryWithScore(rows pgxRows) (memory.MemoryItem, float64, error) {
	var item memory.MemoryItem
	var metadataJSON string
	var updatedAt *time.Time
	var score float64

	if err := rows.Scan(&item.ID, &item.UserID, &item.AgentID, &item.RunID, &item.Data, &metadataJSON, &item.CreatedAt, &updatedAt, &score); err != nil {
		return memory.MemoryItem{}, 0, err
	}
	if updatedAt != nil {
		item.UpdatedAt = *updatedAt
	}
	if metadataJSON != "" {
		_ = json.Unmarshal([]byte(metadataJSON), &item.Metadata)
	}
	return item, score, nil
}

// vectorLiteral renders a float32 slice as pgvector's text input format,
// e.g. "[0.1,0.2,0.3]".
func vectorLiteral(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
