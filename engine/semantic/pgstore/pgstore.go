// Package pgstore keeps the passage index in Postgres using the pgvector
// extension. It is an alternative to the Qdrant-backed semantic.VectorStore.
package pgstore

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/mffacts/mffacts/engine/domain"
	"github.com/mffacts/mffacts/engine/semantic"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

const createExtension = `CREATE EXTENSION IF NOT EXISTS vector`

// Store implements the passage index on a pgvector table.
type Store struct {
	db    DB
	pool  *pgxpool.Pool
	table string
}

// New wraps an existing connection.
func New(db DB, table string) (*Store, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("pgstore: invalid table name %q", table)
	}
	return &Store{db: db, table: table}, nil
}

// Connect opens a pool to connString and verifies it. Every connection
// makes sure the vector extension exists and registers its types with pgx.
func Connect(ctx context.Context, connString, table string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, createExtension); err != nil {
			return err
		}
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	s, err := New(pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	return s, nil
}

// Close releases the pool opened by Connect.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Reset drops and recreates the passage table for vectors of size dims.
func (s *Store) Reset(ctx context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("pgstore: invalid dimension %d", dims)
	}
	stmts := []string{
		createExtension,
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.table),
		fmt.Sprintf(`CREATE TABLE %s (
			id           TEXT PRIMARY KEY,
			point_id     UUID NOT NULL,
			url          TEXT NOT NULL,
			chunk_index  INTEGER NOT NULL,
			total_chunks INTEGER NOT NULL,
			text         TEXT NOT NULL,
			embedding    vector(%d) NOT NULL
		)`, s.table, dims),
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return fmt.Errorf("pgstore: reset %s: %w", s.table, err)
		}
	}
	return nil
}

// Upsert writes records in one batch round trip.
func (s *Store) Upsert(ctx context.Context, records []semantic.Record) error {
	if len(records) == 0 {
		return nil
	}
	q := fmt.Sprintf(`
		INSERT INTO %s (id, point_id, url, chunk_index, total_chunks, text, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			chunk_index = EXCLUDED.chunk_index,
			total_chunks = EXCLUDED.total_chunks,
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding`, s.table)

	b := &pgx.Batch{}
	for _, r := range records {
		p := r.Passage
		b.Queue(q, p.ID, semantic.PointID(p.ID), p.Meta.URL, p.Meta.ChunkIndex, p.Meta.TotalChunks,
			truncate(p.Text, semantic.MaxPayloadText), pgvector.NewVector(r.Embedding))
	}
	br := s.db.SendBatch(ctx, b)
	defer br.Close()
	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("pgstore: upsert %d rows: %w", len(records), err)
		}
	}
	return nil
}

// Search returns the topK nearest passages by cosine distance. Score is
// reported as cosine similarity so the caller's similarity floor applies
// unchanged.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int) ([]domain.Candidate, error) {
	rows, err := s.db.Query(ctx, s.searchQuery(), pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("pgstore: search: %w", err)
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var (
			c     domain.Candidate
			score float64
		)
		if err := rows.Scan(&c.Passage.ID, &c.Passage.Meta.URL, &c.Passage.Meta.ChunkIndex,
			&c.Passage.Meta.TotalChunks, &c.Passage.Text, &score); err != nil {
			return nil, fmt.Errorf("pgstore: scan: %w", err)
		}
		c.Score = float32(score)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: rows: %w", err)
	}
	return out, nil
}

func (s *Store) searchQuery() string {
	return fmt.Sprintf(`SELECT id, url, chunk_index, total_chunks, text, 1 - (embedding <=> $1::vector) AS score
		FROM %s ORDER BY embedding <=> $1::vector LIMIT $2`, s.table)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
