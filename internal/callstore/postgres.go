package callstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/ringline-ai/ringline/internal/transcript"
	"github.com/ringline-ai/ringline/pkg/provider/embeddings"
)

var _ Store = (*Postgres)(nil)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    id          TEXT         PRIMARY KEY,
    call_sid    TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_calls_started_at
    ON calls (started_at);
`

// ddlCallLines returns the transcript line DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlCallLines(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS call_lines (
    id         BIGSERIAL    PRIMARY KEY,
    call_id    TEXT         NOT NULL REFERENCES calls (id) ON DELETE CASCADE,
    at         TIMESTAMPTZ  NOT NULL,
    role       TEXT         NOT NULL,
    text       TEXT         NOT NULL,
    embedding  vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_call_lines_call_id
    ON call_lines (call_id);

CREATE INDEX IF NOT EXISTS idx_call_lines_fts
    ON call_lines USING GIN (to_tsvector('english', text));

CREATE INDEX IF NOT EXISTS idx_call_lines_embedding
    ON call_lines USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	for _, stmt := range []string{ddlCalls, ddlCallLines(embeddingDimensions)} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("callstore migrate: %w", err)
		}
	}
	return nil
}

// Postgres is a Store backed by PostgreSQL. When an embedder is configured,
// transcript lines are embedded on write and Search runs approximate
// nearest-neighbour retrieval over pgvector; without one, Search falls back
// to keyword matching. All methods are safe for concurrent use.
type Postgres struct {
	pool  *pgxpool.Pool
	embed embeddings.Embedder
}

// PostgresOption is a functional option for [NewPostgres].
type PostgresOption func(*Postgres)

// WithEmbedder enables semantic indexing and search with e.
func WithEmbedder(e embeddings.Embedder) PostgresOption {
	return func(p *Postgres) { p.embed = e }
}

// NewPostgres connects to the database at dsn, registers pgvector types on
// every connection, and runs [Migrate].
func NewPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*Postgres, error) {
	p := &Postgres{}
	for _, o := range opts {
		o(p)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("callstore: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("callstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("callstore: ping: %w", err)
	}

	dims := embeddings.DefaultDimensions
	if p.embed != nil {
		dims = p.embed.Dimensions()
	}
	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("callstore: %w", err)
	}

	p.pool = pool
	return p, nil
}

// Close implements [Store].
func (p *Postgres) Close() {
	p.pool.Close()
}

// Ping reports whether the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// StartCall implements [Store].
func (p *Postgres) StartCall(ctx context.Context, id, callSid string) error {
	const q = `
		INSERT INTO calls (id, call_sid)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`
	if _, err := p.pool.Exec(ctx, q, id, callSid); err != nil {
		return fmt.Errorf("callstore: start call: %w", err)
	}
	return nil
}

// EndCall implements [Store]. Line embedding failures degrade to unembedded
// rows rather than losing the transcript.
func (p *Postgres) EndCall(ctx context.Context, id string, lines []transcript.Line) error {
	if _, err := p.pool.Exec(ctx,
		`UPDATE calls SET ended_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("callstore: end call: %w", err)
	}

	const q = `
		INSERT INTO call_lines (call_id, at, role, text, embedding)
		VALUES ($1, $2, $3, $4, $5)`
	for _, line := range lines {
		var vec any
		if p.embed != nil {
			emb, err := p.embed.Embed(ctx, line.Text)
			if err != nil {
				slog.Warn("transcript line embedding failed", "call_id", id, "error", err)
			} else {
				vec = pgvector.NewVector(emb)
			}
		}
		if _, err := p.pool.Exec(ctx, q, id, line.At, line.Role, line.Text, vec); err != nil {
			return fmt.Errorf("callstore: insert line: %w", err)
		}
	}
	return nil
}

// Search implements [Store].
func (p *Postgres) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 10
	}
	if p.embed == nil {
		return p.keywordSearch(ctx, query, topK)
	}

	emb, err := p.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("callstore: embed query: %w", err)
	}

	const q = `
		SELECT call_id, role, text, at, embedding <=> $1 AS distance
		FROM   call_lines
		WHERE  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`
	rows, err := p.pool.Query(ctx, q, pgvector.NewVector(emb), topK)
	if err != nil {
		return nil, fmt.Errorf("callstore: search: %w", err)
	}
	return collectResults(rows, true)
}

func (p *Postgres) keywordSearch(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	const q = `
		SELECT call_id, role, text, at
		FROM   call_lines
		WHERE  text ILIKE '%' || $1 || '%'
		ORDER  BY at DESC
		LIMIT  $2`
	rows, err := p.pool.Query(ctx, q, query, topK)
	if err != nil {
		return nil, fmt.Errorf("callstore: keyword search: %w", err)
	}
	return collectResults(rows, false)
}

func collectResults(rows pgx.Rows, withDistance bool) ([]SearchResult, error) {
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SearchResult, error) {
		var r SearchResult
		if withDistance {
			return r, row.Scan(&r.CallID, &r.Role, &r.Text, &r.At, &r.Distance)
		}
		return r, row.Scan(&r.CallID, &r.Role, &r.Text, &r.At)
	})
	if err != nil {
		return nil, fmt.Errorf("callstore: scan rows: %w", err)
	}
	if results == nil {
		results = []SearchResult{}
	}
	return results, nil
}
