package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	qerrors "github.com/quarry-search/quarry/internal/errors"
)

// PostgresConfig configures the Postgres backends.
type PostgresConfig struct {
	// DSN is the lib/pq connection string.
	DSN string

	// Dimensions is the embedding dimension, required when the backend
	// serves vector search.
	Dimensions int
}

// PostgresBackend serves both keyword search (full-text, ts_rank_cd) and
// vector search (pgvector cosine) from one table. A deployment can use it
// for either role or both.
type PostgresBackend struct {
	db     *sql.DB
	config PostgresConfig
}

var (
	_ KeywordBackend = (*PostgresBackend)(nil)
	_ VectorBackend  = (*PostgresBackend)(nil)
)

// NewPostgresBackend connects and ensures the schema exists. Requires the
// pgvector extension to be installed on the server.
func NewPostgresBackend(ctx context.Context, cfg PostgresConfig) (*PostgresBackend, error) {
	if cfg.DSN == "" {
		return nil, qerrors.ConfigError("backends.postgres_dsn is required for the postgres backend", nil)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("postgres: dimensions must be positive, got %d", cfg.Dimensions)
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeBackendUnreachable,
			"failed to open postgres connection", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, qerrors.New(qerrors.ErrCodeBackendUnreachable,
			"failed to reach postgres", err)
	}

	b := &PostgresBackend{db: db, config: cfg}
	if err := b.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS quarry_chunks (
			chunk_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			collection TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}',
			tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
			embedding vector(%d)
		)`, b.config.Dimensions),
		`CREATE INDEX IF NOT EXISTS idx_quarry_chunks_scope ON quarry_chunks (tenant_id, collection)`,
		`CREATE INDEX IF NOT EXISTS idx_quarry_chunks_tsv ON quarry_chunks USING GIN (tsv)`,
		`CREATE INDEX IF NOT EXISTS idx_quarry_chunks_metadata ON quarry_chunks USING GIN (metadata)`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return qerrors.BackendError("failed to migrate postgres schema", err)
		}
	}
	return nil
}

// filterJSON serializes metadata predicates for a JSONB containment
// match. An empty map yields '{}', which every row contains.
func filterJSON(filters map[string]string) ([]byte, error) {
	if len(filters) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(filters)
}

// SearchKeyword runs scoped full-text search ranked with ts_rank_cd.
func (b *PostgresBackend) SearchKeyword(ctx context.Context, scope Scope, query string, filters map[string]string, limit int) ([]Hit, error) {
	fj, err := filterJSON(filters)
	if err != nil {
		return nil, qerrors.BackendError("failed to encode filters", err)
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT chunk_id, ts_rank_cd(tsv, q) AS rank
		FROM quarry_chunks, websearch_to_tsquery('english', $1) q
		WHERE tenant_id = $2 AND collection = $3 AND tsv @@ q
			AND metadata @> $4::jsonb
		ORDER BY rank DESC
		LIMIT $5
	`, query, scope.TenantID, scope.Collection, fj, limit)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeBackendUnreachable,
			"postgres keyword search failed", err)
	}
	defer rows.Close()

	return scanHits(rows)
}

// SearchVector runs scoped cosine similarity search via pgvector.
func (b *PostgresBackend) SearchVector(ctx context.Context, scope Scope, vector []float32, filters map[string]string, limit int) ([]Hit, error) {
	fj, err := filterJSON(filters)
	if err != nil {
		return nil, qerrors.BackendError("failed to encode filters", err)
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT chunk_id, 1 - (embedding <=> $1) AS similarity
		FROM quarry_chunks
		WHERE tenant_id = $2 AND collection = $3 AND embedding IS NOT NULL
			AND metadata @> $4::jsonb
		ORDER BY embedding <=> $1
		LIMIT $5
	`, pgvector.NewVector(vector), scope.TenantID, scope.Collection, fj, limit)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeBackendUnreachable,
			"postgres vector search failed", err)
	}
	defer rows.Close()

	return scanHits(rows)
}

func scanHits(rows *sql.Rows) ([]Hit, error) {
	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ChunkID, &h.Score); err != nil {
			return nil, qerrors.BackendError("failed to scan hit", err)
		}
		hits = append(hits, h)
	}
	if hits == nil {
		hits = []Hit{}
	}
	return hits, rows.Err()
}

// IndexChunks upserts chunk content for full-text search.
func (b *PostgresBackend) IndexChunks(ctx context.Context, scope Scope, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return qerrors.BackendError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO quarry_chunks (chunk_id, tenant_id, collection, content, metadata)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (chunk_id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata
	`)
	if err != nil {
		return qerrors.BackendError("failed to prepare insert", err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		fj, err := filterJSON(doc.Metadata)
		if err != nil {
			return qerrors.BackendError("failed to encode chunk metadata", err)
		}
		if _, err := stmt.ExecContext(ctx, doc.ID, scope.TenantID, scope.Collection, doc.Content, fj); err != nil {
			return qerrors.BackendError("failed to index chunk", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return qerrors.BackendError("failed to commit chunks", err)
	}
	return nil
}

// AddVectors upserts chunk embeddings. Metadata is written too so the
// vector role filters correctly even without a keyword-role upsert.
func (b *PostgresBackend) AddVectors(ctx context.Context, scope Scope, docs []VectorDoc) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return qerrors.BackendError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO quarry_chunks (chunk_id, tenant_id, collection, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (chunk_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata
	`)
	if err != nil {
		return qerrors.BackendError("failed to prepare insert", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		fj, err := filterJSON(d.Metadata)
		if err != nil {
			return qerrors.BackendError("failed to encode chunk metadata", err)
		}
		if _, err := stmt.ExecContext(ctx, d.ID, scope.TenantID, scope.Collection,
			pgvector.NewVector(d.Vector), fj); err != nil {
			return qerrors.BackendError("failed to add vector", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return qerrors.BackendError("failed to commit vectors", err)
	}
	return nil
}

// DeleteChunks removes rows by chunk ID.
func (b *PostgresBackend) DeleteChunks(ctx context.Context, _ Scope, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := b.db.ExecContext(ctx,
		`DELETE FROM quarry_chunks WHERE chunk_id = ANY($1)`, pq.Array(ids)); err != nil {
		return qerrors.BackendError("failed to delete chunks", err)
	}
	return nil
}

// DeleteVectors clears embeddings by chunk ID, keeping keyword content.
func (b *PostgresBackend) DeleteVectors(ctx context.Context, _ Scope, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := b.db.ExecContext(ctx,
		`UPDATE quarry_chunks SET embedding = NULL WHERE chunk_id = ANY($1)`, pq.Array(ids)); err != nil {
		return qerrors.BackendError("failed to delete vectors", err)
	}
	return nil
}

// ScoreKind reports ts_rank_cd scores as unbounded. This is the keyword
// role's kind; use AsVectorBackend for the vector role.
func (b *PostgresBackend) ScoreKind() ScoreKind {
	return ScoreUnbounded
}

// Name identifies the backend.
func (b *PostgresBackend) Name() string {
	return "postgres"
}

// AsVectorBackend returns a view of this backend whose ScoreKind reflects
// the cosine similarities SearchVector produces.
func (b *PostgresBackend) AsVectorBackend() VectorBackend {
	return pgVectorView{b}
}

type pgVectorView struct {
	*PostgresBackend
}

func (pgVectorView) ScoreKind() ScoreKind {
	return ScoreSimilarity
}

// Close closes the connection pool.
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}
