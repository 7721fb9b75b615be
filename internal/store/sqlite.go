package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	qerrors "github.com/quarry-search/quarry/internal/errors"
)

// SQLiteStore implements MetadataStore using modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ MetadataStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the metadata database at path and runs
// migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, qerrors.StoreError("failed to create data directory", err)
	}

	// WAL for concurrent readers during writes, busy_timeout so a second
	// process waits instead of failing immediately.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, qerrors.StoreError("failed to open metadata database", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// DB exposes the underlying connection for components that share the
// metadata database, such as the telemetry store.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		collection TEXT NOT NULL,
		source TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		indexed_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_scope ON documents(tenant_id, collection);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		tenant_id TEXT NOT NULL,
		collection TEXT NOT NULL,
		content TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_scope ON chunks(tenant_id, collection);

	CREATE TABLE IF NOT EXISTS chunk_embeddings (
		chunk_id TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
		model TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		vector BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return qerrors.StoreError("failed to create schema", err)
	}

	if _, err := s.db.Exec(
		`INSERT INTO state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		StateKeySchemaVersion, strconv.Itoa(CurrentSchemaVersion)); err != nil {
		return qerrors.StoreError("failed to record schema version", err)
	}

	return nil
}

// SaveDocument upserts a document.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, tenant_id, collection, source, title, size_bytes, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			title = excluded.title,
			size_bytes = excluded.size_bytes,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at
	`, doc.ID, doc.TenantID, doc.Collection, doc.Source, doc.Title,
		doc.SizeBytes, doc.ChunkCount, doc.IndexedAt)
	if err != nil {
		return qerrors.StoreError("failed to save document", err)
	}
	return nil
}

// GetDocument returns the document with the given ID, or nil when absent.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	doc := &Document{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, collection, source, title, size_bytes, chunk_count, indexed_at
		FROM documents WHERE id = ?
	`, id).Scan(&doc.ID, &doc.TenantID, &doc.Collection, &doc.Source, &doc.Title,
		&doc.SizeBytes, &doc.ChunkCount, &doc.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, qerrors.StoreError("failed to get document", err)
	}
	return doc, nil
}

// ListDocuments returns all documents in a tenant/collection scope ordered
// by source.
func (s *SQLiteStore) ListDocuments(ctx context.Context, tenantID, collection string) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, collection, source, title, size_bytes, chunk_count, indexed_at
		FROM documents WHERE tenant_id = ? AND collection = ?
		ORDER BY source
	`, tenantID, collection)
	if err != nil {
		return nil, qerrors.StoreError("failed to list documents", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc := &Document{}
		if err := rows.Scan(&doc.ID, &doc.TenantID, &doc.Collection, &doc.Source,
			&doc.Title, &doc.SizeBytes, &doc.ChunkCount, &doc.IndexedAt); err != nil {
			return nil, qerrors.StoreError("failed to scan document", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document; chunks cascade.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return qerrors.StoreError("failed to delete document", err)
	}
	return nil
}

// SaveChunks upserts chunks in one transaction.
func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return qerrors.StoreError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, tenant_id, collection, content, position, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			position = excluded.position,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return qerrors.StoreError("failed to prepare chunk insert", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return qerrors.StoreError("failed to encode chunk metadata", err)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.TenantID, c.Collection,
			c.Content, c.Position, string(meta), createdAt, now); err != nil {
			return qerrors.StoreError("failed to insert chunk", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return qerrors.StoreError("failed to commit chunks", err)
	}
	return nil
}

// GetChunk returns the chunk with the given ID, or nil when absent.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	chunks, err := s.GetChunks(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	return chunks[0], nil
}

// GetChunks batch-retrieves chunks by ID. Missing IDs are skipped; result
// order follows the input order.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, document_id, tenant_id, collection, content, position, metadata, created_at, updated_at
		FROM chunks WHERE id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, qerrors.StoreError("failed to get chunks", err)
	}
	defer rows.Close()

	byID := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, qerrors.StoreError("failed to iterate chunks", err)
	}

	result := make([]*Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			result = append(result, c)
		}
	}
	return result, nil
}

// GetChunksByDocument returns a document's chunks in position order.
func (s *SQLiteStore) GetChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, tenant_id, collection, content, position, metadata, created_at, updated_at
		FROM chunks WHERE document_id = ? ORDER BY position
	`, documentID)
	if err != nil {
		return nil, qerrors.StoreError("failed to get chunks by document", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func scanChunk(rows *sql.Rows) (*Chunk, error) {
	c := &Chunk{}
	var meta string
	if err := rows.Scan(&c.ID, &c.DocumentID, &c.TenantID, &c.Collection,
		&c.Content, &c.Position, &meta, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, qerrors.StoreError("failed to scan chunk", err)
	}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return nil, qerrors.StoreError("failed to decode chunk metadata", err)
	}
	return c, nil
}

// DeleteChunksByDocument removes all of a document's chunks.
func (s *SQLiteStore) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return qerrors.StoreError("failed to delete chunks", err)
	}
	return nil
}

// CountChunks returns the chunk count for a tenant/collection scope.
func (s *SQLiteStore) CountChunks(ctx context.Context, tenantID, collection string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE tenant_id = ? AND collection = ?`,
		tenantID, collection).Scan(&count)
	if err != nil {
		return 0, qerrors.StoreError("failed to count chunks", err)
	}
	return count, nil
}

// SaveChunkEmbeddings stores embeddings as little-endian float32 blobs so
// the in-process vector index can be rebuilt without re-embedding.
func (s *SQLiteStore) SaveChunkEmbeddings(ctx context.Context, chunkIDs []string, embeddings [][]float32, model string) error {
	if len(chunkIDs) != len(embeddings) {
		return qerrors.New(qerrors.ErrCodeStoreIO,
			fmt.Sprintf("chunk ID count (%d) does not match embedding count (%d)",
				len(chunkIDs), len(embeddings)), nil)
	}
	if len(chunkIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return qerrors.StoreError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunk_embeddings (chunk_id, model, dimensions, vector)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			model = excluded.model,
			dimensions = excluded.dimensions,
			vector = excluded.vector
	`)
	if err != nil {
		return qerrors.StoreError("failed to prepare embedding insert", err)
	}
	defer stmt.Close()

	for i, id := range chunkIDs {
		blob := encodeVector(embeddings[i])
		if _, err := stmt.ExecContext(ctx, id, model, len(embeddings[i]), blob); err != nil {
			return qerrors.StoreError("failed to insert embedding", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return qerrors.StoreError("failed to commit embeddings", err)
	}
	return nil
}

// GetAllEmbeddings returns chunk ID to vector for a tenant/collection scope.
func (s *SQLiteStore) GetAllEmbeddings(ctx context.Context, tenantID, collection string) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.chunk_id, e.vector
		FROM chunk_embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		WHERE c.tenant_id = ? AND c.collection = ?
	`, tenantID, collection)
	if err != nil {
		return nil, qerrors.StoreError("failed to load embeddings", err)
	}
	defer rows.Close()

	result := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, qerrors.StoreError("failed to scan embedding", err)
		}
		result[id] = decodeVector(blob)
	}
	return result, rows.Err()
}

// GetState returns a state value, or empty string when absent.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", qerrors.StoreError("failed to get state", err)
	}
	return value, nil
}

// SetState upserts a state value.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return qerrors.StoreError("failed to set state", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(v)*4))
	for _, x := range v {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(x))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

func decodeVector(blob []byte) []float32 {
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v
}
