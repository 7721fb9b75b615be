// Package store persists document and chunk metadata in SQLite and guards
// the index directory against concurrent writers.
package store

import (
	"context"
	"time"
)

// State keys for the metadata store.
const (
	// StateKeyIndexDimension stores the embedding dimension used for the index.
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model name used for the index.
	StateKeyIndexModel = "index_embedding_model"
	// StateKeySchemaVersion stores the database schema version.
	StateKeySchemaVersion = "schema_version"
)

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// Document represents an ingested source document.
type Document struct {
	ID         string // SHA256(tenant + collection + source)
	TenantID   string
	Collection string
	Source     string // origin path or URL
	Title      string
	SizeBytes  int64
	ChunkCount int
	IndexedAt  time.Time
}

// Chunk is the retrievable unit of content.
type Chunk struct {
	ID         string // SHA256(document ID + content hash)
	DocumentID string
	TenantID   string
	Collection string
	Content    string
	Position   int // 0-based position within the document
	Metadata   map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MetadataStore persists documents and chunks.
type MetadataStore interface {
	// Document operations
	SaveDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, tenantID, collection string) ([]*Document, error)
	DeleteDocument(ctx context.Context, id string) error // cascades to chunks

	// Chunk operations
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	GetChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error)
	DeleteChunksByDocument(ctx context.Context, documentID string) error
	CountChunks(ctx context.Context, tenantID, collection string) (int, error)

	// Embedding operations (for in-process vector index rebuilds)
	SaveChunkEmbeddings(ctx context.Context, chunkIDs []string, embeddings [][]float32, model string) error
	GetAllEmbeddings(ctx context.Context, tenantID, collection string) (map[string][]float32, error)

	// State operations (key-value store for runtime state)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}
