// Package backend defines the search backend contracts and their
// implementations: Bleve and Postgres full-text for keyword search, HNSW,
// Qdrant, and pgvector for vector search.
package backend

import (
	"context"
)

// ScoreKind describes the score range a backend produces, which decides
// how scores are normalized before fusion.
type ScoreKind string

const (
	// ScoreUnbounded means scores have no fixed upper bound (BM25,
	// ts_rank). Normalized per result set with min-max scaling.
	ScoreUnbounded ScoreKind = "unbounded"

	// ScoreSimilarity means scores are cosine similarities in [-1, 1].
	// Normalized with a fixed affine map, no per-set rescaling.
	ScoreSimilarity ScoreKind = "similarity"
)

// Scope identifies the tenant and collection a search runs against.
// Results never cross scope boundaries.
type Scope struct {
	TenantID   string
	Collection string
}

// Hit is a raw backend result before normalization.
type Hit struct {
	ChunkID string
	Score   float64
}

// Doc is a chunk handed to a keyword backend for indexing. Metadata
// holds the filterable attributes of the chunk.
type Doc struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// VectorDoc is a chunk embedding handed to a vector backend.
type VectorDoc struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// matchesFilters reports whether metadata satisfies every filter
// predicate. Filters are exact-match conjunctions.
func matchesFilters(metadata, filters map[string]string) bool {
	for k, v := range filters {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// KeywordBackend runs lexical search over indexed chunks.
type KeywordBackend interface {
	// SearchKeyword runs the query (plus expansion terms, already merged
	// into the query string by the caller) and returns up to limit hits
	// in descending score order. Filters restrict hits to chunks whose
	// metadata matches every predicate.
	SearchKeyword(ctx context.Context, scope Scope, query string, filters map[string]string, limit int) ([]Hit, error)

	// IndexChunks adds or updates chunks.
	IndexChunks(ctx context.Context, scope Scope, docs []Doc) error

	// DeleteChunks removes chunks by ID.
	DeleteChunks(ctx context.Context, scope Scope, ids []string) error

	// ScoreKind reports the score range this backend produces.
	ScoreKind() ScoreKind

	// Name identifies the backend in logs and warnings.
	Name() string

	Close() error
}

// VectorBackend runs nearest-neighbor search over embedded chunks.
type VectorBackend interface {
	// SearchVector returns up to limit nearest chunks, scores descending.
	// Filters restrict hits to chunks whose metadata matches every
	// predicate.
	SearchVector(ctx context.Context, scope Scope, vector []float32, filters map[string]string, limit int) ([]Hit, error)

	// AddVectors adds or updates chunk embeddings.
	AddVectors(ctx context.Context, scope Scope, docs []VectorDoc) error

	// DeleteVectors removes embeddings by chunk ID.
	DeleteVectors(ctx context.Context, scope Scope, ids []string) error

	// ScoreKind reports the score range this backend produces.
	ScoreKind() ScoreKind

	// Name identifies the backend in logs and warnings.
	Name() string

	Close() error
}
