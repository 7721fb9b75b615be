package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	qerrors "github.com/quarry-search/quarry/internal/errors"
)

// BleveBackend implements KeywordBackend using Bleve's BM25 scoring.
// Tenant and collection are stored as keyword fields and enforced with
// term filters on every query.
type BleveBackend struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ KeywordBackend = (*BleveBackend)(nil)

// bleveDoc is the indexed document shape. Metadata fields are mapped
// dynamically under the keyword analyzer so filters match exactly.
type bleveDoc struct {
	Content    string            `json:"content"`
	TenantID   string            `json:"tenant_id"`
	Collection string            `json:"collection"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewBleveBackend opens or creates a Bleve index at path. An empty path
// creates an in-memory index for testing. Corrupt on-disk indexes are
// cleared and recreated; a reindex is required afterwards.
func NewBleveBackend(path string) (*BleveBackend, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("keyword_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, qerrors.New(qerrors.ErrCodeCorruptIndex,
					"keyword index corrupted and cannot be cleared", removeErr)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("keyword_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, qerrors.New(qerrors.ErrCodeCorruptIndex,
					"keyword index corrupted and cannot be cleared", removeErr)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open keyword index: %w", err)
	}

	return &BleveBackend{index: idx, path: path}, nil
}

// createIndexMapping maps content through the standard analyzer and the
// scope fields through the keyword analyzer so they match exactly.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name

	tenantField := bleve.NewTextFieldMapping()
	tenantField.Analyzer = keyword.Name
	tenantField.IncludeInAll = false

	collectionField := bleve.NewTextFieldMapping()
	collectionField.Analyzer = keyword.Name
	collectionField.IncludeInAll = false

	// Metadata keys are caller-defined, so the sub-document stays dynamic
	// with the keyword analyzer as its default.
	metadataMapping := bleve.NewDocumentMapping()
	metadataMapping.DefaultAnalyzer = keyword.Name

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", contentField)
	docMapping.AddFieldMappingsAt("tenant_id", tenantField)
	docMapping.AddFieldMappingsAt("collection", collectionField)
	docMapping.AddSubDocumentMapping("metadata", metadataMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping, nil
}

// validateIndexIntegrity checks a Bleve index directory before opening.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

// isCorruptionError checks if an error indicates Bleve index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// SearchKeyword runs a BM25 match query filtered to the scope and any
// metadata predicates.
func (b *BleveBackend) SearchKeyword(ctx context.Context, scope Scope, queryStr string, filters map[string]string, limit int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []Hit{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	tenantQuery := bleve.NewTermQuery(scope.TenantID)
	tenantQuery.SetField("tenant_id")
	collectionQuery := bleve.NewTermQuery(scope.Collection)
	collectionQuery.SetField("collection")

	boolQuery := bleve.NewBooleanQuery()
	boolQuery.AddMust(matchQuery, tenantQuery, collectionQuery)

	for key, value := range filters {
		fq := bleve.NewTermQuery(value)
		fq.SetField("metadata." + key)
		boolQuery.AddMust(fq)
	}

	req := bleve.NewSearchRequest(boolQuery)
	req.Size = limit

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, qerrors.BackendError("keyword search failed", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, Hit{ChunkID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

// IndexChunks adds or updates chunks in one batch.
func (b *BleveBackend) IndexChunks(ctx context.Context, scope Scope, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		bd := bleveDoc{
			Content:    doc.Content,
			TenantID:   scope.TenantID,
			Collection: scope.Collection,
			Metadata:   doc.Metadata,
		}
		if err := batch.Index(doc.ID, bd); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", doc.ID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return qerrors.BackendError("failed to execute index batch", err)
	}
	return nil
}

// DeleteChunks removes chunks by ID.
func (b *BleveBackend) DeleteChunks(ctx context.Context, _ Scope, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return qerrors.BackendError("failed to delete chunks", err)
	}
	return nil
}

// DocCount returns the number of indexed chunks across all scopes.
func (b *BleveBackend) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, fmt.Errorf("keyword index is closed")
	}
	return b.index.DocCount()
}

// ScoreKind reports BM25 scores as unbounded.
func (b *BleveBackend) ScoreKind() ScoreKind {
	return ScoreUnbounded
}

// Name identifies the backend.
func (b *BleveBackend) Name() string {
	return "bleve"
}

// Close closes the underlying index.
func (b *BleveBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
