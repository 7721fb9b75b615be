package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quarry-search/quarry/internal/backend"
	"github.com/quarry-search/quarry/internal/embed"
	qerrors "github.com/quarry-search/quarry/internal/errors"
	"github.com/quarry-search/quarry/internal/store"
)

// indexableExtensions lists the file types quarry index accepts.
var indexableExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".rst":      true,
}

// Indexer feeds documents into the metadata store and both search
// backends.
type Indexer struct {
	store    store.MetadataStore
	keyword  backend.KeywordBackend
	vector   backend.VectorBackend
	embedder embed.Embedder
	chunker  *Chunker
}

// NewIndexer wires an indexer over the given components.
func NewIndexer(meta store.MetadataStore, kw backend.KeywordBackend, vec backend.VectorBackend, embedder embed.Embedder, chunker *Chunker) *Indexer {
	if chunker == nil {
		chunker = NewChunker(ChunkerOptions{})
	}
	return &Indexer{
		store:    meta,
		keyword:  kw,
		vector:   vec,
		embedder: embedder,
		chunker:  chunker,
	}
}

// Stats summarizes one indexing run.
type Stats struct {
	Documents int
	Chunks    int
	Skipped   int
	Took      time.Duration
}

// IndexPath indexes a file, or every indexable file under a directory.
func (ix *Indexer) IndexPath(ctx context.Context, scope backend.Scope, path string) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}

	info, err := os.Stat(path)
	if err != nil {
		return nil, qerrors.StoreError("cannot read index path", err)
	}

	var files []string
	if info.IsDir() {
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && p != path {
					return filepath.SkipDir
				}
				return nil
			}
			if indexableExtensions[strings.ToLower(filepath.Ext(p))] {
				files = append(files, p)
			} else {
				stats.Skipped++
			}
			return nil
		})
		if err != nil {
			return nil, qerrors.StoreError("directory walk failed", err)
		}
	} else {
		files = []string{path}
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunks, err := ix.indexFile(ctx, scope, f)
		if err != nil {
			return nil, err
		}
		if chunks == 0 {
			stats.Skipped++
			continue
		}
		stats.Documents++
		stats.Chunks += chunks
	}

	stats.Took = time.Since(start)
	slog.Info("indexing complete",
		slog.String("tenant", scope.TenantID),
		slog.String("collection", scope.Collection),
		slog.Int("documents", stats.Documents),
		slog.Int("chunks", stats.Chunks),
		slog.Int("skipped", stats.Skipped),
		slog.Duration("took", stats.Took))
	return stats, nil
}

func (ix *Indexer) indexFile(ctx context.Context, scope backend.Scope, path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, qerrors.StoreError(fmt.Sprintf("cannot read %s", path), err)
	}
	return ix.IndexDocument(ctx, scope, path, string(content))
}

// IndexDocument chunks content, persists metadata, and pushes the chunks
// into both backends. Re-indexing the same source replaces its previous
// chunks. Returns the chunk count.
func (ix *Indexer) IndexDocument(ctx context.Context, scope backend.Scope, source, content string) (int, error) {
	docID := DocumentID(scope, source)
	pieces := ix.chunker.Chunk(docID, content)
	if len(pieces) == 0 {
		return 0, nil
	}

	if err := ix.removeStaleChunks(ctx, scope, docID); err != nil {
		return 0, err
	}

	now := time.Now()
	doc := &store.Document{
		ID:         docID,
		TenantID:   scope.TenantID,
		Collection: scope.Collection,
		Source:     source,
		Title:      filepath.Base(source),
		SizeBytes:  int64(len(content)),
		ChunkCount: len(pieces),
		IndexedAt:  now,
	}
	if err := ix.store.SaveDocument(ctx, doc); err != nil {
		return 0, err
	}

	meta := sourceMetadata(source)
	chunks := make([]*store.Chunk, len(pieces))
	docs := make([]backend.Doc, len(pieces))
	texts := make([]string, len(pieces))
	ids := make([]string, len(pieces))
	for i, p := range pieces {
		chunks[i] = &store.Chunk{
			ID:         p.ID,
			DocumentID: docID,
			TenantID:   scope.TenantID,
			Collection: scope.Collection,
			Content:    p.Content,
			Position:   p.Position,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		docs[i] = backend.Doc{ID: p.ID, Content: p.Content, Metadata: meta}
		texts[i] = p.Content
		ids[i] = p.ID
	}

	if err := ix.store.SaveChunks(ctx, chunks); err != nil {
		return 0, err
	}
	if err := ix.keyword.IndexChunks(ctx, scope, docs); err != nil {
		return 0, err
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, qerrors.New(qerrors.ErrCodeEmbeddingFailed, "embedding chunks failed", err)
	}
	vdocs := make([]backend.VectorDoc, len(pieces))
	for i, id := range ids {
		vdocs[i] = backend.VectorDoc{ID: id, Vector: vectors[i], Metadata: meta}
	}
	if err := ix.vector.AddVectors(ctx, scope, vdocs); err != nil {
		return 0, err
	}
	if err := ix.store.SaveChunkEmbeddings(ctx, ids, vectors, ix.embedder.ModelName()); err != nil {
		return 0, err
	}

	return len(pieces), nil
}

// RemoveDocument deletes a document and its chunks from the store and
// both backends.
func (ix *Indexer) RemoveDocument(ctx context.Context, scope backend.Scope, source string) error {
	docID := DocumentID(scope, source)
	if err := ix.removeStaleChunks(ctx, scope, docID); err != nil {
		return err
	}
	return ix.store.DeleteDocument(ctx, docID)
}

func (ix *Indexer) removeStaleChunks(ctx context.Context, scope backend.Scope, docID string) error {
	stale, err := ix.store.GetChunksByDocument(ctx, docID)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	ids := make([]string, len(stale))
	for i, c := range stale {
		ids[i] = c.ID
	}
	if err := ix.keyword.DeleteChunks(ctx, scope, ids); err != nil {
		return err
	}
	if err := ix.vector.DeleteVectors(ctx, scope, ids); err != nil {
		return err
	}
	return ix.store.DeleteChunksByDocument(ctx, docID)
}

// sourceMetadata derives the filterable attributes of a document's
// chunks from its source path.
func sourceMetadata(source string) map[string]string {
	meta := map[string]string{"source": source}
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(source)), "."); ext != "" {
		meta["ext"] = ext
	}
	return meta
}

// DocumentID derives a stable document ID from scope and source.
func DocumentID(scope backend.Scope, source string) string {
	sum := sha256.Sum256([]byte(scope.TenantID + "|" + scope.Collection + "|" + source))
	return hex.EncodeToString(sum[:])
}
