package backend

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/coder/hnsw"

	qerrors "github.com/quarry-search/quarry/internal/errors"
)

// HNSWConfig configures the in-process vector backend.
type HNSWConfig struct {
	// Dimensions is the embedding dimension. Required.
	Dimensions int

	// M is the maximum neighbor count per node (default: 16).
	M int

	// EfSearch is the search candidate list size (default: 20).
	EfSearch int

	// Dir is where per-scope graphs are persisted. Empty keeps
	// everything in memory.
	Dir string
}

// HNSWBackend implements VectorBackend with one coder/hnsw graph per
// scope. Graphs are created lazily on first write or load.
type HNSWBackend struct {
	mu     sync.RWMutex
	config HNSWConfig
	graphs map[Scope]*scopedGraph
	closed bool
}

var _ VectorBackend = (*HNSWBackend)(nil)

// scopedGraph holds one scope's graph, its string-to-key mappings, and
// the filterable metadata of each live chunk.
type scopedGraph struct {
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	meta    map[string]map[string]string
	nextKey uint64
}

// hnswMetadata stores ID mappings for persistence.
type hnswMetadata struct {
	IDMap      map[string]uint64
	Meta       map[string]map[string]string
	NextKey    uint64
	Dimensions int
}

// NewHNSWBackend creates the backend and loads any persisted graphs from
// the configured directory.
func NewHNSWBackend(cfg HNSWConfig) (*HNSWBackend, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("hnsw: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	b := &HNSWBackend{
		config: cfg,
		graphs: make(map[Scope]*scopedGraph),
	}

	if cfg.Dir != "" {
		if err := b.loadAll(); err != nil {
			return nil, err
		}
	}

	return b, nil
}

func (b *HNSWBackend) newGraph() *scopedGraph {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = b.config.M
	g.EfSearch = b.config.EfSearch
	g.Ml = 0.25
	return &scopedGraph{
		graph:  g,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		meta:   make(map[string]map[string]string),
	}
}

// getOrCreate returns the scope's graph, creating it if needed.
// Caller must hold the write lock.
func (b *HNSWBackend) getOrCreate(scope Scope) *scopedGraph {
	if sg, ok := b.graphs[scope]; ok {
		return sg
	}
	sg := b.newGraph()
	b.graphs[scope] = sg
	return sg
}

// SearchVector returns the k nearest chunks within the scope. Metadata
// filters are applied after the graph search, so the candidate set is
// widened when filters are present.
func (b *HNSWBackend) SearchVector(ctx context.Context, scope Scope, vector []float32, filters map[string]string, limit int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(vector) != b.config.Dimensions {
		return nil, qerrors.New(qerrors.ErrCodeInternal,
			fmt.Sprintf("vector dimension mismatch: expected %d, got %d",
				b.config.Dimensions, len(vector)), nil)
	}

	sg, ok := b.graphs[scope]
	if !ok || sg.graph.Len() == 0 {
		return []Hit{}, nil
	}

	normalized := make([]float32, len(vector))
	copy(normalized, vector)
	normalizeInPlace(normalized)

	k := limit
	if len(filters) > 0 {
		k = limit * 4
	}
	nodes := sg.graph.Search(normalized, k)

	hits := make([]Hit, 0, len(nodes))
	for _, node := range nodes {
		id, exists := sg.keyMap[node.Key]
		if !exists {
			// Lazy-deleted node still in the graph.
			continue
		}
		if !matchesFilters(sg.meta[id], filters) {
			continue
		}
		distance := sg.graph.Distance(normalized, node.Value)
		// CosineDistance is 1 - similarity, so similarity is 1 - distance.
		hits = append(hits, Hit{ChunkID: id, Score: 1 - float64(distance)})
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

// AddVectors inserts or updates embeddings. Existing IDs are lazily
// deleted: the old node stays in the graph but is dropped from the
// mappings, because coder/hnsw breaks when the last node is deleted.
func (b *HNSWBackend) AddVectors(ctx context.Context, scope Scope, docs []VectorDoc) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, d := range docs {
		if len(d.Vector) != b.config.Dimensions {
			return qerrors.New(qerrors.ErrCodeInternal,
				fmt.Sprintf("vector dimension mismatch: expected %d, got %d",
					b.config.Dimensions, len(d.Vector)), nil)
		}
	}

	sg := b.getOrCreate(scope)
	for _, d := range docs {
		if existing, exists := sg.idMap[d.ID]; exists {
			delete(sg.keyMap, existing)
			delete(sg.idMap, d.ID)
		}

		key := sg.nextKey
		sg.nextKey++

		vec := make([]float32, len(d.Vector))
		copy(vec, d.Vector)
		normalizeInPlace(vec)

		sg.graph.Add(hnsw.MakeNode(key, vec))
		sg.idMap[d.ID] = key
		sg.keyMap[key] = d.ID
		if len(d.Metadata) > 0 {
			sg.meta[d.ID] = d.Metadata
		} else {
			delete(sg.meta, d.ID)
		}
	}

	return nil
}

// DeleteVectors lazily removes embeddings by chunk ID.
func (b *HNSWBackend) DeleteVectors(ctx context.Context, scope Scope, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("vector index is closed")
	}

	sg, ok := b.graphs[scope]
	if !ok {
		return nil
	}
	for _, id := range ids {
		if key, exists := sg.idMap[id]; exists {
			delete(sg.keyMap, key)
			delete(sg.idMap, id)
			delete(sg.meta, id)
		}
	}
	return nil
}

// Count returns the number of live vectors in a scope.
func (b *HNSWBackend) Count(scope Scope) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sg, ok := b.graphs[scope]
	if !ok {
		return 0
	}
	return len(sg.idMap)
}

// Save persists every scope's graph atomically (temp file plus rename).
func (b *HNSWBackend) Save() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("vector index is closed")
	}
	if b.config.Dir == "" {
		return nil
	}

	if err := os.MkdirAll(b.config.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	for scope, sg := range b.graphs {
		path := b.scopePath(scope)
		if err := saveGraph(path, sg, b.config.Dimensions); err != nil {
			return fmt.Errorf("failed to save graph for %s/%s: %w",
				scope.TenantID, scope.Collection, err)
		}
	}
	return nil
}

func (b *HNSWBackend) scopePath(scope Scope) string {
	name := fmt.Sprintf("%s__%s.hnsw", sanitize(scope.TenantID), sanitize(scope.Collection))
	return filepath.Join(b.config.Dir, name)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, s)
}

func saveGraph(path string, sg *scopedGraph, dims int) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	if err := sg.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	metaTmp := path + ".meta.tmp"
	metaFile, err := os.Create(metaTmp)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}
	meta := hnswMetadata{IDMap: sg.idMap, Meta: sg.meta, NextKey: sg.nextKey, Dimensions: dims}
	if err := gob.NewEncoder(metaFile).Encode(meta); err != nil {
		metaFile.Close()
		os.Remove(metaTmp)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := metaFile.Close(); err != nil {
		os.Remove(metaTmp)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(metaTmp, path+".meta")
}

// loadAll restores every persisted scope graph from the directory.
func (b *HNSWBackend) loadAll() error {
	entries, err := os.ReadDir(b.config.Dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".hnsw") {
			continue
		}
		base := strings.TrimSuffix(name, ".hnsw")
		tenant, collection, ok := strings.Cut(base, "__")
		if !ok {
			continue
		}

		sg, err := loadGraph(filepath.Join(b.config.Dir, name), b.newGraph(), b.config.Dimensions)
		if err != nil {
			return qerrors.New(qerrors.ErrCodeCorruptIndex,
				fmt.Sprintf("failed to load vector index %s", name), err).
				WithSuggestion("run 'quarry index' to rebuild the vector index")
		}
		b.graphs[Scope{TenantID: tenant, Collection: collection}] = sg
	}
	return nil
}

func loadGraph(path string, sg *scopedGraph, wantDims int) (*scopedGraph, error) {
	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return nil, fmt.Errorf("open metadata file: %w", err)
	}
	defer metaFile.Close()

	var meta hnswMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if meta.Dimensions != wantDims {
		return nil, fmt.Errorf("dimension mismatch: index has %d, embedder has %d",
			meta.Dimensions, wantDims)
	}

	sg.idMap = meta.IDMap
	sg.nextKey = meta.NextKey
	sg.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		sg.keyMap[key] = id
	}
	if meta.Meta != nil {
		sg.meta = meta.Meta
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := sg.graph.Import(bufio.NewReader(file)); err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}
	return sg, nil
}

// ScoreKind reports cosine similarity scores.
func (b *HNSWBackend) ScoreKind() ScoreKind {
	return ScoreSimilarity
}

// Name identifies the backend.
func (b *HNSWBackend) Name() string {
	return "hnsw"
}

// Close releases the graphs. Call Save first to persist.
func (b *HNSWBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.graphs = nil
	return nil
}

// normalizeInPlace normalizes a vector to unit length in place.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return
	}
	for i, val := range v {
		v[i] = float32(float64(val) / magnitude)
	}
}
