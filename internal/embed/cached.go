package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of cached embeddings.
const DefaultCacheSize = 4096

// CachedEmbedder wraps an Embedder with an LRU cache keyed by text hash.
// Repeated queries skip the embedding call entirely.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]

	mu     sync.RWMutex
	hits   int64
	misses int64
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with an LRU cache of the given size.
// A size of 0 or less uses DefaultCacheSize.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns a cached embedding or delegates to the inner embedder.
// Cached vectors are copied on the way out so callers cannot mutate
// shared state.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)

	if vec, ok := e.cache.Get(key); ok {
		e.mu.Lock()
		e.hits++
		e.mu.Unlock()
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}

	e.mu.Lock()
	e.misses++
	e.mu.Unlock()

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	e.cache.Add(key, stored)

	return vec, nil
}

// EmbedBatch resolves cached entries and delegates the rest in one call.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var missing []int
	var missingTexts []string

	for i, text := range texts {
		if vec, ok := e.cache.Get(cacheKey(text)); ok {
			out := make([]float32, len(vec))
			copy(out, vec)
			results[i] = out
		} else {
			missing = append(missing, i)
			missingTexts = append(missingTexts, text)
		}
	}

	e.mu.Lock()
	e.hits += int64(len(texts) - len(missing))
	e.misses += int64(len(missing))
	e.mu.Unlock()

	if len(missing) == 0 {
		return results, nil
	}

	embedded, err := e.inner.EmbedBatch(ctx, missingTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missing {
		vec := embedded[j]
		stored := make([]float32, len(vec))
		copy(stored, vec)
		e.cache.Add(cacheKey(missingTexts[j]), stored)
		results[idx] = vec
	}

	return results, nil
}

// Stats returns cache hit and miss counts.
func (e *CachedEmbedder) Stats() (hits, misses int64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hits, e.misses
}

// Dimensions returns the inner embedder's dimension.
func (e *CachedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// ModelName returns the inner embedder's model identifier.
func (e *CachedEmbedder) ModelName() string {
	return e.inner.ModelName()
}

// Available delegates to the inner embedder.
func (e *CachedEmbedder) Available(ctx context.Context) bool {
	return e.inner.Available(ctx)
}

// Close purges the cache and closes the inner embedder.
func (e *CachedEmbedder) Close() error {
	e.cache.Purge()
	return e.inner.Close()
}
