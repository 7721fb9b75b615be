package embed

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder counts Embed calls for cache verification.
type countingEmbedder struct {
	*StaticEmbedder
	mu    sync.Mutex
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls += len(texts)
	c.mu.Unlock()
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestCachedEmbedderHit(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	e, err := NewCachedEmbedder(inner, 16)
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	v1, err := e.Embed(ctx, "cache me")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "cache me")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.callCount())

	hits, misses := e.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCachedEmbedderCopyIsolation(t *testing.T) {
	inner := NewStaticEmbedder()
	e, err := NewCachedEmbedder(inner, 16)
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	v1, err := e.Embed(ctx, "isolate")
	require.NoError(t, err)
	v1[0] = 42

	v2, err := e.Embed(ctx, "isolate")
	require.NoError(t, err)
	assert.NotEqual(t, float32(42), v2[0])
}

func TestCachedEmbedderBatchPartialHit(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	e, err := NewCachedEmbedder(inner, 16)
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	_, err = e.Embed(ctx, "warm")
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(ctx, []string{"warm", "cold"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	// Only "cold" should reach the inner embedder in the batch call.
	assert.Equal(t, 2, inner.callCount())
}

func TestCachedEmbedderDelegates(t *testing.T) {
	inner := NewStaticEmbedder()
	e, err := NewCachedEmbedder(inner, 16)
	require.NoError(t, err)

	assert.Equal(t, StaticDimensions, e.Dimensions())
	assert.Equal(t, "static", e.ModelName())
	assert.True(t, e.Available(context.Background()))
	require.NoError(t, e.Close())
	assert.False(t, e.Available(context.Background()))
}
