package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHNSW(t *testing.T, dir string) *HNSWBackend {
	t.Helper()
	b, err := NewHNSWBackend(HNSWConfig{Dimensions: 3, Dir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func seedVectors(t *testing.T, b *HNSWBackend, scope Scope) {
	t.Helper()
	require.NoError(t, b.AddVectors(context.Background(), scope, []VectorDoc{
		{ID: "v1", Vector: []float32{1, 0, 0}},
		{ID: "v2", Vector: []float32{0, 1, 0}},
		{ID: "v3", Vector: []float32{0.9, 0.1, 0}},
	}))
}

func TestHNSWSearchNearest(t *testing.T) {
	b := newTestHNSW(t, "")
	seedVectors(t, b, testScope)

	hits, err := b.SearchVector(context.Background(), testScope, []float32{1, 0, 0}, nil, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "v1", hits[0].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	assert.Equal(t, "v3", hits[1].ChunkID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestHNSWScopeIsolation(t *testing.T) {
	b := newTestHNSW(t, "")
	seedVectors(t, b, testScope)

	other := Scope{TenantID: "globex", Collection: "docs"}
	hits, err := b.SearchVector(context.Background(), other, []float32{1, 0, 0}, nil, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestHNSWDimensionMismatch(t *testing.T) {
	b := newTestHNSW(t, "")

	_, err := b.SearchVector(context.Background(), testScope, []float32{1, 0}, nil, 5)
	assert.Error(t, err)

	err = b.AddVectors(context.Background(), testScope, []VectorDoc{{ID: "x", Vector: []float32{1, 0}}})
	assert.Error(t, err)
}

func TestHNSWUpdateReplacesVector(t *testing.T) {
	b := newTestHNSW(t, "")
	ctx := context.Background()
	seedVectors(t, b, testScope)

	require.NoError(t, b.AddVectors(ctx, testScope, []VectorDoc{{ID: "v2", Vector: []float32{1, 0, 0}}}))

	hits, err := b.SearchVector(ctx, testScope, []float32{1, 0, 0}, nil, 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	found := false
	for _, h := range hits {
		if h.ChunkID == "v2" {
			found = true
			assert.InDelta(t, 1.0, h.Score, 1e-5)
		}
	}
	assert.True(t, found)
	assert.Equal(t, 3, b.Count(testScope))
}

func TestHNSWDelete(t *testing.T) {
	b := newTestHNSW(t, "")
	ctx := context.Background()
	seedVectors(t, b, testScope)

	require.NoError(t, b.DeleteVectors(ctx, testScope, []string{"v1"}))
	assert.Equal(t, 2, b.Count(testScope))

	hits, err := b.SearchVector(ctx, testScope, []float32{1, 0, 0}, nil, 5)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "v1", h.ChunkID)
	}
}

func TestHNSWSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := NewHNSWBackend(HNSWConfig{Dimensions: 3, Dir: dir})
	require.NoError(t, err)
	seedVectors(t, b, testScope)
	require.NoError(t, b.Save())
	require.NoError(t, b.Close())

	reloaded, err := NewHNSWBackend(HNSWConfig{Dimensions: 3, Dir: dir})
	require.NoError(t, err)
	defer reloaded.Close()

	assert.Equal(t, 3, reloaded.Count(testScope))
	hits, err := reloaded.SearchVector(ctx, testScope, []float32{0, 1, 0}, nil, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "v2", hits[0].ChunkID)
}

func TestHNSWReloadDimensionMismatch(t *testing.T) {
	dir := t.TempDir()

	b, err := NewHNSWBackend(HNSWConfig{Dimensions: 3, Dir: dir})
	require.NoError(t, err)
	seedVectors(t, b, testScope)
	require.NoError(t, b.Save())
	require.NoError(t, b.Close())

	_, err = NewHNSWBackend(HNSWConfig{Dimensions: 8, Dir: dir})
	assert.Error(t, err)
}

func TestHNSWMetadataFilter(t *testing.T) {
	b := newTestHNSW(t, "")
	ctx := context.Background()

	require.NoError(t, b.AddVectors(ctx, testScope, []VectorDoc{
		{ID: "m1", Vector: []float32{1, 0, 0}, Metadata: map[string]string{"ext": "md"}},
		{ID: "m2", Vector: []float32{0.9, 0.1, 0}, Metadata: map[string]string{"ext": "txt"}},
		{ID: "m3", Vector: []float32{0.8, 0.2, 0}, Metadata: map[string]string{"ext": "md"}},
	}))

	hits, err := b.SearchVector(ctx, testScope, []float32{1, 0, 0}, map[string]string{"ext": "md"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.NotEqual(t, "m2", h.ChunkID)
	}

	hits, err = b.SearchVector(ctx, testScope, []float32{1, 0, 0},
		map[string]string{"ext": "pdf"}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestHNSWMetadataFilterSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := NewHNSWBackend(HNSWConfig{Dimensions: 3, Dir: dir})
	require.NoError(t, err)
	require.NoError(t, b.AddVectors(ctx, testScope, []VectorDoc{
		{ID: "m1", Vector: []float32{1, 0, 0}, Metadata: map[string]string{"ext": "md"}},
		{ID: "m2", Vector: []float32{0, 1, 0}, Metadata: map[string]string{"ext": "txt"}},
	}))
	require.NoError(t, b.Save())
	require.NoError(t, b.Close())

	reloaded, err := NewHNSWBackend(HNSWConfig{Dimensions: 3, Dir: dir})
	require.NoError(t, err)
	defer reloaded.Close()

	hits, err := reloaded.SearchVector(ctx, testScope, []float32{1, 0, 0},
		map[string]string{"ext": "txt"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "m2", hits[0].ChunkID)
}

func TestHNSWScoreKind(t *testing.T) {
	b := newTestHNSW(t, "")
	assert.Equal(t, ScoreSimilarity, b.ScoreKind())
	assert.Equal(t, "hnsw", b.Name())
}
