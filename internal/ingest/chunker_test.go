package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerEmptyContent(t *testing.T) {
	c := NewChunker(ChunkerOptions{})

	assert.Nil(t, c.Chunk("doc", ""))
	assert.Nil(t, c.Chunk("doc", "   \n\n  "))
}

func TestChunkerSmallContentSinglePiece(t *testing.T) {
	c := NewChunker(ChunkerOptions{})

	pieces := c.Chunk("doc", "a short document")

	require.Len(t, pieces, 1)
	assert.Equal(t, "a short document", pieces[0].Content)
	assert.Equal(t, 0, pieces[0].Position)
	assert.Len(t, pieces[0].ID, 16)
}

func TestChunkerGroupsParagraphs(t *testing.T) {
	c := NewChunker(ChunkerOptions{MaxChunkTokens: 10, OverlapTokens: 2})

	content := "first paragraph here\n\nsecond one\n\n" +
		strings.Repeat("x", 100) + "\n\nlast"
	pieces := c.Chunk("doc", content)

	require.GreaterOrEqual(t, len(pieces), 3)
	// Small neighbors group together, the oversized paragraph stands
	// alone in its own windows.
	assert.Contains(t, pieces[0].Content, "first paragraph here")
	for i, p := range pieces {
		assert.Equal(t, i, p.Position)
		assert.NotEmpty(t, p.Content)
	}
}

func TestChunkerWindowsOversizedParagraph(t *testing.T) {
	c := NewChunker(ChunkerOptions{MaxChunkTokens: 5, OverlapTokens: 1})

	words := strings.Repeat("word ", 50)
	pieces := c.Chunk("doc", words)

	require.Greater(t, len(pieces), 1)
	for _, p := range pieces {
		assert.LessOrEqual(t, len(p.Content), 5*charsPerToken)
		// Breaks land on whitespace so words stay whole.
		assert.False(t, strings.HasPrefix(p.Content, "ord"), "split mid-word: %q", p.Content)
	}
}

func TestChunkerDeterministicIDs(t *testing.T) {
	c := NewChunker(ChunkerOptions{})

	first := c.Chunk("doc-1", "some content\n\nmore content")
	second := c.Chunk("doc-1", "some content\n\nmore content")
	other := c.Chunk("doc-2", "some content\n\nmore content")

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
	assert.NotEqual(t, first[0].ID, other[0].ID)
}

func TestChunkerOverlapClamped(t *testing.T) {
	// Overlap larger than the chunk size must not hang the windowing.
	c := NewChunker(ChunkerOptions{MaxChunkTokens: 4, OverlapTokens: 100})

	pieces := c.Chunk("doc", strings.Repeat("word ", 40))
	assert.NotEmpty(t, pieces)
}
