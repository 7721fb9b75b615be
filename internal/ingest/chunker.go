// Package ingest splits documents into chunks and feeds them through the
// metadata store and the search backends.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Chunk size defaults, sized in approximate tokens.
const (
	DefaultMaxChunkTokens = 512
	DefaultOverlapTokens  = 64

	// charsPerToken is the rough character-to-token ratio used to size
	// chunks without a real tokenizer.
	charsPerToken = 4
)

// Piece is one chunk of a document before persistence.
type Piece struct {
	ID       string
	Content  string
	Position int
}

// ChunkerOptions configures the splitter.
type ChunkerOptions struct {
	MaxChunkTokens int
	OverlapTokens  int
}

// Chunker splits text on paragraph boundaries where possible, falling
// back to fixed windows with overlap for oversized paragraphs.
type Chunker struct {
	maxChars     int
	overlapChars int
}

// NewChunker creates a chunker. Zero options take the defaults.
func NewChunker(opts ChunkerOptions) *Chunker {
	if opts.MaxChunkTokens <= 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens < 0 {
		opts.OverlapTokens = 0
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	if opts.OverlapTokens >= opts.MaxChunkTokens {
		opts.OverlapTokens = opts.MaxChunkTokens / 4
	}
	return &Chunker{
		maxChars:     opts.MaxChunkTokens * charsPerToken,
		overlapChars: opts.OverlapTokens * charsPerToken,
	}
}

// Chunk splits content into pieces. Source seeds the chunk IDs so the
// same document always produces the same IDs.
func (c *Chunker) Chunk(source, content string) []Piece {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	var pieces []Piece
	for _, segment := range c.split(content) {
		pieces = append(pieces, Piece{
			ID:       chunkID(source, len(pieces)),
			Content:  segment,
			Position: len(pieces),
		})
	}
	return pieces
}

// split groups paragraphs up to the size limit, windowing any single
// paragraph that exceeds it.
func (c *Chunker) split(content string) []string {
	paragraphs := strings.Split(content, "\n\n")

	var segments []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			segments = append(segments, s)
		}
		current.Reset()
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		if len(p) > c.maxChars {
			flush()
			segments = append(segments, c.window(p)...)
			continue
		}

		if current.Len() > 0 && current.Len()+len(p)+2 > c.maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()

	return segments
}

// window slices an oversized paragraph into fixed overlapping spans,
// preferring to break at whitespace near the boundary.
func (c *Chunker) window(text string) []string {
	var out []string
	step := c.maxChars - c.overlapChars

	for start := 0; start < len(text); start += step {
		end := start + c.maxChars
		if end >= len(text) {
			out = append(out, strings.TrimSpace(text[start:]))
			break
		}

		// Back up to the nearest space so words stay whole.
		cut := end
		for cut > start && text[cut] != ' ' && text[cut] != '\n' {
			cut--
		}
		if cut == start {
			cut = end
		}
		out = append(out, strings.TrimSpace(text[start:cut]))
	}
	return out
}

func chunkID(source string, position int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", source, position)))
	return hex.EncodeToString(sum[:])[:16]
}
