// Package retrieval implements the hybrid retrieval pipeline: query
// normalization, expansion, parallel backend dispatch, score
// normalization, fusion, relevance cutoff, and result caching.
package retrieval

import (
	"time"

	"github.com/quarry-search/quarry/internal/config"
)

// Source tags which backend produced a hit.
type Source string

const (
	SourceVector  Source = "vector"
	SourceKeyword Source = "keyword"
)

// Query is a single retrieval request. Immutable once constructed.
type Query struct {
	TenantID   string
	Collection string
	Text       string

	// TopK is the requested result count. Zero means the configured
	// default.
	TopK int

	// Alpha overrides adaptive weighting when non-nil. Must be in [0,1].
	Alpha *float64

	// Filters are exact-match metadata predicates. Both backends apply
	// them, and they participate in the cache key.
	Filters map[string]string
}

// ExpandedQuery is a Query plus its normalized text and expansion terms.
// Expansion terms are additive hints and never replace the original text.
type ExpandedQuery struct {
	Query

	// NormalizedText is the trimmed, lowercased text used for cache keys
	// and adaptive weighting. Backends receive the original casing.
	NormalizedText string

	// Terms are expansion terms in service confidence order, possibly
	// empty.
	Terms []string
}

// RawHit is one backend result before normalization.
type RawHit struct {
	ChunkID string
	Score   float64
	Source  Source
	Rank    int // backend-returned position, 0 = best
}

// NormalizedHit is a RawHit with its score rescaled to [0,1].
type NormalizedHit struct {
	ChunkID string
	Score   float64
	Source  Source
	Rank    int
}

// FusedHit is one entry of the final ranked list.
type FusedHit struct {
	ChunkID string
	Score   float64

	// InVector and InKeyword record which sources contributed.
	InVector  bool
	InKeyword bool

	// VectorScore and KeywordScore are the normalized per-source scores
	// (zero when the source did not return the chunk).
	VectorScore  float64
	KeywordScore float64

	// VectorRank and KeywordRank are 0-based source ranks, -1 when absent.
	VectorRank  int
	KeywordRank int

	// Rank is the final 0-based position after fusion and cutoff.
	Rank int
}

// Result is the outcome of one retrieve operation.
type Result struct {
	Hits []FusedHit

	// AlphaUsed is the interpolation weight actually applied. For the
	// RRF policy it is recorded for diagnostics but unused in scoring.
	AlphaUsed float64

	// Policy is the fusion policy that produced the ranking.
	Policy config.FusionPolicy

	// CutoffApplied is the number of trailing hits the relevance cutoff
	// dropped.
	CutoffApplied int

	// CacheHit is true when the result was served from the cache.
	CacheHit bool

	// Degraded is true when one backend failed and the result was built
	// from the survivor alone.
	Degraded bool

	// Warnings carries non-fatal conditions such as a partial backend
	// failure or a skipped expansion.
	Warnings []string

	// Took is the wall time of the retrieve operation.
	Took time.Duration
}

// Clone returns a deep copy so cached results and caller-owned results
// never share mutable state.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Hits = make([]FusedHit, len(r.Hits))
	copy(out.Hits, r.Hits)
	if r.Warnings != nil {
		out.Warnings = make([]string, len(r.Warnings))
		copy(out.Warnings, r.Warnings)
	}
	return &out
}

// WarnPartialBackendFailure marks results built from a single surviving
// backend.
const WarnPartialBackendFailure = "partial_backend_failure"

// WarnExpansionSkipped marks results produced without expansion terms
// after the expansion service failed or timed out.
const WarnExpansionSkipped = "expansion_skipped"
