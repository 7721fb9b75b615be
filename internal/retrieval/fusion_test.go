package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normHits(pairs ...any) []NormalizedHit {
	hits := make([]NormalizedHit, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		hits = append(hits, NormalizedHit{
			ChunkID: pairs[i].(string),
			Score:   pairs[i+1].(float64),
			Rank:    len(hits),
		})
	}
	return hits
}

func fusedIDs(hits []FusedHit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	return ids
}

func TestFuseWeightedBothSourcesWin(t *testing.T) {
	vec := normHits("A", 0.9, "B", 0.7, "C", 0.5)
	kw := normHits("B", 0.8, "C", 0.6, "D", 0.4)

	fused := fuseWeighted(vec, kw, 0.5)

	require.Len(t, fused, 4)
	assert.Equal(t, "B", fused[0].ChunkID)
	assert.InDelta(t, 0.75, fused[0].Score, 1e-9)
	assert.True(t, fused[0].InVector)
	assert.True(t, fused[0].InKeyword)
}

func TestFuseWeightedAlphaOneMatchesVector(t *testing.T) {
	vec := normHits("A", 0.9, "B", 0.7, "C", 0.5)
	kw := normHits("D", 1.0, "B", 0.6)

	fused := fuseWeighted(vec, kw, 1.0)

	// Keyword-only docs score 0 and sink below every vector hit.
	assert.Equal(t, []string{"A", "B", "C", "D"}, fusedIDs(fused))
	assert.InDelta(t, 0.9, fused[0].Score, 1e-9)
}

func TestFuseWeightedAlphaZeroMatchesKeyword(t *testing.T) {
	vec := normHits("A", 0.9, "B", 0.7)
	kw := normHits("C", 1.0, "B", 0.6, "E", 0.3)

	fused := fuseWeighted(vec, kw, 0.0)

	assert.Equal(t, []string{"C", "B", "E", "A"}, fusedIDs(fused))
}

func TestFuseWeightedMissingSourceContributesZero(t *testing.T) {
	vec := normHits("A", 1.0)
	kw := normHits("B", 1.0)

	fused := fuseWeighted(vec, kw, 0.7)

	require.Len(t, fused, 2)
	assert.Equal(t, "A", fused[0].ChunkID)
	assert.InDelta(t, 0.7, fused[0].Score, 1e-9)
	assert.InDelta(t, 0.3, fused[1].Score, 1e-9)
}

func TestFuseRRFBothSourcesOutrankSingle(t *testing.T) {
	// X appears in both lists at ranks 2 and 3; Y appears only in the
	// vector list at rank 0. X must still accumulate both terms.
	vec := normHits("Y", 0.99, "M", 0.8, "X", 0.7)
	kw := normHits("P", 0.9, "Q", 0.8, "R", 0.7, "X", 0.6)

	fused := fuseRRF(vec, kw, 60)

	var x, m FusedHit
	for _, h := range fused {
		switch h.ChunkID {
		case "X":
			x = h
		case "M":
			m = h
		}
	}
	// X at ranks (2,3) beats M at vector rank 1 alone.
	assert.Less(t, x.Rank, m.Rank)
	assert.True(t, x.InVector)
	assert.True(t, x.InKeyword)
}

func TestFuseRRFTopScoreIsOne(t *testing.T) {
	vec := normHits("A", 0.9, "B", 0.7)
	kw := normHits("A", 0.8, "C", 0.6)

	fused := fuseRRF(vec, kw, 60)

	require.NotEmpty(t, fused)
	assert.Equal(t, "A", fused[0].ChunkID)
	assert.InDelta(t, 1.0, fused[0].Score, 1e-9)
	for i := 1; i < len(fused); i++ {
		assert.LessOrEqual(t, fused[i].Score, fused[i-1].Score)
	}
}

func TestFuseRRFZeroBasedRanks(t *testing.T) {
	vec := normHits("A", 0.9)
	kw := normHits("A", 0.8)

	fused := fuseRRF(vec, kw, 60)

	require.Len(t, fused, 1)
	// Before normalization: 1/60 + 1/60. Normalization scales it to 1.
	assert.InDelta(t, 1.0, fused[0].Score, 1e-9)
	assert.Equal(t, 0, fused[0].VectorRank)
	assert.Equal(t, 0, fused[0].KeywordRank)
}

func TestFuseTieBreaks(t *testing.T) {
	// A and B end with the same fused score. B is in both sources and
	// must rank first.
	vec := normHits("A", 0.8, "B", 0.4)
	kw := normHits("B", 0.4)

	fused := fuseWeighted(vec, kw, 0.5)

	require.Len(t, fused, 2)
	assert.InDelta(t, fused[0].Score, fused[1].Score, 1e-9)
	assert.Equal(t, "B", fused[0].ChunkID)
}

func TestFuseTieBreakByChunkID(t *testing.T) {
	vec := normHits("B", 0.5, "A", 0.5)
	kw := []NormalizedHit{}

	fused := fuseWeighted(vec, kw, 1.0)

	require.Len(t, fused, 2)
	// Equal score, both vector-only. Rank 0 vs 1 breaks the tie first.
	assert.Equal(t, "B", fused[0].ChunkID)

	// With identical ranks the chunk ID decides.
	vec2 := []NormalizedHit{
		{ChunkID: "z", Score: 0.5, Rank: 0},
	}
	kw2 := []NormalizedHit{
		{ChunkID: "a", Score: 0.5, Rank: 0},
	}
	fused2 := fuseWeighted(vec2, kw2, 0.5)
	require.Len(t, fused2, 2)
	assert.Equal(t, "a", fused2[0].ChunkID)
}

func TestFuseEmptyInputs(t *testing.T) {
	assert.Empty(t, fuseWeighted(nil, nil, 0.5))
	assert.Empty(t, fuseRRF(nil, nil, 60))

	fused := fuseWeighted(normHits("A", 0.9), nil, 0.5)
	require.Len(t, fused, 1)
	assert.Equal(t, "A", fused[0].ChunkID)
}

func TestFuseAssignsSequentialRanks(t *testing.T) {
	vec := normHits("A", 0.9, "B", 0.7, "C", 0.5)
	kw := normHits("D", 0.8)

	fused := fuseWeighted(vec, kw, 0.5)
	for i, h := range fused {
		assert.Equal(t, i, h.Rank)
	}
}
