package retrieval

import (
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is
// empirically validated across domains (used by Azure AI Search,
// OpenSearch, and others).
const DefaultRRFConstant = 60

// fuseWeighted merges the two normalized lists with linear interpolation:
//
//	score(d) = alpha*vector_score(d) + (1-alpha)*keyword_score(d)
//
// A document missing from one side contributes 0 for that side.
func fuseWeighted(vec, kw []NormalizedHit, alpha float64) []FusedHit {
	merged := mergeHits(vec, kw)
	for _, h := range merged {
		h.Score = alpha*h.VectorScore + (1-alpha)*h.KeywordScore
	}
	return sortFused(merged)
}

// fuseRRF merges the two lists by Reciprocal Rank Fusion:
//
//	RRF(d) = sum over sources containing d of 1/(k + rank(d))
//
// with 0-based ranks. Documents present in both lists accumulate both
// terms, which is what makes RRF favor cross-source agreement. Scores
// are scaled so the top hit is 1.0.
func fuseRRF(vec, kw []NormalizedHit, k int) []FusedHit {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	merged := mergeHits(vec, kw)
	for _, h := range merged {
		var score float64
		if h.InVector {
			score += 1 / float64(k+h.VectorRank)
		}
		if h.InKeyword {
			score += 1 / float64(k+h.KeywordRank)
		}
		h.Score = score
	}

	sorted := sortFused(merged)
	if len(sorted) > 0 && sorted[0].Score > 0 {
		max := sorted[0].Score
		for i := range sorted {
			sorted[i].Score /= max
		}
	}
	return sorted
}

// mergeHits accumulates per-source scores and ranks into one entry per
// chunk.
func mergeHits(vec, kw []NormalizedHit) []*FusedHit {
	byID := make(map[string]*FusedHit, len(vec)+len(kw))

	getOrCreate := func(id string) *FusedHit {
		if h, ok := byID[id]; ok {
			return h
		}
		h := &FusedHit{ChunkID: id, VectorRank: -1, KeywordRank: -1}
		byID[id] = h
		return h
	}

	for _, h := range vec {
		f := getOrCreate(h.ChunkID)
		f.InVector = true
		f.VectorScore = h.Score
		f.VectorRank = h.Rank
	}
	for _, h := range kw {
		f := getOrCreate(h.ChunkID)
		f.InKeyword = true
		f.KeywordScore = h.Score
		f.KeywordRank = h.Rank
	}

	out := make([]*FusedHit, 0, len(byID))
	for _, h := range byID {
		out = append(out, h)
	}
	return out
}

// sortFused orders hits by fused score with deterministic tie-breaks:
// both-source hits before single-source, then lower combined raw rank,
// then chunk ID. Final ranks are assigned after sorting.
func sortFused(hits []*FusedHit) []FusedHit {
	sort.Slice(hits, func(i, j int) bool {
		return fusedLess(hits[i], hits[j])
	})

	out := make([]FusedHit, len(hits))
	for i, h := range hits {
		h.Rank = i
		out[i] = *h
	}
	return out
}

func fusedLess(a, b *FusedHit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}

	aBoth := a.InVector && a.InKeyword
	bBoth := b.InVector && b.InKeyword
	if aBoth != bBoth {
		return aBoth
	}

	if ar, br := combinedRank(a), combinedRank(b); ar != br {
		return ar < br
	}

	return a.ChunkID < b.ChunkID
}

// combinedRank sums the raw source ranks. An absent source counts as one
// past the worst possible rank so single-source hits compare sensibly
// against both-source hits.
func combinedRank(h *FusedHit) int {
	const absent = 1 << 20
	rank := 0
	if h.InVector {
		rank += h.VectorRank
	} else {
		rank += absent
	}
	if h.InKeyword {
		rank += h.KeywordRank
	} else {
		rank += absent
	}
	return rank
}
