package retrieval

import (
	"github.com/quarry-search/quarry/internal/backend"
)

// normalizeScores rescales one backend's raw scores to [0,1].
//
// Unbounded scores (BM25, ts_rank) get min-max scaling within the
// returned set. Cosine similarities get a fixed affine map from [-1,1]
// to [0,1] instead: min-max would distort tied or near-tied similarity
// distributions at small result-set sizes.
func normalizeScores(hits []backend.Hit, kind backend.ScoreKind, source Source) []NormalizedHit {
	out := make([]NormalizedHit, 0, len(hits))
	if len(hits) == 0 {
		return out
	}

	switch kind {
	case backend.ScoreSimilarity:
		for rank, h := range hits {
			score := (h.Score + 1) / 2
			out = append(out, NormalizedHit{
				ChunkID: h.ChunkID,
				Score:   clamp01(score),
				Source:  source,
				Rank:    rank,
			})
		}

	default: // backend.ScoreUnbounded
		lo, hi := hits[0].Score, hits[0].Score
		for _, h := range hits[1:] {
			if h.Score < lo {
				lo = h.Score
			}
			if h.Score > hi {
				hi = h.Score
			}
		}

		for rank, h := range hits {
			score := 1.0 // all scores equal: every hit is equally best
			if hi > lo {
				score = (h.Score - lo) / (hi - lo)
			}
			out = append(out, NormalizedHit{
				ChunkID: h.ChunkID,
				Score:   score,
				Source:  source,
				Rank:    rank,
			})
		}
	}

	return out
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
