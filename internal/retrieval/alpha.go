package retrieval

import "math"

// Feature weights for adaptive alpha. Length and keyword density split
// the influence; both push in one direction only so the mapping stays
// monotonic.
const (
	alphaLengthWeight  = 0.5
	alphaDensityWeight = 0.5

	// lengthMidpoint is the token count at which the length feature is
	// neutral (0.5).
	lengthMidpoint = 6.0

	// lengthSteepness shapes the logistic curve of the length feature.
	lengthSteepness = 0.25
)

// AlphaComputer derives the interpolation weight from query
// characteristics. Longer, more specific queries push alpha toward the
// vector side; short keyword-heavy queries push it toward the keyword
// side. The mapping is monotonic: more tokens never lower alpha, and a
// higher keyword density never raises it.
type AlphaComputer struct {
	// Min and Max bound the produced alpha.
	Min float64
	Max float64

	// TermMatcher reports whether a token is an exact match against the
	// indexed field terms. Nil means keyword density is unknown and a
	// neutral 0.5 is assumed.
	TermMatcher func(token string) bool
}

// Compute returns alpha for the normalized query text.
func (a *AlphaComputer) Compute(normalized string) float64 {
	tokens := queryTokens(normalized)

	// Length feature rises with token count on a logistic curve.
	lengthScore := 1 / (1 + math.Exp(-lengthSteepness*(float64(len(tokens))-lengthMidpoint)))

	// Keyword density is the fraction of tokens that exactly match
	// indexed terms. Dense keyword queries are served better lexically.
	densityScore := 0.5
	if a.TermMatcher != nil && len(tokens) > 0 {
		matched := 0
		for _, tok := range tokens {
			if a.TermMatcher(tok) {
				matched++
			}
		}
		densityScore = float64(matched) / float64(len(tokens))
	}

	score := alphaLengthWeight*lengthScore + alphaDensityWeight*(1-densityScore)

	alpha := a.Min + score*(a.Max-a.Min)
	return clampAlpha(alpha, a.Min, a.Max)
}

func clampAlpha(alpha, lo, hi float64) float64 {
	if alpha < lo {
		return lo
	}
	if alpha > hi {
		return hi
	}
	return alpha
}
