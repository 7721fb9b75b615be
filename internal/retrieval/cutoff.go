package retrieval

// autocutMinDrop is the smallest relative score drop that counts as a
// relevance cliff. Smooth distributions below this threshold keep all
// hits.
const autocutMinDrop = 0.25

// applyCutoff trims the fused list at the largest relative score drop.
//
// The first floor hits are never trimmed, at most maxCut trailing hits
// are dropped, and a non-empty input always yields at least one hit.
// Returns the kept hits and the number dropped.
func applyCutoff(hits []FusedHit, floor, maxCut int) ([]FusedHit, int) {
	if len(hits) <= 1 || len(hits) <= floor {
		return hits, 0
	}
	if floor < 1 {
		floor = 1
	}

	// Find the largest relative drop between consecutive hits, scanning
	// only boundaries whose trim would stay within maxCut.
	bestIdx := -1
	bestDrop := autocutMinDrop
	for i := floor; i < len(hits); i++ {
		if maxCut > 0 && len(hits)-i > maxCut {
			continue
		}
		prev := hits[i-1].Score
		if prev <= 0 {
			continue
		}
		drop := (prev - hits[i].Score) / prev
		if drop > bestDrop {
			bestDrop = drop
			bestIdx = i
		}
	}

	if bestIdx < 0 {
		return hits, 0
	}
	return hits[:bestIdx], len(hits) - bestIdx
}
