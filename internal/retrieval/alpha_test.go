package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newAlphaComputer() *AlphaComputer {
	return &AlphaComputer{Min: 0.2, Max: 0.95}
}

func TestAlphaMonotonicInLength(t *testing.T) {
	a := newAlphaComputer()

	prev := -1.0
	for n := 1; n <= 20; n++ {
		query := strings.TrimSpace(strings.Repeat("word ", n))
		alpha := a.Compute(query)
		assert.GreaterOrEqual(t, alpha, prev, "alpha dropped at %d tokens", n)
		prev = alpha
	}
}

func TestAlphaWithinBounds(t *testing.T) {
	a := newAlphaComputer()

	queries := []string{
		"x",
		"short query",
		strings.TrimSpace(strings.Repeat("very long natural language question ", 30)),
	}
	for _, q := range queries {
		alpha := a.Compute(q)
		assert.GreaterOrEqual(t, alpha, 0.2)
		assert.LessOrEqual(t, alpha, 0.95)
	}
}

func TestAlphaLongQueriesFavorVector(t *testing.T) {
	a := newAlphaComputer()

	short := a.Compute("error code")
	long := a.Compute("why does the request fail with a timeout when the upstream service is slow to respond")

	assert.Greater(t, long, short)
}

func TestAlphaKeywordDensityFavorsKeyword(t *testing.T) {
	indexed := map[string]bool{"timeout": true, "retry": true, "backoff": true}

	dense := &AlphaComputer{Min: 0.2, Max: 0.95, TermMatcher: func(tok string) bool { return indexed[tok] }}
	sparse := &AlphaComputer{Min: 0.2, Max: 0.95, TermMatcher: func(string) bool { return false }}

	query := "timeout retry backoff"
	assert.Less(t, dense.Compute(query), sparse.Compute(query))
}

func TestAlphaNilMatcherIsNeutral(t *testing.T) {
	neutral := newAlphaComputer()
	half := &AlphaComputer{Min: 0.2, Max: 0.95, TermMatcher: nil}

	query := "some query text here"
	assert.Equal(t, neutral.Compute(query), half.Compute(query))
}
