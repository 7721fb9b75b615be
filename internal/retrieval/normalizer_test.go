package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quarry-search/quarry/internal/errors"
)

func validQuery() Query {
	return Query{TenantID: "acme", Collection: "docs", Text: "How Does Fusion Work"}
}

func TestNormalizeQuery(t *testing.T) {
	q, normalized, err := normalizeQuery(validQuery())

	require.NoError(t, err)
	assert.Equal(t, "How Does Fusion Work", q.Text)
	assert.Equal(t, "how does fusion work", normalized)
}

func TestNormalizeQueryCollapsesWhitespace(t *testing.T) {
	q := validQuery()
	q.Text = "  Fusion \t  RANKING \n details  "

	got, normalized, err := normalizeQuery(q)

	require.NoError(t, err)
	assert.Equal(t, "Fusion \t  RANKING \n details", got.Text)
	assert.Equal(t, "fusion ranking details", normalized)
}

func TestNormalizeQueryDeterministic(t *testing.T) {
	_, n1, err1 := normalizeQuery(validQuery())
	_, n2, err2 := normalizeQuery(validQuery())

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, n1, n2)
}

func TestNormalizeQueryValidation(t *testing.T) {
	bad := -0.1
	high := 1.5

	tests := []struct {
		name     string
		mutate   func(*Query)
		wantCode string
	}{
		{"missing tenant", func(q *Query) { q.TenantID = "" }, qerrors.ErrCodeInvalidScope},
		{"missing collection", func(q *Query) { q.Collection = " " }, qerrors.ErrCodeInvalidScope},
		{"empty text", func(q *Query) { q.Text = "   " }, qerrors.ErrCodeQueryEmpty},
		{"too long", func(q *Query) { q.Text = strings.Repeat("a", MaxQueryLength+1) }, qerrors.ErrCodeQueryTooLong},
		{"alpha below zero", func(q *Query) { q.Alpha = &bad }, qerrors.ErrCodeInvalidAlpha},
		{"alpha above one", func(q *Query) { q.Alpha = &high }, qerrors.ErrCodeInvalidAlpha},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := validQuery()
			tt.mutate(&q)

			_, _, err := normalizeQuery(q)

			require.Error(t, err)
			assert.Equal(t, tt.wantCode, qerrors.GetCode(err))
		})
	}
}

func TestQueryTokens(t *testing.T) {
	assert.Equal(t, []string{"rate", "limit", "429"}, queryTokens("rate-limit 429"))
	assert.Empty(t, queryTokens(""))
}
