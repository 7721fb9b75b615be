package retrieval

import (
	"fmt"
	"strings"

	qerrors "github.com/quarry-search/quarry/internal/errors"
)

// MaxQueryLength bounds the accepted query size in runes.
const MaxQueryLength = 1024

// normalizeQuery validates the query and computes its normalized text.
// The normalized form (trimmed, lowercased, whitespace collapsed) feeds
// cache keys and adaptive weighting; backends get the original casing.
// Deterministic: the same input always yields the same output.
func normalizeQuery(q Query) (Query, string, error) {
	if strings.TrimSpace(q.TenantID) == "" {
		return q, "", qerrors.New(qerrors.ErrCodeInvalidScope, "tenant id is required", nil)
	}
	if strings.TrimSpace(q.Collection) == "" {
		return q, "", qerrors.New(qerrors.ErrCodeInvalidScope, "collection is required", nil)
	}

	trimmed := strings.TrimSpace(q.Text)
	if trimmed == "" {
		return q, "", qerrors.New(qerrors.ErrCodeQueryEmpty, "query text is empty", nil)
	}
	if len([]rune(trimmed)) > MaxQueryLength {
		return q, "", qerrors.New(qerrors.ErrCodeQueryTooLong,
			fmt.Sprintf("query exceeds %d characters", MaxQueryLength), nil)
	}

	if q.Alpha != nil && (*q.Alpha < 0 || *q.Alpha > 1) {
		return q, "", qerrors.New(qerrors.ErrCodeInvalidAlpha,
			fmt.Sprintf("alpha must be in [0,1], got %g", *q.Alpha), nil)
	}

	q.Text = trimmed
	normalized := strings.ToLower(strings.Join(strings.Fields(trimmed), " "))
	return q, normalized, nil
}

// queryTokens splits normalized text into lowercase word tokens.
func queryTokens(normalized string) []string {
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}
