package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesMetadataFromCode(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		category  Category
		retryable bool
	}{
		{"invalid query", ErrCodeInvalidQuery, CategoryValidation, false},
		{"retrieval timeout", ErrCodeRetrievalTimeout, CategoryBackend, true},
		{"retrieval unavailable", ErrCodeRetrievalUnavailable, CategoryBackend, false},
		{"backend unreachable", ErrCodeBackendUnreachable, CategoryBackend, true},
		{"config invalid", ErrCodeConfigInvalid, CategoryConfig, false},
		{"store io", ErrCodeStoreIO, CategoryStore, false},
		{"internal", ErrCodeInternal, CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestQuarryError_ErrorFormat(t *testing.T) {
	err := New(ErrCodeQueryEmpty, "query must not be empty", nil)
	assert.Equal(t, "[ERR_402_QUERY_EMPTY] query must not be empty", err.Error())
}

func TestQuarryError_UnwrapChain(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := BackendError("vector backend failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestQuarryError_IsMatchesByCode(t *testing.T) {
	a := Timeout("deadline exceeded", nil)
	b := Timeout("another timeout", nil)
	c := Unavailable("both backends down", nil)

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestQuarryError_IsThroughWrapping(t *testing.T) {
	inner := Unavailable("both backends down", nil)
	wrapped := fmt.Errorf("retrieve: %w", inner)

	assert.True(t, stderrors.Is(wrapped, Unavailable("", nil)))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestWithDetailAndSuggestion(t *testing.T) {
	err := InvalidQuery("empty query", nil).
		WithDetail("tenant", "t-42").
		WithSuggestion("provide a non-empty query string")

	assert.Equal(t, "t-42", err.Details["tenant"])
	assert.Equal(t, "provide a non-empty query string", err.Suggestion)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Timeout("slow", nil)))
	assert.False(t, IsRetryable(Unavailable("down", nil)))
	assert.False(t, IsRetryable(stderrors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeInvalidQuery, GetCode(InvalidQuery("x", nil)))
	assert.Equal(t, "", GetCode(stderrors.New("plain")))
}
