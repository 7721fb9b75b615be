package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quarry-search/quarry/internal/errors"
)

func TestIndexLockAcquireRelease(t *testing.T) {
	dir := t.TempDir()

	l := NewIndexLock(dir)
	require.NoError(t, l.TryLock())
	assert.True(t, l.IsLocked())

	require.NoError(t, l.Unlock())
	assert.False(t, l.IsLocked())

	// Unlock on an unlocked lock is a no-op.
	require.NoError(t, l.Unlock())
}

func TestIndexLockContention(t *testing.T) {
	dir := t.TempDir()

	first := NewIndexLock(dir)
	require.NoError(t, first.TryLock())
	defer first.Unlock()

	second := NewIndexLock(dir)
	err := second.TryLock()
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeIndexLocked, qerrors.GetCode(err))
	assert.False(t, second.IsLocked())
}
