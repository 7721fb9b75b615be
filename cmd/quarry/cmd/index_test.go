package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupCorpus prepares a temp working directory with offline config and
// two indexable files.
func setupCorpus(t *testing.T) {
	t.Helper()
	dir := chtemp(t)

	t.Setenv("QUARRY_EMBEDDINGS_PROVIDER", "static")
	t.Setenv("QUARRY_DATA_DIR", filepath.Join(dir, ".quarry"))

	require.NoError(t, os.WriteFile("pooling.md", []byte(
		"Connection pooling reuses database connections across requests.\n\n"+
			"Exhausted pools cause request queueing and timeouts."), 0o644))
	require.NoError(t, os.WriteFile("caching.txt", []byte(
		"The result cache memoizes fused rankings under a short TTL."), 0o644))
}

func TestIndexThenSearch(t *testing.T) {
	setupCorpus(t)

	out, err := execute(t, "index", ".", "--tenant", "acme", "--collection", "docs")
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 2 documents")

	out, err = execute(t, "search", "connection pool timeouts",
		"--tenant", "acme", "--collection", "docs")
	require.NoError(t, err)
	assert.Contains(t, out, "results for")
	assert.Contains(t, out, "pooling.md")
}

func TestSearchJSONOutput(t *testing.T) {
	setupCorpus(t)

	_, err := execute(t, "index", "caching.txt")
	require.NoError(t, err)

	out, err := execute(t, "search", "cache ttl", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"hits"`)
	assert.Contains(t, out, `"alpha_used"`)
}

func TestSearchScopeIsolation(t *testing.T) {
	setupCorpus(t)

	_, err := execute(t, "index", "pooling.md", "--tenant", "acme")
	require.NoError(t, err)

	out, err := execute(t, "search", "connection pooling", "--tenant", "other")
	require.NoError(t, err)
	assert.Contains(t, out, "No results")
}

func TestSearchMetadataFilter(t *testing.T) {
	setupCorpus(t)

	_, err := execute(t, "index", ".")
	require.NoError(t, err)

	out, err := execute(t, "search", "connection pooling", "--filter", "ext=md")
	require.NoError(t, err)
	assert.Contains(t, out, "pooling.md")

	out, err = execute(t, "search", "connection pooling", "--filter", "ext=rst")
	require.NoError(t, err)
	assert.Contains(t, out, "No results")

	_, err = execute(t, "search", "connection pooling", "--filter", "not-a-pair")
	assert.Error(t, err)
}

func TestIndexRemove(t *testing.T) {
	setupCorpus(t)

	_, err := execute(t, "index", "caching.txt")
	require.NoError(t, err)

	out, err := execute(t, "index", "caching.txt", "--remove")
	require.NoError(t, err)
	assert.Contains(t, out, "removed")

	out, err = execute(t, "search", "memoizes fused rankings")
	require.NoError(t, err)
	assert.Contains(t, out, "No results")
}
