package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, FusionWeighted, cfg.Retrieval.FusionPolicy)
	assert.Equal(t, 60, cfg.Retrieval.RRFConstant)
	assert.Equal(t, 0.2, cfg.Retrieval.MinAlpha)
	assert.Equal(t, 0.95, cfg.Retrieval.MaxAlpha)
	assert.True(t, cfg.Retrieval.AdaptiveAlpha)
	assert.Equal(t, 10, cfg.Retrieval.DefaultTopK)
	assert.Equal(t, 2*time.Second, cfg.Retrieval.GetBackendTimeout())
	assert.Equal(t, 5*time.Second, cfg.Retrieval.GetRequestTimeout())
	assert.Equal(t, 200*time.Millisecond, cfg.Expansion.GetTimeout())
	assert.Equal(t, 5, cfg.Expansion.MaxTerms)
	assert.Equal(t, 5*time.Minute, cfg.Cache.GetTTL())
	assert.Equal(t, "bleve", cfg.Backends.Keyword)
	assert.Equal(t, "hnsw", cfg.Backends.Vector)

	require.NoError(t, cfg.Validate())
}

func TestLoadProjectConfig(t *testing.T) {
	dir := t.TempDir()
	content := `
retrieval:
  fusion_policy: rrf
  rrf_constant: 30
  default_top_k: 20
  max_top_k: 200
cache:
  ttl: 90s
backends:
  vector: qdrant
  qdrant_addr: qdrant.internal:6334
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".quarry.yaml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, FusionRRF, cfg.Retrieval.FusionPolicy)
	assert.Equal(t, 30, cfg.Retrieval.RRFConstant)
	assert.Equal(t, 20, cfg.Retrieval.DefaultTopK)
	assert.Equal(t, 90*time.Second, cfg.Cache.GetTTL())
	assert.Equal(t, "qdrant", cfg.Backends.Vector)
	assert.Equal(t, "qdrant.internal:6334", cfg.Backends.QdrantAddr)

	// Untouched sections keep their defaults.
	assert.Equal(t, 0.5, cfg.Retrieval.DefaultAlpha)
	assert.Equal(t, "bleve", cfg.Backends.Keyword)
}

func TestLoadNoConfigFiles(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, FusionWeighted, cfg.Retrieval.FusionPolicy)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".quarry.yaml"),
		[]byte("retrieval: [not, a, map"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("QUARRY_FUSION_POLICY", "rrf")
	t.Setenv("QUARRY_DEFAULT_ALPHA", "0.7")
	t.Setenv("QUARRY_CACHE_TTL", "30s")
	t.Setenv("QUARRY_VECTOR_BACKEND", "postgres")
	t.Setenv("QUARRY_POSTGRES_DSN", "postgres://quarry@localhost/quarry")
	t.Setenv("QUARRY_LOG_LEVEL", "debug")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, FusionRRF, cfg.Retrieval.FusionPolicy)
	assert.Equal(t, 0.7, cfg.Retrieval.DefaultAlpha)
	assert.Equal(t, 30*time.Second, cfg.Cache.GetTTL())
	assert.Equal(t, "postgres", cfg.Backends.Vector)
	assert.Equal(t, "postgres://quarry@localhost/quarry", cfg.Backends.PostgresDSN)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvOverridesIgnoreInvalid(t *testing.T) {
	t.Setenv("QUARRY_DEFAULT_ALPHA", "2.5")
	t.Setenv("QUARRY_CACHE_TTL", "eventually")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Retrieval.DefaultAlpha)
	assert.Equal(t, 5*time.Minute, cfg.Cache.GetTTL())
}

func TestProjectOverridesEnvWins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".quarry.yaml"),
		[]byte("retrieval:\n  fusion_policy: rrf\n"), 0o644))
	t.Setenv("QUARRY_FUSION_POLICY", "weighted")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, FusionWeighted, cfg.Retrieval.FusionPolicy)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad fusion policy",
			mutate:  func(c *Config) { c.Retrieval.FusionPolicy = "blend" },
			wantErr: "fusion_policy",
		},
		{
			name:    "zero rrf constant",
			mutate:  func(c *Config) { c.Retrieval.RRFConstant = 0 },
			wantErr: "rrf_constant",
		},
		{
			name:    "alpha out of range",
			mutate:  func(c *Config) { c.Retrieval.DefaultAlpha = 1.5 },
			wantErr: "default_alpha",
		},
		{
			name: "min alpha above max",
			mutate: func(c *Config) {
				c.Retrieval.MinAlpha = 0.9
				c.Retrieval.MaxAlpha = 0.3
			},
			wantErr: "min_alpha",
		},
		{
			name:    "max_top_k below default",
			mutate:  func(c *Config) { c.Retrieval.MaxTopK = 5 },
			wantErr: "max_top_k",
		},
		{
			name:    "bad duration",
			mutate:  func(c *Config) { c.Retrieval.BackendTimeout = "fast" },
			wantErr: "backend_timeout",
		},
		{
			name:    "unknown keyword backend",
			mutate:  func(c *Config) { c.Backends.Keyword = "lucene" },
			wantErr: "backends.keyword",
		},
		{
			name:    "unknown vector backend",
			mutate:  func(c *Config) { c.Backends.Vector = "faiss" },
			wantErr: "backends.vector",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".quarry.yaml")

	cfg := NewConfig()
	cfg.Retrieval.FusionPolicy = FusionRRF
	cfg.Retrieval.DefaultAlpha = 0.65
	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, FusionRRF, loaded.Retrieval.FusionPolicy)
	assert.Equal(t, 0.65, loaded.Retrieval.DefaultAlpha)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".quarry.yaml")
	require.NoError(t, os.WriteFile(path,
		[]byte("retrieval:\n  fusion_policy: weighted\n"), 0o644))

	var reloads atomic.Int32
	got := make(chan *Config, 4)
	w, err := NewWatcher(dir, func(c *Config) {
		reloads.Add(1)
		got <- c
	})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path,
		[]byte("retrieval:\n  fusion_policy: rrf\n"), 0o644))

	select {
	case cfg := <-got:
		assert.Equal(t, FusionRRF, cfg.Retrieval.FusionPolicy)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcherSkipsInvalidEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".quarry.yaml")
	require.NoError(t, os.WriteFile(path,
		[]byte("retrieval:\n  fusion_policy: weighted\n"), 0o644))

	var reloads atomic.Int32
	w, err := NewWatcher(dir, func(*Config) { reloads.Add(1) })
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path,
		[]byte("retrieval:\n  fusion_policy: nonsense\n"), 0o644))

	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, int32(0), reloads.Load())
}
