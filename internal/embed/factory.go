package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quarry-search/quarry/internal/config"
)

// NewFromConfig builds the configured embedder wrapped in an LRU cache.
// Falls back to the static embedder when Ollama is configured but
// unreachable, so search keeps working offline at reduced quality.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	var inner Embedder

	switch strings.ToLower(cfg.Provider) {
	case "static":
		inner = NewStaticEmbedder()

	case "ollama", "":
		ollama, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			slog.Warn("ollama unavailable, falling back to static embeddings",
				"host", cfg.OllamaHost, "error", err)
			inner = NewStaticEmbedder()
		} else {
			inner = ollama
		}

	default:
		return nil, fmt.Errorf("unknown embeddings provider: %q", cfg.Provider)
	}

	cached, err := NewCachedEmbedder(inner, DefaultCacheSize)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}

	slog.Debug("embedder ready", "model", cached.ModelName(), "dimensions", cached.Dimensions())
	return cached, nil
}
