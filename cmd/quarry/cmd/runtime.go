package cmd

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/quarry-search/quarry/internal/backend"
	"github.com/quarry-search/quarry/internal/config"
	"github.com/quarry-search/quarry/internal/embed"
	"github.com/quarry-search/quarry/internal/retrieval"
	"github.com/quarry-search/quarry/internal/store"
	"github.com/quarry-search/quarry/internal/telemetry"
)

// runtime bundles the components a command needs: config, metadata
// store, both backends, embedder, and the retrieval engine.
type runtime struct {
	cfg      *config.Config
	meta     *store.SQLiteStore
	keyword  backend.KeywordBackend
	vector   backend.VectorBackend
	embedder embed.Embedder
	engine   *retrieval.Engine
	metrics  *telemetry.Collector

	// watcher hot-reloads retrieval tunables while a command runs.
	watcher     *config.Watcher
	watchCancel context.CancelFunc

	// hnsw is set when the vector backend persists locally and needs an
	// explicit save on shutdown.
	hnsw *backend.HNSWBackend

	// pgShared is true when one postgres connection serves both roles,
	// so Close must not close it twice.
	pgShared bool
}

// openRuntime loads config and wires every component.
func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg}

	rt.meta, err = store.NewSQLiteStore(filepath.Join(cfg.Paths.DataDir, "metadata.db"))
	if err != nil {
		return nil, err
	}

	rt.embedder, err = embed.NewFromConfig(ctx, cfg.Embeddings)
	if err != nil {
		rt.Close()
		return nil, err
	}

	if err := rt.openBackends(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	rt.metrics = telemetry.NewCollector()

	opts := []retrieval.Option{retrieval.WithMetrics(rt.metrics)}
	if cfg.Cache.Enabled {
		opts = append(opts, retrieval.WithCache(
			retrieval.NewResultCache(cfg.Cache.Size, cfg.Cache.GetTTL())))
	}
	if cfg.Expansion.Enabled {
		expander, err := retrieval.NewHTTPExpander(retrieval.ExpanderConfig{
			Endpoint: cfg.Expansion.Endpoint,
			Timeout:  cfg.Expansion.GetTimeout(),
			MaxTerms: cfg.Expansion.MaxTerms,
		})
		if err != nil {
			rt.Close()
			return nil, err
		}
		opts = append(opts, retrieval.WithExpander(expander))
	}

	rt.engine = retrieval.NewEngine(cfg.Retrieval, rt.keyword, rt.vector, rt.embedder, opts...)
	rt.watchConfig()
	return rt, nil
}

// watchConfig pushes edits of the project config into the engine so
// fusion tunables apply without a restart. Watch failures only disable
// reloads.
func (rt *runtime) watchConfig() {
	w, err := config.NewWatcher(".", func(next *config.Config) {
		rt.engine.SetTunables(next.Retrieval)
	})
	if err != nil {
		slog.Warn("config watch disabled", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	rt.watcher = w
	rt.watchCancel = cancel
	go w.Run(ctx)
}

func (rt *runtime) openBackends(ctx context.Context) error {
	cfg := rt.cfg
	dims := rt.embedder.Dimensions()

	var pg *backend.PostgresBackend
	openPostgres := func() (*backend.PostgresBackend, error) {
		if pg != nil {
			return pg, nil
		}
		var err error
		pg, err = backend.NewPostgresBackend(ctx, backend.PostgresConfig{
			DSN:        cfg.Backends.PostgresDSN,
			Dimensions: dims,
		})
		return pg, err
	}

	switch cfg.Backends.Keyword {
	case "postgres":
		b, err := openPostgres()
		if err != nil {
			return err
		}
		rt.keyword = b
	default: // bleve
		b, err := backend.NewBleveBackend(filepath.Join(cfg.Paths.DataDir, "bleve"))
		if err != nil {
			return err
		}
		rt.keyword = b
	}

	switch cfg.Backends.Vector {
	case "qdrant":
		b, err := backend.NewQdrantBackend(ctx, backend.QdrantConfig{
			Addr:           cfg.Backends.QdrantAddr,
			CollectionName: cfg.Backends.QdrantCollection,
			Dimensions:     dims,
		})
		if err != nil {
			return err
		}
		rt.vector = b
	case "postgres":
		b, err := openPostgres()
		if err != nil {
			return err
		}
		rt.vector = b.AsVectorBackend()
		rt.pgShared = cfg.Backends.Keyword == "postgres"
	default: // hnsw
		b, err := backend.NewHNSWBackend(backend.HNSWConfig{
			Dimensions: dims,
			Dir:        filepath.Join(cfg.Paths.DataDir, "hnsw"),
		})
		if err != nil {
			return err
		}
		rt.hnsw = b
		rt.vector = b
	}

	return nil
}

// Close releases every component, persisting local indexes first.
func (rt *runtime) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if rt.watcher != nil {
		rt.watchCancel()
		keep(rt.watcher.Close())
	}
	if rt.hnsw != nil {
		keep(rt.hnsw.Save())
	}
	if rt.vector != nil {
		keep(rt.vector.Close())
	}
	if rt.keyword != nil && !rt.pgShared {
		keep(rt.keyword.Close())
	}
	if rt.embedder != nil {
		keep(rt.embedder.Close())
	}
	if rt.metrics != nil && rt.meta != nil {
		if ms, err := telemetry.NewSQLiteMetricsStore(rt.meta.DB()); err == nil {
			keep(rt.metrics.Flush(ms))
		}
	}
	if rt.meta != nil {
		keep(rt.meta.Close())
	}
	return firstErr
}
