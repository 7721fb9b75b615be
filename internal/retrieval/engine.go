package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/quarry-search/quarry/internal/backend"
	"github.com/quarry-search/quarry/internal/config"
	"github.com/quarry-search/quarry/internal/embed"
	qerrors "github.com/quarry-search/quarry/internal/errors"
)

// Engine runs the full retrieval pipeline: normalize, expand, dispatch,
// normalize scores, fuse, cut, cache. One Engine serves all tenants;
// scoping happens per query. Safe for concurrent use.
type Engine struct {
	keyword  backend.KeywordBackend
	vector   backend.VectorBackend
	embedder embed.Embedder
	expander Expander
	cache    *ResultCache

	// mu guards cfg and alpha, which a config hot reload can swap while
	// requests are in flight.
	mu    sync.RWMutex
	cfg   config.RetrievalConfig
	alpha AlphaComputer

	// metrics is optional and may be nil.
	metrics MetricsRecorder

	// now is swappable for tests.
	now func() time.Time
}

// MetricsRecorder receives per-request observations. Implementations
// must be cheap and non-blocking.
type MetricsRecorder interface {
	RecordRetrieve(took time.Duration, cacheHit, degraded bool, hits int)
}

// Option customizes an Engine.
type Option func(*Engine)

// WithExpander sets the query expander. Defaults to NoopExpander.
func WithExpander(e Expander) Option {
	return func(eng *Engine) { eng.expander = e }
}

// WithCache sets the result cache. Nil disables caching.
func WithCache(c *ResultCache) Option {
	return func(eng *Engine) { eng.cache = c }
}

// WithTermMatcher supplies the indexed-term predicate used by adaptive
// weighting to estimate keyword density.
func WithTermMatcher(m func(token string) bool) Option {
	return func(eng *Engine) { eng.alpha.TermMatcher = m }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(eng *Engine) { eng.metrics = m }
}

// NewEngine builds an Engine over the given backends.
func NewEngine(cfg config.RetrievalConfig, kw backend.KeywordBackend, vec backend.VectorBackend, embedder embed.Embedder, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		keyword:  kw,
		vector:   vec,
		embedder: embedder,
		expander: NoopExpander{},
		alpha: AlphaComputer{
			Min: cfg.MinAlpha,
			Max: cfg.MaxAlpha,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetTunables replaces the retrieval tunables, typically after a config
// hot reload. Requests already in flight finish with the snapshot they
// started with.
func (e *Engine) SetTunables(cfg config.RetrievalConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.alpha.Min = cfg.MinAlpha
	e.alpha.Max = cfg.MaxAlpha
}

func (e *Engine) tunables() (config.RetrievalConfig, AlphaComputer) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg, e.alpha
}

// Retrieve executes one query end to end and returns the fused,
// trimmed result. The caller owns the returned Result.
func (e *Engine) Retrieve(ctx context.Context, q Query) (*Result, error) {
	start := e.now()
	cfg, alphaComputer := e.tunables()

	q, normalized, err := normalizeQuery(q)
	if err != nil {
		return nil, err
	}

	topK := resolveTopK(cfg, q.TopK)

	ctx, cancel := context.WithTimeout(ctx, cfg.GetRequestTimeout())
	defer cancel()

	expanded, warnings := e.expand(ctx, q, normalized)
	alpha := resolveAlpha(cfg, alphaComputer, expanded)

	key := cacheKey(expanded, alpha, topK, cfg.FusionPolicy)
	if e.cache != nil {
		if cached := e.cache.Get(key); cached != nil {
			cached.CacheHit = true
			cached.Took = e.now().Sub(start)
			e.record(cached)
			return cached, nil
		}
	}

	d := &dispatcher{
		keyword:  e.keyword,
		vector:   e.vector,
		embedder: e.embedder,
		timeout:  cfg.GetBackendTimeout(),
	}
	dres := d.dispatch(ctx, expanded, topK)

	// The request deadline dominates everything: an overall timeout is
	// a hard error with no partial result and nothing cached. Caller
	// cancellation propagates unchanged so it never reads as a backend
	// outage.
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, qerrors.Timeout("retrieval deadline exceeded", ctxErr)
		}
		return nil, ctxErr
	}

	if dres.vectorErr != nil && dres.keywordErr != nil {
		return nil, qerrors.Unavailable("all retrieval backends failed",
			errors.Join(dres.vectorErr, dres.keywordErr))
	}

	degraded := dres.vectorErr != nil || dres.keywordErr != nil
	if degraded {
		warnings = append(warnings, WarnPartialBackendFailure)
	}

	vec := normalizeScores(dres.vectorHits, e.vector.ScoreKind(), SourceVector)
	kw := normalizeScores(dres.keywordHits, e.keyword.ScoreKind(), SourceKeyword)

	var fused []FusedHit
	switch cfg.FusionPolicy {
	case config.FusionRRF:
		fused = fuseRRF(vec, kw, cfg.RRFConstant)
	default:
		fused = fuseWeighted(vec, kw, alpha)
	}

	if len(fused) > topK {
		fused = fused[:topK]
	}
	fused, cut := applyCutoff(fused, cfg.AutocutFloor, cfg.AutocutMax)

	result := &Result{
		Hits:          fused,
		AlphaUsed:     alpha,
		Policy:        cfg.FusionPolicy,
		CutoffApplied: cut,
		Degraded:      degraded,
		Warnings:      warnings,
		Took:          e.now().Sub(start),
	}

	// Degraded results are never cached: a transient backend failure
	// must not pin a partial ranking for the full TTL.
	if e.cache != nil && !degraded {
		// Snapshot before handing the result to the caller so the
		// async put never races a caller mutation.
		snapshot := result.Clone()
		go e.cache.Put(key, snapshot)
	}

	e.record(result)
	slog.Debug("retrieve complete",
		slog.String("tenant", q.TenantID),
		slog.String("collection", q.Collection),
		slog.Int("hits", len(fused)),
		slog.Float64("alpha", alpha),
		slog.Bool("degraded", degraded),
		slog.Duration("took", result.Took))

	return result, nil
}

// expand runs query expansion and converts any failure into a warning.
func (e *Engine) expand(ctx context.Context, q Query, normalized string) (ExpandedQuery, []string) {
	expanded := ExpandedQuery{Query: q, NormalizedText: normalized}

	terms, err := e.expander.Expand(ctx, q.Text)
	if err != nil {
		slog.Debug("query expansion skipped", slog.String("error", err.Error()))
		return expanded, []string{WarnExpansionSkipped}
	}
	expanded.Terms = terms
	return expanded, nil
}

// resolveAlpha picks the interpolation weight: explicit override first,
// then adaptive weighting, then the configured default.
func resolveAlpha(cfg config.RetrievalConfig, ac AlphaComputer, q ExpandedQuery) float64 {
	if q.Alpha != nil {
		return *q.Alpha
	}
	if cfg.AdaptiveAlpha {
		return ac.Compute(q.NormalizedText)
	}
	return cfg.DefaultAlpha
}

func resolveTopK(cfg config.RetrievalConfig, topK int) int {
	if topK <= 0 {
		topK = cfg.DefaultTopK
	}
	if cfg.MaxTopK > 0 && topK > cfg.MaxTopK {
		topK = cfg.MaxTopK
	}
	return topK
}

func (e *Engine) record(r *Result) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordRetrieve(r.Took, r.CacheHit, r.Degraded, len(r.Hits))
}
