package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quarry-search/quarry/internal/backend"
	"github.com/quarry-search/quarry/internal/embed"
	qerrors "github.com/quarry-search/quarry/internal/errors"
)

// overfetchFactor widens per-backend requests so fusion has enough
// overlap to work with before the final top-k truncation.
const overfetchFactor = 2

// dispatchResult carries both branch outcomes back to the engine. A nil
// error with nil hits means the branch legitimately found nothing.
type dispatchResult struct {
	vectorHits  []backend.Hit
	keywordHits []backend.Hit
	vectorErr   error
	keywordErr  error
}

// dispatcher fans a query out to the vector and keyword backends in
// parallel, each under its own timeout with one transient retry.
type dispatcher struct {
	keyword  backend.KeywordBackend
	vector   backend.VectorBackend
	embedder embed.Embedder
	timeout  time.Duration
}

// dispatch runs both branches concurrently and waits for both. The
// keyword branch searches the original text plus expansion terms; the
// vector branch embeds the original text only, since embedding models
// handle semantic similarity natively and extra terms add noise.
func (d *dispatcher) dispatch(ctx context.Context, q ExpandedQuery, limit int) dispatchResult {
	var res dispatchResult
	fetch := limit * overfetchFactor

	g, gctx := errgroup.WithContext(ctx)
	scope := backend.Scope{TenantID: q.TenantID, Collection: q.Collection}

	keywordQuery := q.Text
	if len(q.Terms) > 0 {
		keywordQuery = q.Text + " " + strings.Join(q.Terms, " ")
	}

	g.Go(func() error {
		res.keywordHits, res.keywordErr = d.searchKeyword(gctx, scope, keywordQuery, q.Filters, fetch)
		return nil
	})

	g.Go(func() error {
		res.vectorHits, res.vectorErr = d.searchVector(gctx, scope, q.Text, q.Filters, fetch)
		return nil
	})

	// Branch errors are captured per branch, never returned to the
	// group, so one failure cannot cancel the survivor.
	_ = g.Wait()

	if res.keywordErr != nil {
		slog.Warn("keyword search failed",
			slog.String("tenant", q.TenantID),
			slog.String("error", res.keywordErr.Error()))
	}
	if res.vectorErr != nil {
		slog.Warn("vector search failed",
			slog.String("tenant", q.TenantID),
			slog.String("error", res.vectorErr.Error()))
	}

	return res
}

func (d *dispatcher) searchKeyword(ctx context.Context, scope backend.Scope, query string, filters map[string]string, limit int) ([]backend.Hit, error) {
	bctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	return qerrors.RetryIf(bctx, qerrors.BackendRetryConfig(), qerrors.IsRetryable, func() ([]backend.Hit, error) {
		return d.keyword.SearchKeyword(bctx, scope, query, filters, limit)
	})
}

func (d *dispatcher) searchVector(ctx context.Context, scope backend.Scope, text string, filters map[string]string, limit int) ([]backend.Hit, error) {
	bctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	vector, err := d.embedder.Embed(bctx, text)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeEmbeddingFailed, "embedding query failed", err)
	}

	return qerrors.RetryIf(bctx, qerrors.BackendRetryConfig(), qerrors.IsRetryable, func() ([]backend.Hit, error) {
		return d.vector.SearchVector(bctx, scope, vector, filters, limit)
	})
}
