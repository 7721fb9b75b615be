package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	qerrors "github.com/quarry-search/quarry/internal/errors"
)

// Default expander configuration values.
const (
	DefaultExpansionTimeout   = 200 * time.Millisecond
	DefaultExpansionMaxTerms  = 5
	DefaultExpansionCacheSize = 4096
)

// Expander produces additional query terms. Implementations must treat
// failure as cheap: callers swallow errors and proceed without terms.
type Expander interface {
	// Expand returns up to the configured number of expansion terms in
	// confidence order.
	Expand(ctx context.Context, text string) ([]string, error)
}

// NoopExpander returns no terms. Used when expansion is disabled.
type NoopExpander struct{}

func (NoopExpander) Expand(context.Context, string) ([]string, error) {
	return nil, nil
}

// ExpanderConfig configures the HTTP expander.
type ExpanderConfig struct {
	// Endpoint is the expansion service base URL.
	Endpoint string

	// Timeout bounds each expansion call (default: 200ms).
	Timeout time.Duration

	// MaxTerms caps the returned terms (default: 5).
	MaxTerms int

	// CacheSize is the LRU size for expansion results (default: 4096).
	CacheSize int
}

// expansionRequest is the POST /expand request body.
type expansionRequest struct {
	Query string `json:"query"`
}

// expansionResponse is the POST /expand response body.
type expansionResponse struct {
	Terms []expansionTerm `json:"terms"`
}

type expansionTerm struct {
	Term       string  `json:"term"`
	Confidence float64 `json:"confidence"`
}

// HTTPExpander calls an external term-expansion service. A circuit
// breaker stops hammering a dead service, and an LRU cache absorbs
// repeated queries. Expansion is a quality enhancement only: every error
// path returns quickly so it cannot dominate request latency.
type HTTPExpander struct {
	client   *http.Client
	endpoint string
	timeout  time.Duration
	maxTerms int
	cache    *lru.Cache[string, []string]
	breaker  *qerrors.CircuitBreaker
}

var _ Expander = (*HTTPExpander)(nil)

// NewHTTPExpander creates an expander for the given service.
func NewHTTPExpander(cfg ExpanderConfig) (*HTTPExpander, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("expansion endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultExpansionTimeout
	}
	if cfg.MaxTerms <= 0 {
		cfg.MaxTerms = DefaultExpansionMaxTerms
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultExpansionCacheSize
	}

	cache, err := lru.New[string, []string](cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	return &HTTPExpander{
		client:   &http.Client{},
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		timeout:  cfg.Timeout,
		maxTerms: cfg.MaxTerms,
		cache:    cache,
		breaker:  qerrors.NewCircuitBreaker("expansion"),
	}, nil
}

// Expand returns expansion terms for the query text.
func (e *HTTPExpander) Expand(ctx context.Context, text string) ([]string, error) {
	key := strings.ToLower(strings.TrimSpace(text))
	if key == "" {
		return nil, nil
	}

	if terms, ok := e.cache.Get(key); ok {
		out := make([]string, len(terms))
		copy(out, terms)
		return out, nil
	}

	var terms []string
	err := e.breaker.Execute(func() error {
		var callErr error
		terms, callErr = e.call(ctx, text)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	e.cache.Add(key, terms)
	return terms, nil
}

func (e *HTTPExpander) call(ctx context.Context, text string) ([]string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := json.Marshal(expansionRequest{Query: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		e.endpoint+"/expand", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeExpansionFailed, "expansion request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, qerrors.New(qerrors.ErrCodeExpansionFailed,
			fmt.Sprintf("expansion service returned status %d", resp.StatusCode), nil)
	}

	var result expansionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, qerrors.New(qerrors.ErrCodeExpansionFailed, "invalid expansion response", err)
	}

	return e.selectTerms(text, result.Terms), nil
}

// selectTerms orders candidates by confidence, drops duplicates and
// terms already present in the query, and caps the count.
func (e *HTTPExpander) selectTerms(text string, candidates []expansionTerm) []string {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	present := make(map[string]bool)
	for _, tok := range queryTokens(strings.ToLower(text)) {
		present[tok] = true
	}

	terms := make([]string, 0, e.maxTerms)
	for _, c := range candidates {
		term := strings.ToLower(strings.TrimSpace(c.Term))
		if term == "" || present[term] {
			continue
		}
		present[term] = true
		terms = append(terms, term)
		if len(terms) == e.maxTerms {
			break
		}
	}
	return terms
}
