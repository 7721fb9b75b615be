package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quarry-search/quarry/internal/config"
)

// DefaultCacheSize bounds the result cache when the configured size is
// missing or non-positive.
const DefaultCacheSize = 1024

// cacheEntry pairs a cached result with its expiry instant.
type cacheEntry struct {
	result    *Result
	expiresAt time.Time
}

// ResultCache memoizes fused results under a short TTL. Entries are
// evicted by LRU pressure or lazily on expired reads. Safe for
// concurrent use.
type ResultCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, cacheEntry]
	ttl     time.Duration
	now     func() time.Time

	hits   uint64
	misses uint64
}

// NewResultCache creates a cache holding up to size results for ttl
// each.
func NewResultCache(size int, ttl time.Duration) *ResultCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		// lru.New fails only on non-positive size.
		panic(err)
	}
	return &ResultCache{
		entries: entries,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a copy of the cached result for key, or nil on miss or
// expiry. Expired entries are removed on read.
func (c *ResultCache) Get(key string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(key)
	if !ok {
		c.misses++
		return nil
	}
	if c.now().After(entry.expiresAt) {
		c.entries.Remove(key)
		c.misses++
		return nil
	}
	c.hits++
	return entry.result.Clone()
}

// Put stores a copy of result under key. Last writer wins on key
// collision.
func (c *ResultCache) Put(key string, result *Result) {
	if result == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Add(key, cacheEntry{
		result:    result.Clone(),
		expiresAt: c.now().Add(c.ttl),
	})
}

// Stats reports hit and miss counts since creation.
func (c *ResultCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Purge removes all entries.
func (c *ResultCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// cacheKey derives a stable key from everything that determines the
// fused result: scope, normalized query, expansion terms, filters, the
// resolved alpha, the effective top-k, and the fusion policy.
func cacheKey(q ExpandedQuery, alpha float64, topK int, policy config.FusionPolicy) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%.4f|%d|%s",
		q.TenantID,
		q.Collection,
		q.NormalizedText,
		strings.Join(q.Terms, ","),
		canonicalFilters(q.Filters),
		alpha,
		topK,
		policy,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalFilters renders filters deterministically regardless of map
// iteration order.
func canonicalFilters(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(filters))
	for k, v := range filters {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}
