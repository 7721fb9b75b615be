// Package telemetry records retrieval metrics for diagnostics. All data
// stays local, nothing is reported externally.
package telemetry

import (
	"sync"
	"time"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// recentLatencyCapacity bounds the ring of recent observations kept for
// snapshots.
const recentLatencyCapacity = 256

// Collector aggregates retrieval observations in memory. It satisfies
// the engine's metrics recorder contract and is safe for concurrent
// use. Counters accumulate until Reset or Flush.
type Collector struct {
	mu sync.Mutex

	total     int64
	cacheHits int64
	degraded  int64
	zeroHits  int64
	buckets   map[LatencyBucket]int64
	recent    *Ring[time.Duration]
	since     time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		buckets: make(map[LatencyBucket]int64),
		recent:  NewRing[time.Duration](recentLatencyCapacity),
		since:   time.Now(),
	}
}

// RecordRetrieve records one completed retrieve operation.
func (c *Collector) RecordRetrieve(took time.Duration, cacheHit, degraded bool, hits int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	if cacheHit {
		c.cacheHits++
	}
	if degraded {
		c.degraded++
	}
	if hits == 0 {
		c.zeroHits++
	}
	c.buckets[LatencyToBucket(took)]++
	c.recent.Add(took)
}

// Snapshot is an immutable view of the collected metrics.
type Snapshot struct {
	TotalRetrieves      int64                   `json:"total_retrieves"`
	CacheHits           int64                   `json:"cache_hits"`
	DegradedCount       int64                   `json:"degraded_count"`
	ZeroHitCount        int64                   `json:"zero_hit_count"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	RecentLatencies     []time.Duration         `json:"-"`
	Since               time.Time               `json:"since"`
}

// CacheHitRate returns the fraction of retrieves served from cache.
func (s *Snapshot) CacheHitRate() float64 {
	if s.TotalRetrieves == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.TotalRetrieves)
}

// DegradedRate returns the fraction of retrieves that lost a backend.
func (s *Snapshot) DegradedRate() float64 {
	if s.TotalRetrieves == 0 {
		return 0
	}
	return float64(s.DegradedCount) / float64(s.TotalRetrieves)
}

// Snapshot returns a copy of the current state.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	buckets := make(map[LatencyBucket]int64, len(c.buckets))
	for k, v := range c.buckets {
		buckets[k] = v
	}

	return Snapshot{
		TotalRetrieves:      c.total,
		CacheHits:           c.cacheHits,
		DegradedCount:       c.degraded,
		ZeroHitCount:        c.zeroHits,
		LatencyDistribution: buckets,
		RecentLatencies:     c.recent.Items(),
		Since:               c.since,
	}
}

// Reset clears all counters.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total = 0
	c.cacheHits = 0
	c.degraded = 0
	c.zeroHits = 0
	c.buckets = make(map[LatencyBucket]int64)
	c.recent.Clear()
	c.since = time.Now()
}

// Flush persists the current counters as daily aggregates and resets the
// collector. Persist failures leave the counters intact so nothing is
// lost.
func (c *Collector) Flush(store MetricsStore) error {
	snap := c.Snapshot()
	if snap.TotalRetrieves == 0 {
		return nil
	}

	date := time.Now().Format("2006-01-02")
	if err := store.SaveDailyStats(date, DailyStats{
		Retrieves: snap.TotalRetrieves,
		CacheHits: snap.CacheHits,
		Degraded:  snap.DegradedCount,
		ZeroHits:  snap.ZeroHitCount,
	}); err != nil {
		return err
	}
	if err := store.SaveLatencyCounts(date, snap.LatencyDistribution); err != nil {
		return err
	}

	c.Reset()
	return nil
}

// Ring is a fixed-capacity FIFO buffer. Adding to a full ring evicts the
// oldest item.
type Ring[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewRing creates a ring with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends an item, evicting the oldest when full.
func (r *Ring[T]) Add(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Items returns the contents oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return []T{}
	}

	out := make([]T, r.size)
	if r.size < r.capacity {
		copy(out, r.items[:r.size])
	} else {
		copy(out, r.items[r.head:])
		copy(out[r.capacity-r.head:], r.items[:r.head])
	}
	return out
}

// Size returns the current item count.
func (r *Ring[T]) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Clear empties the ring.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.size = 0
}
