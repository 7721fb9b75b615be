package telemetry

import (
	"database/sql"
	"fmt"
)

// DailyStats is one day's aggregated retrieval counters.
type DailyStats struct {
	Retrieves int64
	CacheHits int64
	Degraded  int64
	ZeroHits  int64
}

// MetricsStore persists aggregated metrics.
type MetricsStore interface {
	SaveDailyStats(date string, stats DailyStats) error
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	GetDailyStats(from, to string) (DailyStats, error)
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)
}

// SQLiteMetricsStore implements MetricsStore on the shared metadata
// database.
type SQLiteMetricsStore struct {
	db *sql.DB
}

var _ MetricsStore = (*SQLiteMetricsStore)(nil)

// NewSQLiteMetricsStore creates a metrics store over db and ensures its
// tables exist.
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := initSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteMetricsStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS retrieval_daily_stats (
		date TEXT PRIMARY KEY,
		retrieves INTEGER NOT NULL DEFAULT 0,
		cache_hits INTEGER NOT NULL DEFAULT 0,
		degraded INTEGER NOT NULL DEFAULT 0,
		zero_hits INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS retrieval_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// SaveDailyStats adds stats into the day's row.
func (s *SQLiteMetricsStore) SaveDailyStats(date string, stats DailyStats) error {
	_, err := s.db.Exec(`
		INSERT INTO retrieval_daily_stats (date, retrieves, cache_hits, degraded, zero_hits)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			retrieves = retrieves + excluded.retrieves,
			cache_hits = cache_hits + excluded.cache_hits,
			degraded = degraded + excluded.degraded,
			zero_hits = zero_hits + excluded.zero_hits
	`, date, stats.Retrieves, stats.CacheHits, stats.Degraded, stats.ZeroHits)
	if err != nil {
		return fmt.Errorf("save daily stats: %w", err)
	}
	return nil
}

// SaveLatencyCounts adds bucket counts into the day's rows.
func (s *SQLiteMetricsStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO retrieval_latency_stats (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for bucket, count := range counts {
		if _, err := stmt.Exec(date, string(bucket), count); err != nil {
			return fmt.Errorf("insert latency count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetDailyStats sums stats over an inclusive date range.
func (s *SQLiteMetricsStore) GetDailyStats(from, to string) (DailyStats, error) {
	var stats DailyStats
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(retrieves), 0), COALESCE(SUM(cache_hits), 0),
		       COALESCE(SUM(degraded), 0), COALESCE(SUM(zero_hits), 0)
		FROM retrieval_daily_stats
		WHERE date >= ? AND date <= ?
	`, from, to).Scan(&stats.Retrieves, &stats.CacheHits, &stats.Degraded, &stats.ZeroHits)
	if err != nil {
		return stats, fmt.Errorf("query daily stats: %w", err)
	}
	return stats, nil
}

// GetLatencyCounts sums bucket counts over an inclusive date range.
func (s *SQLiteMetricsStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	rows, err := s.db.Query(`
		SELECT bucket, SUM(count)
		FROM retrieval_latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[LatencyBucket]int64)
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[LatencyBucket(bucket)] = count
	}
	return counts, rows.Err()
}
