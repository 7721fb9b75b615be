package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarry-search/quarry/internal/config"
	"github.com/quarry-search/quarry/internal/store"
	"github.com/quarry-search/quarry/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	var days int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show retrieval statistics",
		Long:  `Show aggregated retrieval counters and latency distribution from local telemetry.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, days, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// statsOutput is the JSON shape of the stats command.
type statsOutput struct {
	From      string                            `json:"from"`
	To        string                            `json:"to"`
	Retrieves int64                             `json:"retrieves"`
	CacheHits int64                             `json:"cache_hits"`
	Degraded  int64                             `json:"degraded"`
	ZeroHits  int64                             `json:"zero_hits"`
	Latency   map[telemetry.LatencyBucket]int64 `json:"latency_distribution"`
}

func runStats(cmd *cobra.Command, days int, jsonOutput bool) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	meta, err := store.NewSQLiteStore(filepath.Join(cfg.Paths.DataDir, "metadata.db"))
	if err != nil {
		return err
	}
	defer func() { _ = meta.Close() }()

	metrics, err := telemetry.NewSQLiteMetricsStore(meta.DB())
	if err != nil {
		return err
	}

	now := time.Now()
	from := now.AddDate(0, 0, -days).Format("2006-01-02")
	to := now.Format("2006-01-02")

	daily, err := metrics.GetDailyStats(from, to)
	if err != nil {
		return err
	}
	latency, err := metrics.GetLatencyCounts(from, to)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statsOutput{
			From:      from,
			To:        to,
			Retrieves: daily.Retrieves,
			CacheHits: daily.CacheHits,
			Degraded:  daily.Degraded,
			ZeroHits:  daily.ZeroHits,
			Latency:   latency,
		})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Retrieval stats %s to %s\n\n", from, to)
	fmt.Fprintf(w, "  retrieves:  %d\n", daily.Retrieves)
	if daily.Retrieves > 0 {
		fmt.Fprintf(w, "  cache hits: %d (%.1f%%)\n", daily.CacheHits,
			float64(daily.CacheHits)/float64(daily.Retrieves)*100)
		fmt.Fprintf(w, "  degraded:   %d\n", daily.Degraded)
		fmt.Fprintf(w, "  zero hits:  %d\n", daily.ZeroHits)

		fmt.Fprintln(w, "\n  latency:")
		for _, bucket := range []telemetry.LatencyBucket{
			telemetry.BucketP10, telemetry.BucketP50, telemetry.BucketP100,
			telemetry.BucketP500, telemetry.BucketP1000,
		} {
			if count, ok := latency[bucket]; ok {
				fmt.Fprintf(w, "    %-6s %d\n", bucket, count)
			}
		}
	}
	return nil
}
