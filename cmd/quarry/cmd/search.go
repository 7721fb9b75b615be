package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarry-search/quarry/internal/retrieval"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	tenant     string
	collection string
	topK       int
	alpha      float64
	filters    []string
	format     string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a collection with hybrid retrieval",
		Long: `Search a collection by fusing vector similarity and keyword matching.

Examples:
  quarry search "connection pool exhaustion"
  quarry search "rate limit" --tenant acme --collection runbooks
  quarry search "cache invalidation" --alpha 0.8 --top-k 5
  quarry search "deploy steps" --filter ext=md
  quarry search "timeouts" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.tenant, "tenant", "default", "Tenant to search in")
	cmd.Flags().StringVar(&opts.collection, "collection", "default", "Collection to search in")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "n", 0, "Maximum number of results (0 = configured default)")
	cmd.Flags().Float64Var(&opts.alpha, "alpha", -1, "Vector weight in [0,1] (overrides adaptive weighting)")
	cmd.Flags().StringArrayVar(&opts.filters, "filter", nil, "Metadata filter as key=value (repeatable)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, text string, opts searchOptions) error {
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	filters, err := parseFilters(opts.filters)
	if err != nil {
		return err
	}

	q := retrieval.Query{
		TenantID:   opts.tenant,
		Collection: opts.collection,
		Text:       text,
		TopK:       opts.topK,
		Filters:    filters,
	}
	if opts.alpha >= 0 {
		q.Alpha = &opts.alpha
	}

	result, err := rt.engine.Retrieve(ctx, q)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		return writeSearchJSON(cmd, rt, ctx, text, result)
	}
	return writeSearchText(cmd, rt, ctx, text, result)
}

// searchOutput is the JSON shape of one search invocation.
type searchOutput struct {
	Query     string            `json:"query"`
	AlphaUsed float64           `json:"alpha_used"`
	Policy    string            `json:"policy"`
	Degraded  bool              `json:"degraded,omitempty"`
	CacheHit  bool              `json:"cache_hit,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
	TookMS    int64             `json:"took_ms"`
	Hits      []searchHitOutput `json:"hits"`
}

type searchHitOutput struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
	Source  string  `json:"source"`
	Content string  `json:"content,omitempty"`
	Origin  string  `json:"origin,omitempty"`
}

func writeSearchJSON(cmd *cobra.Command, rt *runtime, ctx context.Context, query string, result *retrieval.Result) error {
	out := searchOutput{
		Query:     query,
		AlphaUsed: result.AlphaUsed,
		Policy:    string(result.Policy),
		Degraded:  result.Degraded,
		CacheHit:  result.CacheHit,
		Warnings:  result.Warnings,
		TookMS:    result.Took.Milliseconds(),
	}

	contents := chunkContents(ctx, rt, result)
	for _, h := range result.Hits {
		hit := searchHitOutput{
			ChunkID: h.ChunkID,
			Score:   h.Score,
			Rank:    h.Rank,
			Source:  hitSource(h),
		}
		if c, ok := contents[h.ChunkID]; ok {
			hit.Content = c.content
			hit.Origin = c.origin
		}
		out.Hits = append(out.Hits, hit)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeSearchText(cmd *cobra.Command, rt *runtime, ctx context.Context, query string, result *retrieval.Result) error {
	w := cmd.OutOrStdout()

	if len(result.Hits) == 0 {
		fmt.Fprintf(w, "No results for %q\n", query)
		return nil
	}

	fmt.Fprintf(w, "%d results for %q (alpha=%.2f, policy=%s, %dms)\n",
		len(result.Hits), query, result.AlphaUsed, result.Policy, result.Took.Milliseconds())
	if result.Degraded {
		fmt.Fprintln(w, "warning: partial results, one backend failed")
	}
	fmt.Fprintln(w)

	contents := chunkContents(ctx, rt, result)
	for _, h := range result.Hits {
		fmt.Fprintf(w, "%2d. [%.3f] %s (%s)\n", h.Rank+1, h.Score, h.ChunkID, hitSource(h))
		if c, ok := contents[h.ChunkID]; ok {
			if c.origin != "" {
				fmt.Fprintf(w, "    %s\n", c.origin)
			}
			fmt.Fprintf(w, "    %s\n", snippet(c.content, 200))
		}
		fmt.Fprintln(w)
	}
	return nil
}

type chunkDisplay struct {
	content string
	origin  string
}

// chunkContents resolves hit IDs to stored content. Resolution failures
// degrade the display, never the search.
func chunkContents(ctx context.Context, rt *runtime, result *retrieval.Result) map[string]chunkDisplay {
	ids := make([]string, len(result.Hits))
	for i, h := range result.Hits {
		ids[i] = h.ChunkID
	}

	out := make(map[string]chunkDisplay, len(ids))
	chunks, err := rt.meta.GetChunks(ctx, ids)
	if err != nil {
		return out
	}
	for _, c := range chunks {
		display := chunkDisplay{content: c.Content}
		if doc, err := rt.meta.GetDocument(ctx, c.DocumentID); err == nil && doc != nil {
			display.origin = fmt.Sprintf("%s #%d", doc.Source, c.Position)
		}
		out[c.ID] = display
	}
	return out
}

// parseFilters turns repeated key=value flags into a filter map.
func parseFilters(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	filters := make(map[string]string, len(raw))
	for _, f := range raw {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q, expected key=value", f)
		}
		filters[key] = value
	}
	return filters, nil
}

func hitSource(h retrieval.FusedHit) string {
	switch {
	case h.InVector && h.InKeyword:
		return "both"
	case h.InVector:
		return "vector"
	default:
		return "keyword"
	}
}

func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	cut := strings.LastIndex(s[:max], " ")
	if cut <= 0 {
		cut = max
	}
	return s[:cut] + "..."
}
