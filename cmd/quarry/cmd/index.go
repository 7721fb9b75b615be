package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarry-search/quarry/internal/backend"
	"github.com/quarry-search/quarry/internal/ingest"
	"github.com/quarry-search/quarry/internal/store"
)

// indexOptions holds CLI flags for index.
type indexOptions struct {
	tenant     string
	collection string
	remove     bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <path>...",
		Short: "Index documents into a collection",
		Long: `Index text and markdown files into a tenant's collection.

Files are split into overlapping chunks, embedded, and written to the
keyword and vector backends plus the metadata store.

Examples:
  quarry index ./docs
  quarry index notes.md --tenant acme --collection runbooks
  quarry index old.md --remove`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.tenant, "tenant", "default", "Tenant to index into")
	cmd.Flags().StringVar(&opts.collection, "collection", "default", "Collection to index into")
	cmd.Flags().BoolVar(&opts.remove, "remove", false, "Remove the documents instead of indexing them")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, paths []string, opts indexOptions) error {
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	// One writer at a time. A second quarry index against the same data
	// directory fails fast instead of corrupting the local indexes.
	lock := store.NewIndexLock(rt.cfg.Paths.DataDir)
	if err := lock.TryLock(); err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	scope := backend.Scope{TenantID: opts.tenant, Collection: opts.collection}
	indexer := ingest.NewIndexer(rt.meta, rt.keyword, rt.vector, rt.embedder, nil)
	w := cmd.OutOrStdout()

	if opts.remove {
		for _, p := range paths {
			if err := indexer.RemoveDocument(ctx, scope, p); err != nil {
				return err
			}
			fmt.Fprintf(w, "removed %s\n", p)
		}
		return nil
	}

	total := ingest.Stats{}
	for _, p := range paths {
		stats, err := indexer.IndexPath(ctx, scope, p)
		if err != nil {
			return err
		}
		total.Documents += stats.Documents
		total.Chunks += stats.Chunks
		total.Skipped += stats.Skipped
		total.Took += stats.Took
	}

	fmt.Fprintf(w, "indexed %d documents (%d chunks, %d skipped) into %s/%s in %s\n",
		total.Documents, total.Chunks, total.Skipped,
		opts.tenant, opts.collection, total.Took.Round(time.Millisecond))
	return nil
}
