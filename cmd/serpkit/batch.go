package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/serpkit/serpkit/internal/config"
	"github.com/serpkit/serpkit/internal/engine"
	"github.com/serpkit/serpkit/internal/progress"
	"github.com/serpkit/serpkit/internal/types"
)

var (
	batchCountry  string
	batchLanguage string
	batchPages    int
	batchParallel int
	batchNoCache  bool
	batchJSON     bool
	batchStats    bool
	batchStream   bool
	batchOutput   string
)

// batchCmd creates the "batch" subcommand.
func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [queries...]",
		Short: "Run many aggregated searches",
		Long:  "Run several queries sequentially, in parallel (--parallel), or streamed (--stream).",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runBatch,
	}

	cmd.Flags().StringVar(&batchCountry, "country", "", "two-letter country code (default from config)")
	cmd.Flags().StringVar(&batchLanguage, "language", "", "language code (default from config)")
	cmd.Flags().IntVarP(&batchPages, "pages", "p", 0, "pages to fetch per query (default from config)")
	cmd.Flags().IntVarP(&batchParallel, "parallel", "P", 0, "queries in flight at once (0 = sequential)")
	cmd.Flags().BoolVar(&batchNoCache, "no-cache", false, "bypass the result cache")
	cmd.Flags().BoolVar(&batchJSON, "json", false, "print the full batch result as JSON")
	cmd.Flags().BoolVar(&batchStats, "stats", false, "print limiter and cache counters after the run")
	cmd.Flags().BoolVar(&batchStream, "stream", false, "print each query as it completes")
	cmd.Flags().StringVarP(&batchOutput, "output", "o", "", "write the batch result JSON to this file")

	return cmd
}

// runBatch executes the batch command.
func runBatch(cmd *cobra.Command, args []string) error {
	settings, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := setupLogger(settings)

	agg, err := engine.New(settings, logger,
		engine.WithReporter(progress.NewLogging(logger, verbose)),
	)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	if err := agg.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer agg.Close()

	ctx, cancel := signalContext(logger)
	defer cancel()

	paramsList := make([]types.SearchParams, 0, len(args))
	for _, q := range args {
		paramsList = append(paramsList, types.SearchParams{
			Query:     q,
			Country:   batchCountry,
			Language:  batchLanguage,
			MaxPages:  batchPages,
			SkipCache: batchNoCache,
		})
	}

	if batchStream {
		return runBatchStream(ctx, agg, paramsList)
	}

	start := time.Now()
	var batch *types.BatchResult
	if batchParallel > 0 {
		batch, err = agg.SearchParallel(ctx, paramsList, batchParallel)
	} else {
		batch, err = agg.SearchBatch(ctx, paramsList)
	}
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if batchOutput != "" {
		if err := writeJSONFile(batchOutput, batch); err != nil {
			return fmt.Errorf("write batch result: %w", err)
		}
	}
	if batchJSON {
		return printJSON(batch)
	}

	fmt.Printf("\n✅ Batch complete in %s: %d queries, %d ok, %d with errors, %d organic results\n",
		elapsed.Round(time.Millisecond), len(batch.Queries), batch.SuccessCount(), batch.ErrorCount(), batch.TotalOrganic)
	for _, qt := range batch.QueryTimings {
		mark := "✓"
		if qt.Errors > 0 {
			mark = "✗"
		}
		fmt.Printf("  %s %-40s %4d results, %2d pages, %6.2fs\n",
			mark, qt.Query, qt.ResultCount, qt.PagesFetched, qt.ElapsedSeconds)
	}

	if batchStats {
		printRunStats(agg)
	}
	return nil
}

// runBatchStream prints each query's result line as it completes.
func runBatchStream(ctx context.Context, agg *engine.Aggregator, paramsList []types.SearchParams) error {
	width := batchParallel
	if width < 1 {
		width = engine.DefaultMaxParallelQueries
	}

	for item := range agg.SearchStream(ctx, paramsList, width) {
		if item.Err != nil {
			fmt.Printf("  ✗ %-40s %v\n", item.Query, item.Err)
			continue
		}
		fmt.Printf("  ✓ %-40s %4d results, %2d pages\n",
			item.Query, item.Result.OrganicCount(), item.Result.PagesFetched)
	}

	if batchStats {
		printRunStats(agg)
	}
	return nil
}
