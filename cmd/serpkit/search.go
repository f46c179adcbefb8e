package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/serpkit/serpkit/internal/config"
	"github.com/serpkit/serpkit/internal/engine"
	"github.com/serpkit/serpkit/internal/progress"
	"github.com/serpkit/serpkit/internal/types"
)

var (
	searchCountry     string
	searchLanguage    string
	searchPages       int
	searchConcurrency int
	searchNoCache     bool
	searchJSON        bool
	searchRawPath     string
	searchStats       bool
	searchOutput      string
)

// searchCmd creates the "search" subcommand.
func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run one aggregated search",
		Long:  "Fetch all result pages for one query concurrently and print the merged per-URL results.",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().StringVar(&searchCountry, "country", "", "two-letter country code (default from config)")
	cmd.Flags().StringVar(&searchLanguage, "language", "", "language code (default from config)")
	cmd.Flags().IntVarP(&searchPages, "pages", "p", 0, "pages to fetch (default from config)")
	cmd.Flags().IntVarP(&searchConcurrency, "concurrency", "n", 0, "concurrent page fetches (default from config)")
	cmd.Flags().BoolVar(&searchNoCache, "no-cache", false, "bypass the result cache")
	cmd.Flags().BoolVar(&searchJSON, "json", false, "print the full result as JSON")
	cmd.Flags().StringVar(&searchRawPath, "raw", "", "write the raw page payloads to this file")
	cmd.Flags().BoolVar(&searchStats, "stats", false, "print limiter and cache counters after the run")
	cmd.Flags().StringVarP(&searchOutput, "output", "o", "", "write the result JSON to this file")

	return cmd
}

// runSearch executes the search command.
func runSearch(cmd *cobra.Command, args []string) error {
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

	params := types.SearchParams{
		Query:       args[0],
		Country:     searchCountry,
		Language:    searchLanguage,
		MaxPages:    searchPages,
		Concurrency: searchConcurrency,
		SkipCache:   searchNoCache,
	}

	var raw *engine.RawCollector
	if searchRawPath != "" {
		raw = engine.NewRawCollector()
	}

	start := time.Now()
	result, err := agg.SearchRaw(ctx, params, raw)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if raw != nil {
		if err := writeJSONFile(searchRawPath, raw.Pages()); err != nil {
			return fmt.Errorf("write raw payloads: %w", err)
		}
		logger.Info("raw payloads written", "path", searchRawPath, "pages", len(raw.Pages()))
	}

	if searchOutput != "" {
		if err := writeJSONFile(searchOutput, result); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}

	if searchJSON {
		return printJSON(result)
	}

	printResultSummary(result, elapsed)
	if searchStats {
		printRunStats(agg)
	}
	return nil
}

// printResultSummary renders the human-readable view of one result.
func printResultSummary(result *types.SearchResult, elapsed time.Duration) {
	fmt.Printf("\n✅ %q: %d unique results from %d pages in %s\n",
		result.General.Query, result.OrganicCount(), result.PagesFetched, elapsed.Round(time.Millisecond))
	if result.HasErrors() {
		fmt.Printf("   ⚠ %d page(s) failed\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("     %s\n", e)
		}
	}

	limit := len(result.Organic)
	if limit > 10 {
		limit = 10
	}
	for _, r := range result.Organic[:limit] {
		fmt.Printf("  %3d. %s\n       %s (seen %dx, avg pos %.1f)\n",
			r.BestPos, r.Title, r.Link, r.Frequency, r.AvgPos)
	}
	if len(result.Organic) > limit {
		fmt.Printf("  ... and %d more (use --json for the full result)\n", len(result.Organic)-limit)
	}
}

// printRunStats dumps limiter and cache counters to stdout.
func printRunStats(agg *engine.Aggregator) {
	ls := agg.RateLimiter().Stats()
	cs := agg.Cache().Stats()
	fmt.Printf("\nRate limiter:\n")
	fmt.Printf("  Requests:   %d total, %d allowed, %d throttled\n", ls.RequestsTotal, ls.RequestsAllowed, ls.RequestsThrottled)
	fmt.Printf("  Upstream:   %d rate-limit hits, %d errors\n", ls.RateLimitHits, ls.ErrorsTotal)
	fmt.Printf("  Rate:       %.2f rps, circuit %s (%d opens)\n", ls.CurrentRPS, ls.CircuitState, ls.CircuitOpens)
	fmt.Printf("Cache:\n")
	fmt.Printf("  %d hits, %d misses, %d sets, %d evictions (%.0f%% hit rate, %d entries)\n",
		cs.Hits, cs.Misses, cs.Sets, cs.Evictions, cs.HitRate()*100, cs.Size)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
