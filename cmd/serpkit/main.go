package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/serpkit/serpkit/internal/config"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "serpkit",
		Short: "serpkit — concurrent SERP aggregation engine",
		Long: `serpkit fetches search engine result pages through the Bright Data
SERP API, fanning pages out concurrently and merging them into per-URL
aggregate results.

Features:
  • Concurrent page fan-out with early termination on empty tails
  • URL-level dedup with best/average position tracking
  • Adaptive rate limiting with a circuit breaker
  • TTL+LRU result cache (in-memory or redis)
  • Sequential, parallel, and streaming batch modes`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("serpkit %s\n", config.Version)
		},
	}
}

// statsCmd creates the "stats" subcommand for inspecting the resolved
// configuration. Run-scoped counters are printed by the run commands
// with --stats.
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the resolved engine configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Upstream:\n")
			fmt.Printf("  Base URL:           %s\n", settings.APIBaseURL)
			fmt.Printf("  Zone:               %s\n", settings.Zone)
			fmt.Printf("  Request Timeout:    %s\n", settings.RequestTimeout())
			fmt.Printf("  Poll Interval:      %s\n", settings.PollInterval())
			fmt.Printf("  Max Polls:          %d\n", settings.MaxPolls)
			fmt.Printf("  Max Retries:        %d\n", settings.MaxRetries)
			fmt.Printf("\nSearch defaults:\n")
			fmt.Printf("  Country:            %s\n", settings.DefaultCountry)
			fmt.Printf("  Language:           %s\n", settings.DefaultLanguage)
			fmt.Printf("  Max Pages:          %d\n", settings.DefaultMaxPages)
			fmt.Printf("  Concurrency:        %d\n", settings.DefaultConcurrency)
			fmt.Printf("  Empty-page Limit:   %d\n", settings.ConsecutiveEmptyLimit)
			fmt.Printf("\nRate limiting:\n")
			fmt.Printf("  Enabled:            %v\n", settings.RateLimitEnabled)
			fmt.Printf("  Initial RPS:        %.1f\n", settings.RateLimitRPS)
			fmt.Printf("  Burst:              %d\n", settings.RateLimitBurst)
			fmt.Printf("\nCache:\n")
			fmt.Printf("  Enabled:            %v\n", settings.CacheEnabled)
			fmt.Printf("  Backend:            %s\n", settings.CacheBackend)
			fmt.Printf("  TTL:                %s\n", settings.CacheTTL())
			return nil
		},
	}
}

// setupLogger creates a structured logger per the logging settings.
func setupLogger(settings *config.Settings) *slog.Logger {
	level := slog.LevelInfo
	switch settings.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if settings.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// signalContext returns a context canceled on SIGINT/SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down...", "signal", sig)
		cancel()
	}()
	return ctx, cancel
}
