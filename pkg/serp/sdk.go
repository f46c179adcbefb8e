// Package serp provides a public SDK for embedding the SERP
// aggregation engine as a library.
//
// Example usage:
//
//	client, err := serp.NewClient(
//	    serp.WithAPIKey("..."),
//	    serp.WithDefaultMaxPages(5),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Connect(); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	result, err := client.Search(ctx, "golang generics",
//	    serp.WithCountry("de"),
//	    serp.WithPages(3),
//	)
package serp

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/serpkit/serpkit/internal/cache"
	"github.com/serpkit/serpkit/internal/config"
	"github.com/serpkit/serpkit/internal/engine"
	"github.com/serpkit/serpkit/internal/progress"
	"github.com/serpkit/serpkit/internal/ratelimit"
	"github.com/serpkit/serpkit/internal/types"
)

// Re-exported result and event types.
type (
	Result         = types.SearchResult
	Organic        = types.OrganicResult
	BatchResult    = types.BatchResult
	SearchParams   = types.SearchParams
	Event          = progress.Event
	Reporter       = progress.Reporter
	StreamItem     = engine.StreamItem
	CacheStats     = cache.Stats
	RateLimitStats = ratelimit.Stats
)

// Client is the high-level API for running aggregated searches.
type Client struct {
	settings *config.Settings
	logger   *slog.Logger
	agg      *engine.Aggregator
}

// Option configures a Client at construction time.
type Option func(*clientConfig)

type clientConfig struct {
	settings *config.Settings
	reporter progress.Reporter
	logger   *slog.Logger
	verbose  bool
}

// WithAPIKey sets the upstream API key.
func WithAPIKey(key string) Option {
	return func(c *clientConfig) { c.settings.APIKey = key }
}

// WithZone sets the upstream zone.
func WithZone(zone string) Option {
	return func(c *clientConfig) { c.settings.Zone = zone }
}

// WithDefaultCountry sets the country used when a search gives none.
func WithDefaultCountry(country string) Option {
	return func(c *clientConfig) { c.settings.DefaultCountry = country }
}

// WithDefaultLanguage sets the language used when a search gives none.
func WithDefaultLanguage(language string) Option {
	return func(c *clientConfig) { c.settings.DefaultLanguage = language }
}

// WithDefaultMaxPages sets the page depth used when a search gives none.
func WithDefaultMaxPages(n int) Option {
	return func(c *clientConfig) { c.settings.DefaultMaxPages = n }
}

// WithDefaultConcurrency sets the per-query fan-out width.
func WithDefaultConcurrency(n int) Option {
	return func(c *clientConfig) { c.settings.DefaultConcurrency = n }
}

// WithCacheTTL sets the result cache TTL in seconds.
func WithCacheTTL(seconds int) Option {
	return func(c *clientConfig) { c.settings.CacheTTLSeconds = seconds }
}

// WithoutCache disables the result cache entirely.
func WithoutCache() Option {
	return func(c *clientConfig) { c.settings.CacheEnabled = false }
}

// WithRedisCache switches the result cache to redis at the given URL.
func WithRedisCache(redisURL string) Option {
	return func(c *clientConfig) {
		c.settings.CacheEnabled = true
		c.settings.CacheBackend = config.CacheBackendRedis
		c.settings.RedisURL = redisURL
	}
}

// WithoutRateLimit disables adaptive rate limiting.
func WithoutRateLimit() Option {
	return func(c *clientConfig) { c.settings.RateLimitEnabled = false }
}

// WithReporter installs a progress reporter.
func WithReporter(r progress.Reporter) Option {
	return func(c *clientConfig) { c.reporter = r }
}

// WithProgress installs a callback invoked per page-level event.
func WithProgress(fn func(Event)) Option {
	return func(c *clientConfig) { c.reporter = &progress.Callback{Page: fn} }
}

// WithLogger replaces the default stderr logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) { c.logger = logger }
}

// WithVerbose enables debug-level logging.
func WithVerbose() Option {
	return func(c *clientConfig) { c.verbose = true }
}

// QueryOption overrides one search's parameters.
type QueryOption func(*types.SearchParams)

// WithCountry sets the two-letter country code for this search.
func WithCountry(country string) QueryOption {
	return func(p *types.SearchParams) { p.Country = country }
}

// WithLanguage sets the language code for this search.
func WithLanguage(language string) QueryOption {
	return func(p *types.SearchParams) { p.Language = language }
}

// WithPages sets how many result pages to fetch for this search.
func WithPages(n int) QueryOption {
	return func(p *types.SearchParams) { p.MaxPages = n }
}

// WithConcurrency sets the fan-out width for this search.
func WithConcurrency(n int) QueryOption {
	return func(p *types.SearchParams) { p.Concurrency = n }
}

// WithSearchType tags this search (web, images, news, shopping, videos).
func WithSearchType(t string) QueryOption {
	return func(p *types.SearchParams) { p.SearchType = t }
}

// Fresh bypasses the result cache for this search.
func Fresh() QueryOption {
	return func(p *types.SearchParams) { p.SkipCache = true }
}

// NewClient builds a Client. Settings come from the environment
// (SERP_ prefix, .env honored) and are then overridden by options; an
// API key must come from one of the two.
func NewClient(opts ...Option) (*Client, error) {
	settings, loadErr := config.Load("")
	if loadErr != nil {
		settings = config.DefaultSettings()
	}

	cc := &clientConfig{settings: settings}
	for _, opt := range opts {
		opt(cc)
	}

	if cc.settings.APIKey == "" {
		if loadErr != nil {
			return nil, loadErr
		}
		return nil, &types.ConfigError{Key: "api_key", Err: errors.New("not set")}
	}

	logger := cc.logger
	if logger == nil {
		level := slog.LevelInfo
		if cc.verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	var engOpts []engine.Option
	if cc.reporter != nil {
		engOpts = append(engOpts, engine.WithReporter(cc.reporter))
	}
	agg, err := engine.New(cc.settings, logger, engOpts...)
	if err != nil {
		return nil, err
	}

	return &Client{settings: cc.settings, logger: logger, agg: agg}, nil
}

// Connect prepares the upstream transport. Call once before searching.
func (c *Client) Connect() error { return c.agg.Connect() }

// Close releases the transport and cache connections.
func (c *Client) Close() error { return c.agg.Close() }

// Search runs one aggregated query.
func (c *Client) Search(ctx context.Context, query string, opts ...QueryOption) (*Result, error) {
	return c.agg.Search(ctx, c.params(query, opts))
}

// SearchBatch runs the queries sequentially. Failed queries become
// error-flagged entries, never aborting the rest.
func (c *Client) SearchBatch(ctx context.Context, queries []string, opts ...QueryOption) (*BatchResult, error) {
	return c.agg.SearchBatch(ctx, c.paramsList(queries, opts))
}

// SearchParallel runs the queries with at most maxParallel in flight.
func (c *Client) SearchParallel(ctx context.Context, queries []string, maxParallel int, opts ...QueryOption) (*BatchResult, error) {
	return c.agg.SearchParallel(ctx, c.paramsList(queries, opts), maxParallel)
}

// SearchStream runs the queries concurrently and delivers each result
// as it completes. The channel closes after the last query.
func (c *Client) SearchStream(ctx context.Context, queries []string, maxParallel int, opts ...QueryOption) <-chan StreamItem {
	return c.agg.SearchStream(ctx, c.paramsList(queries, opts), maxParallel)
}

// CacheStats returns a snapshot of the result cache counters.
func (c *Client) CacheStats() CacheStats { return c.agg.Cache().Stats() }

// RateLimitStats returns a snapshot of the limiter counters.
func (c *Client) RateLimitStats() RateLimitStats { return c.agg.RateLimiter().Stats() }

func (c *Client) params(query string, opts []QueryOption) types.SearchParams {
	p := types.SearchParams{Query: query}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func (c *Client) paramsList(queries []string, opts []QueryOption) []types.SearchParams {
	out := make([]types.SearchParams, 0, len(queries))
	for _, q := range queries {
		out = append(out, c.params(q, opts))
	}
	return out
}

// Search is a one-shot convenience: build a client from the
// environment, run one query, tear down.
func Search(ctx context.Context, query string, opts ...QueryOption) (*Result, error) {
	client, err := NewClient()
	if err != nil {
		return nil, err
	}
	if err := client.Connect(); err != nil {
		return nil, err
	}
	defer client.Close()
	return client.Search(ctx, query, opts...)
}

// SearchBatch is a one-shot convenience for a sequential batch.
func SearchBatch(ctx context.Context, queries []string, opts ...QueryOption) (*BatchResult, error) {
	client, err := NewClient()
	if err != nil {
		return nil, err
	}
	if err := client.Connect(); err != nil {
		return nil, err
	}
	defer client.Close()
	return client.SearchBatch(ctx, queries, opts...)
}
