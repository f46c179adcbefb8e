package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/serpkit/serpkit/internal/cache"
	"github.com/serpkit/serpkit/internal/config"
	"github.com/serpkit/serpkit/internal/fetcher"
	"github.com/serpkit/serpkit/internal/progress"
	"github.com/serpkit/serpkit/internal/ratelimit"
	"github.com/serpkit/serpkit/internal/types"
)

// DefaultMaxParallelQueries bounds SearchParallel and SearchStream when
// no width is given.
const DefaultMaxParallelQueries = 5

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithReporter replaces the progress reporter.
func WithReporter(r progress.Reporter) Option {
	return func(a *Aggregator) { a.reporter = r }
}

// WithCache replaces the result cache.
func WithCache(c cache.Cache) Option {
	return func(a *Aggregator) { a.cache = c }
}

// WithLimiter replaces the rate limiter.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(a *Aggregator) { a.limiter = l }
}

// WithFetcher replaces the upstream page fetcher. Connect becomes a
// no-op for the transport when this is set.
func WithFetcher(f fetcher.PageFetcher) Option {
	return func(a *Aggregator) { a.fetcher = f }
}

// Aggregator is the top-level search engine. Construct with New, call
// Connect before searching, and Close when done. Safe for concurrent
// use after Connect.
type Aggregator struct {
	settings *config.Settings
	logger   *slog.Logger
	reporter progress.Reporter
	cache    cache.Cache
	limiter  ratelimit.Limiter
	fetcher  fetcher.PageFetcher

	mu        sync.Mutex
	client    *fetcher.Client
	connected bool
}

// New assembles an Aggregator from settings. The cache and limiter are
// chosen from settings unless overridden by options; redis cache
// construction can fail, hence the error.
func New(settings *config.Settings, logger *slog.Logger, opts ...Option) (*Aggregator, error) {
	a := &Aggregator{
		settings: settings,
		logger:   logger.With("component", "aggregator"),
		reporter: progress.Null{},
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.limiter == nil {
		if settings.RateLimitEnabled {
			a.limiter = ratelimit.NewAdaptive(ratelimit.AdaptiveConfig{
				InitialRPS: settings.RateLimitRPS,
				BurstSize:  settings.RateLimitBurst,
			})
		} else {
			a.limiter = ratelimit.NewNull()
		}
	}

	if a.cache == nil {
		switch {
		case !settings.CacheEnabled:
			a.cache = cache.NewNull()
		case settings.CacheBackend == config.CacheBackendRedis:
			rc, err := cache.NewRedis(settings.RedisURL, settings.CacheTTL(), logger)
			if err != nil {
				return nil, &types.CacheError{Backend: config.CacheBackendRedis, Err: err}
			}
			a.cache = rc
		default:
			a.cache = cache.NewMemory(settings.CacheTTL(), cache.DefaultMaxSize)
		}
	}

	return a, nil
}

// Connect prepares the upstream transport. It is idempotent.
func (a *Aggregator) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return nil
	}
	if a.fetcher == nil {
		a.client = fetcher.NewClient(a.settings, a.limiter, a.logger)
		a.fetcher = a.client
	}
	a.connected = true
	a.logger.Debug("connected", "base_url", a.settings.APIBaseURL)
	return nil
}

// Close releases the transport and any cache connections. The
// Aggregator must not be used afterward.
func (a *Aggregator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil
	}
	a.connected = false
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
	if closer, ok := a.cache.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Search runs one aggregated query: validate, consult the cache, fan
// out the pages, cache the merged result when it is clean.
func (a *Aggregator) Search(ctx context.Context, params types.SearchParams) (*types.SearchResult, error) {
	return a.SearchRaw(ctx, params, nil)
}

// SearchRaw is Search with an optional collector that captures the raw
// page payloads as they complete. Cache hits collect nothing.
func (a *Aggregator) SearchRaw(ctx context.Context, params types.SearchParams, raw *RawCollector) (*types.SearchResult, error) {
	p := a.applyDefaults(params)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}

	key := p.Fingerprint()
	if !p.SkipCache {
		if hit, ok := a.cache.Get(ctx, key); ok {
			a.reporter.OnCacheHit(p.Query)
			a.logger.Debug("cache hit", "query", p.Query, "key", key)
			return hit, nil
		}
	}

	sched := newScheduler(a.settings, a.fetcher, a.reporter, a.logger)
	result, err := sched.run(ctx, p, raw)
	if err != nil {
		return nil, err
	}

	// Only clean results are cached; a partial result would mask the
	// failed pages until the TTL expires.
	if !p.SkipCache && !result.HasErrors() {
		a.cache.Set(ctx, key, result, a.settings.CacheTTL())
	}
	return result, nil
}

// SearchBatch runs the queries sequentially. A failed query becomes an
// error-flagged entry in the batch; it never aborts the rest. Only
// cancellation of ctx stops the batch.
func (a *Aggregator) SearchBatch(ctx context.Context, paramsList []types.SearchParams) (*types.BatchResult, error) {
	batch := newBatchResult(paramsList)
	start := time.Now()

	for _, params := range paramsList {
		q := strings.TrimSpace(params.Query)
		if q == "" {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		qStart := time.Now()
		result, err := a.Search(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result = failedResult(q, err)
			a.reporter.OnError(q, err.Error(), 0)
		}
		recordQuery(batch, q, result, time.Since(qStart))
	}

	batch.TotalElapsedSeconds = time.Since(start).Seconds()
	return batch, nil
}

// SearchParallel runs the queries with at most maxParallel in flight.
// Failure semantics match SearchBatch.
func (a *Aggregator) SearchParallel(ctx context.Context, paramsList []types.SearchParams, maxParallel int) (*types.BatchResult, error) {
	if maxParallel < 1 {
		maxParallel = DefaultMaxParallelQueries
	}

	batch := newBatchResult(paramsList)
	start := time.Now()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for _, params := range paramsList {
		params := params
		q := strings.TrimSpace(params.Query)
		if q == "" {
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			qStart := time.Now()
			result, err := a.Search(gctx, params)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				result = failedResult(q, err)
				a.reporter.OnError(q, err.Error(), 0)
			}
			mu.Lock()
			recordQuery(batch, q, result, time.Since(qStart))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch.TotalElapsedSeconds = time.Since(start).Seconds()
	return batch, nil
}

// StreamItem is one completed query on a stream.
type StreamItem struct {
	Query  string
	Result *types.SearchResult
	Err    error
}

// SearchStream runs the queries with at most maxParallel in flight and
// delivers each result as it completes. Sends block until the consumer
// reads, so no result is dropped; the channel closes after the last
// query or when ctx fires.
func (a *Aggregator) SearchStream(ctx context.Context, paramsList []types.SearchParams, maxParallel int) <-chan StreamItem {
	if maxParallel < 1 {
		maxParallel = DefaultMaxParallelQueries
	}

	out := make(chan StreamItem)
	go func() {
		defer close(out)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxParallel)

		for _, params := range paramsList {
			params := params
			q := strings.TrimSpace(params.Query)
			if q == "" {
				continue
			}
			g.Go(func() error {
				result, err := a.Search(gctx, params)
				select {
				case out <- StreamItem{Query: q, Result: result, Err: err}:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
		g.Wait()
	}()
	return out
}

// Cache returns the result cache for stats inspection.
func (a *Aggregator) Cache() cache.Cache { return a.cache }

// RateLimiter returns the limiter for stats inspection.
func (a *Aggregator) RateLimiter() ratelimit.Limiter { return a.limiter }

// Settings returns the engine configuration.
func (a *Aggregator) Settings() *config.Settings { return a.settings }

func (a *Aggregator) ensureConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return &types.ConfigError{Key: "connection", Err: types.ErrNotConnected}
	}
	return nil
}

// applyDefaults fills unset request fields from the configured search
// defaults.
func (a *Aggregator) applyDefaults(p types.SearchParams) types.SearchParams {
	p.Query = strings.TrimSpace(p.Query)
	if p.Country == "" {
		p.Country = a.settings.DefaultCountry
	}
	if p.Language == "" {
		p.Language = a.settings.DefaultLanguage
	}
	if p.MaxPages == 0 {
		p.MaxPages = a.settings.DefaultMaxPages
	}
	if p.Concurrency == 0 {
		p.Concurrency = a.settings.DefaultConcurrency
	}
	return p
}

// failedResult wraps a query-level error as an error-flagged empty
// result so batch output keeps one entry per query.
func failedResult(query string, err error) *types.SearchResult {
	return &types.SearchResult{
		General: types.GeneralMetadata{
			Query:        query,
			SearchEngine: "google",
			SearchType:   "text",
		},
		Errors: []string{err.Error()},
	}
}

func newBatchResult(paramsList []types.SearchParams) *types.BatchResult {
	queries := make([]string, 0, len(paramsList))
	for _, p := range paramsList {
		if q := strings.TrimSpace(p.Query); q != "" {
			queries = append(queries, q)
		}
	}
	return &types.BatchResult{
		Queries: queries,
		Results: make(map[string]*types.SearchResult, len(queries)),
		Timing:  make(map[string]float64, len(queries)),
	}
}

func recordQuery(batch *types.BatchResult, query string, result *types.SearchResult, elapsed time.Duration) {
	batch.Results[query] = result
	batch.Timing[query] = elapsed.Seconds()
	batch.TotalOrganic += result.OrganicCount()
	batch.QueryTimings = append(batch.QueryTimings, types.QueryTiming{
		Query:          query,
		ElapsedSeconds: elapsed.Seconds(),
		ResultCount:    result.OrganicCount(),
		PagesFetched:   result.PagesFetched,
		Errors:         len(result.Errors),
	})
}
