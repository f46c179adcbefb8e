package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/serpkit/serpkit/internal/config"
	"github.com/serpkit/serpkit/internal/progress"
	"github.com/serpkit/serpkit/internal/types"
)

// countingFetcher returns one synthetic result per page and counts
// upstream calls.
type countingFetcher struct {
	calls atomic.Int32
	delay time.Duration
	fail  bool

	mu         sync.Mutex
	lastParams types.SearchParams
}

func (f *countingFetcher) FetchPage(ctx context.Context, params types.SearchParams, offset int) (*types.PageResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastParams = params
	f.mu.Unlock()

	if f.delay > 0 {
		timer := time.NewTimer(f.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if f.fail {
		return nil, &types.APIError{Message: "synthetic failure"}
	}
	link := fmt.Sprintf("https://example.com/%s/%d", types.NormalizeQuery(params.Query), offset)
	return page(entry(link, offset/10+1)), nil
}

func (f *countingFetcher) last() types.SearchParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastParams
}

func testAggSettings() *config.Settings {
	s := testEngineSettings()
	s.DefaultMaxPages = 1
	s.DefaultConcurrency = 5
	return s
}

func newTestAggregator(t *testing.T, settings *config.Settings, f *countingFetcher, opts ...Option) *Aggregator {
	t.Helper()
	opts = append(opts, WithFetcher(f))
	agg, err := New(settings, discardLogger(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := agg.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { agg.Close() })
	return agg
}

func TestAggregatorNotConnected(t *testing.T) {
	agg, err := New(testAggSettings(), discardLogger(), WithFetcher(&countingFetcher{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = agg.Search(context.Background(), types.SearchParams{Query: "golang"})
	if !errors.Is(err, types.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestAggregatorSearchAppliesDefaults(t *testing.T) {
	f := &countingFetcher{}
	agg := newTestAggregator(t, testAggSettings(), f)

	result, err := agg.Search(context.Background(), types.SearchParams{Query: "golang"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	got := f.last()
	if got.Country != "us" || got.Language != "en" || got.MaxPages != 1 {
		t.Errorf("defaults not applied: %+v", got)
	}
	if result.OrganicCount() != 1 {
		t.Errorf("expected 1 result, got %d", result.OrganicCount())
	}
}

func TestAggregatorValidationError(t *testing.T) {
	agg := newTestAggregator(t, testAggSettings(), &countingFetcher{})

	_, err := agg.Search(context.Background(), types.SearchParams{Query: "golang", MaxPages: -1})
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestAggregatorCacheHit(t *testing.T) {
	f := &countingFetcher{}
	rep := progress.NewAggregating()
	agg := newTestAggregator(t, testAggSettings(), f, WithReporter(rep))
	ctx := context.Background()
	params := types.SearchParams{Query: "golang generics"}

	first, err := agg.Search(ctx, params)
	if err != nil {
		t.Fatalf("first search: %v", err)
	}
	callsAfterFirst := f.calls.Load()

	second, err := agg.Search(ctx, params)
	if err != nil {
		t.Fatalf("second search: %v", err)
	}

	// The repeat must be served entirely from cache.
	if f.calls.Load() != callsAfterFirst {
		t.Errorf("cache hit made %d upstream calls", f.calls.Load()-callsAfterFirst)
	}
	if rep.CacheHits() != 1 {
		t.Errorf("expected 1 reported cache hit, got %d", rep.CacheHits())
	}
	if second.OrganicCount() != first.OrganicCount() {
		t.Errorf("cached result differs: %d vs %d", second.OrganicCount(), first.OrganicCount())
	}
}

func TestAggregatorCacheKeyNormalization(t *testing.T) {
	f := &countingFetcher{}
	agg := newTestAggregator(t, testAggSettings(), f)
	ctx := context.Background()

	if _, err := agg.Search(ctx, types.SearchParams{Query: "Golang  Generics"}); err != nil {
		t.Fatalf("first search: %v", err)
	}
	calls := f.calls.Load()

	if _, err := agg.Search(ctx, types.SearchParams{Query: "golang generics"}); err != nil {
		t.Fatalf("second search: %v", err)
	}
	if f.calls.Load() != calls {
		t.Error("normalized query variants should share a cache entry")
	}
}

func TestAggregatorSkipCache(t *testing.T) {
	f := &countingFetcher{}
	agg := newTestAggregator(t, testAggSettings(), f)
	ctx := context.Background()

	if _, err := agg.Search(ctx, types.SearchParams{Query: "golang"}); err != nil {
		t.Fatalf("first search: %v", err)
	}
	calls := f.calls.Load()

	if _, err := agg.Search(ctx, types.SearchParams{Query: "golang", SkipCache: true}); err != nil {
		t.Fatalf("second search: %v", err)
	}
	if f.calls.Load() == calls {
		t.Error("SkipCache should bypass the cache and hit upstream")
	}
}

func TestAggregatorErrorResultsNotCached(t *testing.T) {
	f := &countingFetcher{fail: true}
	agg := newTestAggregator(t, testAggSettings(), f)
	ctx := context.Background()
	params := types.SearchParams{Query: "golang"}

	result, err := agg.Search(ctx, params)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !result.HasErrors() {
		t.Fatal("expected an error-flagged result")
	}
	calls := f.calls.Load()

	if _, err := agg.Search(ctx, params); err != nil {
		t.Fatalf("second search: %v", err)
	}
	if f.calls.Load() == calls {
		t.Error("error-flagged results must not be served from cache")
	}
}

func TestSearchBatchContinuesOnFailure(t *testing.T) {
	agg := newTestAggregator(t, testAggSettings(), &countingFetcher{})

	batch, err := agg.SearchBatch(context.Background(), []types.SearchParams{
		{Query: "good"},
		{Query: "bad", MaxPages: -1},
		{Query: "also good"},
	})
	if err != nil {
		t.Fatalf("SearchBatch: %v", err)
	}

	if len(batch.Results) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(batch.Results))
	}
	if !batch.Results["bad"].HasErrors() {
		t.Error("failed query should be error-flagged")
	}
	if batch.Results["good"].HasErrors() || batch.Results["also good"].HasErrors() {
		t.Error("healthy queries should not be flagged")
	}
	if batch.SuccessCount() != 2 || batch.ErrorCount() != 1 {
		t.Errorf("expected 2 ok / 1 failed, got %d / %d", batch.SuccessCount(), batch.ErrorCount())
	}
}

func TestSearchBatchSkipsBlankQueries(t *testing.T) {
	agg := newTestAggregator(t, testAggSettings(), &countingFetcher{})

	batch, err := agg.SearchBatch(context.Background(), []types.SearchParams{
		{Query: "golang"},
		{Query: "   "},
	})
	if err != nil {
		t.Fatalf("SearchBatch: %v", err)
	}
	if len(batch.Queries) != 1 || len(batch.Results) != 1 {
		t.Errorf("blank queries should be skipped: %v", batch.Queries)
	}
}

func TestSearchParallelBoundsWallTime(t *testing.T) {
	settings := testAggSettings()
	settings.CacheEnabled = false
	f := &countingFetcher{delay: 100 * time.Millisecond}
	agg := newTestAggregator(t, settings, f)

	paramsList := make([]types.SearchParams, 10)
	for i := range paramsList {
		paramsList[i] = types.SearchParams{Query: fmt.Sprintf("query %d", i)}
	}

	start := time.Now()
	batch, err := agg.SearchParallel(context.Background(), paramsList, 3)
	if err != nil {
		t.Fatalf("SearchParallel: %v", err)
	}
	elapsed := time.Since(start)

	if len(batch.Results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(batch.Results))
	}
	if f.calls.Load() != 10 {
		t.Errorf("expected 10 upstream calls, got %d", f.calls.Load())
	}
	// ceil(10/3) waves of 100ms each; sequential would take a full second.
	if elapsed > 800*time.Millisecond {
		t.Errorf("parallel batch too slow: %v", elapsed)
	}
	if elapsed < 350*time.Millisecond {
		t.Errorf("parallel width not enforced: %v", elapsed)
	}
}

func TestSearchStreamDeliversAll(t *testing.T) {
	settings := testAggSettings()
	settings.CacheEnabled = false
	agg := newTestAggregator(t, settings, &countingFetcher{})

	paramsList := []types.SearchParams{
		{Query: "one"}, {Query: "two"}, {Query: "three"},
	}

	got := map[string]bool{}
	for item := range agg.SearchStream(context.Background(), paramsList, 2) {
		if item.Err != nil {
			t.Errorf("query %q: %v", item.Query, item.Err)
			continue
		}
		got[item.Query] = true
	}
	if len(got) != 3 {
		t.Errorf("expected 3 streamed results, got %v", got)
	}
}

func TestAggregatorConnectIdempotent(t *testing.T) {
	agg := newTestAggregator(t, testAggSettings(), &countingFetcher{})
	if err := agg.Connect(); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if err := agg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := agg.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestAggregatorAccessors(t *testing.T) {
	settings := testAggSettings()
	agg := newTestAggregator(t, settings, &countingFetcher{})

	if agg.Cache() == nil || agg.RateLimiter() == nil {
		t.Fatal("accessors should expose live components")
	}
	if agg.Settings() != settings {
		t.Error("Settings should return the configured settings")
	}

	if _, err := agg.Search(context.Background(), types.SearchParams{Query: "golang"}); err != nil {
		t.Fatalf("search: %v", err)
	}
	if agg.Cache().Stats().Sets != 1 {
		t.Errorf("expected 1 cache set, got %d", agg.Cache().Stats().Sets)
	}
}
