// Package engine fans page fetches out across goroutines, merges the
// pages into per-URL aggregate results, and exposes the high-level
// search operations on top of that scheduler.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/serpkit/serpkit/internal/config"
	"github.com/serpkit/serpkit/internal/fetcher"
	"github.com/serpkit/serpkit/internal/progress"
	"github.com/serpkit/serpkit/internal/types"
)

// RawCollector accumulates the raw page payloads of a query for
// debugging. Safe for concurrent use.
type RawCollector struct {
	mu    sync.Mutex
	pages []*types.PageResponse
}

// NewRawCollector creates an empty collector.
func NewRawCollector() *RawCollector { return &RawCollector{} }

func (r *RawCollector) add(p *types.PageResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages = append(r.pages, p)
}

// Pages returns the collected payloads in completion order.
func (r *RawCollector) Pages() []*types.PageResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.PageResponse, len(r.pages))
	copy(out, r.pages)
	return out
}

// pageOutcome is one worker's report: either a parsed page or the error
// that stopped it. Values are immutable once sent.
type pageOutcome struct {
	page int
	resp *types.PageResponse
	err  error
}

// organicAccum collects every sighting of one URL across pages. order
// is the insertion sequence into the dedup map and breaks position
// ties, so merge output stays deterministic for a fixed completion
// order.
type organicAccum struct {
	link        string
	title       string
	description string
	firstRank   int
	positions   []int
	pages       []int
	order       int
}

// scheduler runs one query: fan out page fetches bounded by the
// concurrency limit, merge outcomes in completion order, terminate
// early when consecutive empty pages hit the configured limit.
type scheduler struct {
	settings *config.Settings
	fetcher  fetcher.PageFetcher
	reporter progress.Reporter
	logger   *slog.Logger
}

func newScheduler(settings *config.Settings, f fetcher.PageFetcher, reporter progress.Reporter, logger *slog.Logger) *scheduler {
	return &scheduler{
		settings: settings,
		fetcher:  f,
		reporter: reporter,
		logger:   logger.With("component", "scheduler"),
	}
}

// run executes one full query. Page errors are recorded in the result,
// not returned; the only error path is cancellation of ctx.
func (s *scheduler) run(ctx context.Context, params types.SearchParams, raw *RawCollector) (*types.SearchResult, error) {
	start := time.Now()
	s.reporter.OnQueryStart(params.Query, params.MaxPages)

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(params.Concurrency))
	outcomes := make(chan pageOutcome)

	var wg sync.WaitGroup
	for page := 1; page <= params.MaxPages; page++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			if err := sem.Acquire(pctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			resp, err := s.fetcher.FetchPage(pctx, params, 10*(page-1))
			select {
			case outcomes <- pageOutcome{page: page, resp: resp, err: err}:
			case <-pctx.Done():
			}
		}(page)
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	m := newMerger(params)
	limit := s.settings.ConsecutiveEmptyLimit

	for o := range outcomes {
		if ctx.Err() != nil {
			cancel()
			return nil, ctx.Err()
		}

		if o.err != nil {
			msg := fmt.Sprintf("Page %d: %v", o.page, o.err)
			m.addError(msg)
			s.reporter.OnError(params.Query, msg, o.page)
		} else {
			if raw != nil {
				raw.add(o.resp)
			}
			count := m.addPage(o.page, o.resp)
			status := progress.StatusComplete
			if count == 0 {
				status = progress.StatusEmpty
			}
			s.reporter.OnPageComplete(progress.Event{
				Query:        params.Query,
				Page:         o.page,
				TotalPages:   params.MaxPages,
				ResultsCount: count,
				Status:       status,
				Timestamp:    time.Now(),
			})
		}

		if limit > 0 && m.consecutiveEmpty >= limit {
			s.logger.Debug("early termination",
				"query", params.Query,
				"consecutive_empty", m.consecutiveEmpty,
				"pages_fetched", m.pagesFetched,
			)
			cancel()
			break
		}
	}
	// Let outstanding workers observe the cancel and unwind.
	wg.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result := m.finalize(params.Query)
	s.reporter.OnQueryComplete(params.Query, len(result.Organic), time.Since(start))
	return result, nil
}

// merger folds page outcomes into the final SearchResult. It is not
// safe for concurrent use; the scheduler feeds it from a single
// goroutine.
type merger struct {
	params types.SearchParams

	organic map[string]*organicAccum
	first   *types.PageResponse
	errors  []string

	pagesFetched     int
	consecutiveEmpty int
}

func newMerger(params types.SearchParams) *merger {
	return &merger{
		params:  params,
		organic: make(map[string]*organicAccum),
	}
}

// addPage folds one successful page in and returns the number of
// organic entries it carried. The first page to complete, in wall-clock
// order, supplies the result's metadata sections.
func (m *merger) addPage(page int, resp *types.PageResponse) int {
	m.pagesFetched++
	if m.first == nil {
		m.first = resp
	}

	if len(resp.Organic) == 0 {
		m.consecutiveEmpty++
		return 0
	}
	m.consecutiveEmpty = 0

	for _, item := range resp.Organic {
		if item.Link == "" {
			continue
		}
		acc, ok := m.organic[item.Link]
		if !ok {
			acc = &organicAccum{
				link:        item.Link,
				title:       item.Title,
				description: item.Description,
				firstRank:   item.Rank,
				order:       len(m.organic),
			}
			m.organic[item.Link] = acc
		}
		acc.positions = append(acc.positions, item.Rank)
		acc.pages = append(acc.pages, page)
	}
	return len(resp.Organic)
}

// addError records a failed page. Errors count toward the
// consecutive-empty run like empty pages do.
func (m *merger) addError(msg string) {
	m.pagesFetched++
	m.consecutiveEmpty++
	m.errors = append(m.errors, msg)
}

// finalize computes the per-URL position summaries and assembles the
// SearchResult. Organic output is sorted by best position ascending,
// ties kept in first-insertion order.
func (m *merger) finalize(query string) *types.SearchResult {
	accs := make([]*organicAccum, 0, len(m.organic))
	for _, acc := range m.organic {
		accs = append(accs, acc)
	}
	sort.Slice(accs, func(i, j int) bool { return accs[i].order < accs[j].order })

	organic := make([]types.OrganicResult, 0, len(accs))
	for _, acc := range accs {
		organic = append(organic, types.OrganicResult{
			Link:        acc.link,
			Title:       acc.title,
			Description: acc.description,
			FirstRank:   acc.firstRank,
			BestPos:     minInt(acc.positions),
			AvgPos:      round2(mean(acc.positions)),
			Frequency:   len(acc.positions),
			PagesSeen:   sortedUnique(acc.pages),
		})
	}
	sort.SliceStable(organic, func(i, j int) bool { return organic[i].BestPos < organic[j].BestPos })

	result := &types.SearchResult{
		General: types.GeneralMetadata{
			Query:        query,
			SearchEngine: "google",
			SearchType:   "text",
		},
		Organic:      organic,
		PagesFetched: m.pagesFetched,
		Errors:       m.errors,
	}

	if m.first != nil {
		result.URL = m.first.URL
		result.Keyword = m.first.Keyword
		result.Related = m.first.Related
		result.PeopleAlsoAsk = m.first.PeopleAlsoAsk
		result.Pagination = sortPagination(m.first.Pagination)
		result.Navigation = m.first.Navigation
		result.Language = m.first.Language
		result.Country = m.first.Country
		result.AioText = m.first.AioText
		if g := m.first.General; g != nil {
			result.General = *g
			if result.General.Query == "" {
				result.General.Query = query
			}
			if result.General.SearchEngine == "" {
				result.General.SearchEngine = "google"
			}
			if result.General.SearchType == "" {
				result.General.SearchType = "text"
			}
		}
	}
	return result
}

// sortPagination orders pagination links by their numeric page label.
// Non-numeric labels sort first.
func sortPagination(items []types.PaginationItem) []types.PaginationItem {
	if len(items) == 0 {
		return items
	}
	out := make([]types.PaginationItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return paginationPage(out[i]) < paginationPage(out[j])
	})
	return out
}

func paginationPage(item types.PaginationItem) int {
	n, err := strconv.Atoi(item.Page)
	if err != nil {
		return 0
	}
	return n
}

func minInt(xs []int) int {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func mean(xs []int) float64 {
	sum := 0
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func sortedUnique(xs []int) []int {
	seen := make(map[int]struct{}, len(xs))
	out := make([]int, 0, len(xs))
	for _, x := range xs {
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	sort.Ints(out)
	return out
}
