package types

// PageOrganic is one organic entry as the upstream returns it. Decoding
// is permissive: unknown keys are ignored and missing keys keep their
// zero value.
type PageOrganic struct {
	Link        string `json:"link"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Rank        int    `json:"rank"`
}

// GeneralMetadata is the upstream "general" section.
type GeneralMetadata struct {
	Query        string `json:"query,omitempty"`
	Datetime     string `json:"datetime,omitempty"`
	Language     string `json:"language,omitempty"`
	Location     string `json:"location,omitempty"`
	SearchEngine string `json:"search_engine,omitempty"`
	SearchType   string `json:"search_type,omitempty"`
	PageTitle    string `json:"page_title,omitempty"`
}

// PaginationItem is one upstream pagination link.
type PaginationItem struct {
	Link     string `json:"link,omitempty"`
	Page     string `json:"page,omitempty"`
	PageHTML string `json:"page_html,omitempty"`
}

// PageResponse is the parsed payload for a single SERP page. Auxiliary
// sections are carried through as loosely typed values; only organic is
// interpreted.
type PageResponse struct {
	URL           string           `json:"url,omitempty"`
	Keyword       string           `json:"keyword,omitempty"`
	General       *GeneralMetadata `json:"general,omitempty"`
	Organic       []PageOrganic    `json:"organic,omitempty"`
	Related       []map[string]any `json:"related,omitempty"`
	PeopleAlsoAsk []any            `json:"people_also_ask,omitempty"`
	Pagination    []PaginationItem `json:"pagination,omitempty"`
	Navigation    []map[string]any `json:"navigation,omitempty"`
	Language      string           `json:"language,omitempty"`
	Country       string           `json:"country,omitempty"`
	AioText       string           `json:"aio_text,omitempty"`
}

// OrganicResult is one per-URL merged record. FirstRank keeps the rank
// from the page the URL was first seen on; the remaining fields
// summarize every sighting.
//
// Invariants: Frequency == len(PagesSeen); PagesSeen is ascending and
// unique; BestPosition <= AvgPosition.
type OrganicResult struct {
	Link        string  `json:"link"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	FirstRank   int     `json:"rank"`
	BestPos     int     `json:"best_position"`
	AvgPos      float64 `json:"avg_position"`
	Frequency   int     `json:"frequency"`
	PagesSeen   []int   `json:"pages_seen"`
}

// SearchResult is the aggregate output for one query. Organic is
// ordered by BestPos ascending, ties broken by first insertion into
// the dedup map. No two entries share a Link.
type SearchResult struct {
	URL           string           `json:"url,omitempty"`
	Keyword       string           `json:"keyword,omitempty"`
	General       GeneralMetadata  `json:"general"`
	Organic       []OrganicResult  `json:"organic"`
	Related       []map[string]any `json:"related,omitempty"`
	PeopleAlsoAsk []any            `json:"people_also_ask,omitempty"`
	Pagination    []PaginationItem `json:"pagination,omitempty"`
	Navigation    []map[string]any `json:"navigation,omitempty"`
	Language      string           `json:"language,omitempty"`
	Country       string           `json:"country,omitempty"`
	AioText       string           `json:"aio_text,omitempty"`

	PagesFetched int      `json:"pages_fetched"`
	Errors       []string `json:"errors,omitempty"`
}

// OrganicCount returns the number of merged organic results.
func (r *SearchResult) OrganicCount() int { return len(r.Organic) }

// HasErrors reports whether any page fetch failed.
func (r *SearchResult) HasErrors() bool { return len(r.Errors) > 0 }

// QueryTiming records per-query timing within a batch.
type QueryTiming struct {
	Query          string  `json:"query"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	ResultCount    int     `json:"result_count"`
	PagesFetched   int     `json:"pages_fetched"`
	Errors         int     `json:"errors"`
}

// BatchResult is the output of a batch operation. Results is keyed by
// the trimmed query string; Queries preserves input order.
type BatchResult struct {
	Queries             []string                 `json:"queries"`
	Results             map[string]*SearchResult `json:"results"`
	Timing              map[string]float64       `json:"timing"`
	TotalOrganic        int                      `json:"total_organic"`
	TotalElapsedSeconds float64                  `json:"total_elapsed_seconds"`
	QueryTimings        []QueryTiming            `json:"query_timings"`
}

// SuccessCount returns the number of queries that completed without
// page errors.
func (b *BatchResult) SuccessCount() int {
	n := 0
	for _, r := range b.Results {
		if !r.HasErrors() {
			n++
		}
	}
	return n
}

// ErrorCount returns the number of queries that recorded page errors.
func (b *BatchResult) ErrorCount() int {
	return len(b.Results) - b.SuccessCount()
}
