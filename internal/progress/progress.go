// Package progress defines the lifecycle event protocol emitted by the
// aggregation engine and a set of pluggable reporters.
package progress

import (
	"log/slog"
	"time"
)

// Event statuses.
const (
	StatusFetching = "fetching"
	StatusComplete = "complete"
	StatusEmpty    = "empty"
	StatusError    = "error"
	StatusCached   = "cached"
)

// Event describes one page-level transition during a query.
type Event struct {
	Query        string    `json:"query"`
	Page         int       `json:"page"`
	TotalPages   int       `json:"total_pages"`
	ResultsCount int       `json:"results_count"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Pct returns completion as a percentage of total pages.
func (e Event) Pct() float64 {
	if e.TotalPages == 0 {
		return 0
	}
	return float64(e.Page) / float64(e.TotalPages) * 100
}

// Reporter receives lifecycle events for queries and pages. Methods may
// be called from multiple goroutines; implementations must be safe for
// concurrent use and must not block the scheduler for long.
type Reporter interface {
	OnQueryStart(query string, totalPages int)
	OnPageComplete(ev Event)
	OnQueryComplete(query string, totalResults int, elapsed time.Duration)
	OnError(query, msg string, page int)
	OnCacheHit(query string)
}

// Null is a silent Reporter.
type Null struct{}

func (Null) OnQueryStart(string, int)                   {}
func (Null) OnPageComplete(Event)                       {}
func (Null) OnQueryComplete(string, int, time.Duration) {}
func (Null) OnError(string, string, int)                {}
func (Null) OnCacheHit(string)                          {}

// Logging reports through a slog.Logger. Page-level events are logged
// at debug unless Verbose is set.
type Logging struct {
	Logger  *slog.Logger
	Verbose bool
}

// NewLogging creates a Logging reporter.
func NewLogging(logger *slog.Logger, verbose bool) *Logging {
	return &Logging{Logger: logger.With("component", "progress"), Verbose: verbose}
}

func (l *Logging) OnQueryStart(query string, totalPages int) {
	l.Logger.Info("query start", "query", query, "max_pages", totalPages)
}

func (l *Logging) OnPageComplete(ev Event) {
	log := l.Logger.Debug
	if l.Verbose {
		log = l.Logger.Info
	}
	log("page "+ev.Status, "query", ev.Query, "page", ev.Page, "total_pages", ev.TotalPages, "results", ev.ResultsCount)
}

func (l *Logging) OnQueryComplete(query string, totalResults int, elapsed time.Duration) {
	l.Logger.Info("query complete", "query", query, "results", totalResults, "elapsed", elapsed.Round(time.Millisecond))
}

func (l *Logging) OnError(query, msg string, page int) {
	if page > 0 {
		l.Logger.Warn("page error", "query", query, "page", page, "error", msg)
	} else {
		l.Logger.Warn("query error", "query", query, "error", msg)
	}
}

func (l *Logging) OnCacheHit(query string) {
	l.Logger.Info("cache hit", "query", query)
}

// Callback dispatches events to optional user functions. Nil fields are
// skipped.
type Callback struct {
	Start    func(query string, totalPages int)
	Page     func(ev Event)
	Complete func(query string, totalResults int, elapsed time.Duration)
	Error    func(query, msg string, page int)
	CacheHit func(query string)
}

func (c *Callback) OnQueryStart(query string, totalPages int) {
	if c.Start != nil {
		c.Start(query, totalPages)
	}
}

func (c *Callback) OnPageComplete(ev Event) {
	if c.Page != nil {
		c.Page(ev)
	}
}

func (c *Callback) OnQueryComplete(query string, totalResults int, elapsed time.Duration) {
	if c.Complete != nil {
		c.Complete(query, totalResults, elapsed)
	}
}

func (c *Callback) OnError(query, msg string, page int) {
	if c.Error != nil {
		c.Error(query, msg, page)
	}
}

func (c *Callback) OnCacheHit(query string) {
	if c.CacheHit != nil {
		c.CacheHit(query)
	}
}
