package progress

import (
	"sync"
	"time"
)

// PageError records one page-level failure seen by an Aggregating
// reporter.
type PageError struct {
	Query string
	Page  int
	Msg   string
}

// Aggregating collects events in memory for batch runs. Safe for
// concurrent use.
type Aggregating struct {
	mu           sync.Mutex
	events       []Event
	queryStarts  map[string]time.Time
	queryResults map[string]int
	errors       []PageError
	cacheHits    int
}

// NewAggregating creates an empty Aggregating reporter.
func NewAggregating() *Aggregating {
	return &Aggregating{
		queryStarts:  make(map[string]time.Time),
		queryResults: make(map[string]int),
	}
}

func (a *Aggregating) OnQueryStart(query string, totalPages int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queryStarts[query] = time.Now()
}

func (a *Aggregating) OnPageComplete(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *Aggregating) OnQueryComplete(query string, totalResults int, elapsed time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queryResults[query] = totalResults
}

func (a *Aggregating) OnError(query, msg string, page int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors = append(a.errors, PageError{Query: query, Page: page, Msg: msg})
}

func (a *Aggregating) OnCacheHit(query string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cacheHits++
}

// Events returns a copy of all page events seen so far.
func (a *Aggregating) Events() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Event, len(a.events))
	copy(out, a.events)
	return out
}

// Errors returns a copy of all page errors seen so far.
func (a *Aggregating) Errors() []PageError {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PageError, len(a.errors))
	copy(out, a.errors)
	return out
}

// TotalPagesFetched returns the number of page events recorded.
func (a *Aggregating) TotalPagesFetched() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

// TotalResults sums completed query result counts.
func (a *Aggregating) TotalResults() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.queryResults {
		n += c
	}
	return n
}

// ErrorCount returns the number of page errors recorded.
func (a *Aggregating) ErrorCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.errors)
}

// CacheHits returns the number of cache hits recorded.
func (a *Aggregating) CacheHits() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cacheHits
}

// Channel exposes every lifecycle transition as a stream of Events on
// a bounded channel. Query start, completion, and cache hits are
// synthesized into Events with StatusFetching, StatusComplete, and
// StatusCached (page 0 marks query-level events).
//
// Sends block when the buffer is full; nothing is dropped while the
// stream is live. Call Stop when done consuming — after Stop, pending
// and further sends are released and discarded.
type Channel struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// NewChannel creates a Channel reporter with the given buffer size.
// A size of zero makes every send rendezvous with the consumer.
func NewChannel(buffer int) *Channel {
	return &Channel{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// Events returns the receive side of the stream. The channel is never
// closed; consumers should also select on Done.
func (c *Channel) Events() <-chan Event { return c.ch }

// Done is closed by Stop and signals consumers that no further events
// will arrive.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Stop ends the stream and unblocks any pending sends. Safe to call
// more than once.
func (c *Channel) Stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *Channel) send(ev Event) {
	select {
	case c.ch <- ev:
	case <-c.done:
	}
}

func (c *Channel) OnQueryStart(query string, totalPages int) {
	c.send(Event{Query: query, TotalPages: totalPages, Status: StatusFetching, Timestamp: time.Now()})
}

func (c *Channel) OnPageComplete(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	c.send(ev)
}

func (c *Channel) OnQueryComplete(query string, totalResults int, elapsed time.Duration) {
	c.send(Event{Query: query, ResultsCount: totalResults, Status: StatusComplete, Timestamp: time.Now()})
}

func (c *Channel) OnError(query, msg string, page int) {
	c.send(Event{Query: query, Page: page, Status: StatusError, Message: msg, Timestamp: time.Now()})
}

func (c *Channel) OnCacheHit(query string) {
	c.send(Event{Query: query, Status: StatusCached, Timestamp: time.Now()})
}
