// Package cache memoizes SearchResults keyed by query fingerprint.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/serpkit/serpkit/internal/types"
)

// Cache is the result cache plug point. Implementations must be safe
// for concurrent callers. Get returns (nil, false) on a miss; remote
// backends degrade transport failures to a miss rather than surfacing
// them.
type Cache interface {
	Get(ctx context.Context, key string) (*types.SearchResult, bool)
	Set(ctx context.Context, key string, value *types.SearchResult, ttl time.Duration)
	Delete(ctx context.Context, key string) bool
	Clear(ctx context.Context)
	Stats() Stats
}

// Stats is an eventually consistent snapshot of cache counters.
// Expired-entry removal counts as an eviction.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

// HitRate returns hits over total lookups, or 0 when no lookups
// happened yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Null is a disabled cache: every Get misses and Set is dropped.
type Null struct {
	misses atomic.Int64
}

// NewNull creates a Null cache.
func NewNull() *Null { return &Null{} }

func (n *Null) Get(ctx context.Context, key string) (*types.SearchResult, bool) {
	n.misses.Add(1)
	return nil, false
}

func (n *Null) Set(ctx context.Context, key string, value *types.SearchResult, ttl time.Duration) {
}

func (n *Null) Delete(ctx context.Context, key string) bool { return false }

func (n *Null) Clear(ctx context.Context) {}

func (n *Null) Stats() Stats { return Stats{Misses: n.misses.Load()} }
