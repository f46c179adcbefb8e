package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/serpkit/serpkit/internal/types"
)

// DefaultMaxSize bounds the in-memory cache when no size is given.
const DefaultMaxSize = 1000

type memoryEntry struct {
	key       string
	value     *types.SearchResult
	createdAt time.Time
	ttl       time.Duration // zero disables expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) > e.ttl
}

// Memory is an in-process cache with per-entry TTL and LRU eviction at
// max size. Safe for concurrent use.
type Memory struct {
	defaultTTL time.Duration
	maxSize    int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	stats   Stats
	now     func() time.Time
}

// NewMemory creates a Memory cache. defaultTTL applies when Set is
// called with a negative ttl; zero TTL disables expiry. maxSize <= 0
// falls back to DefaultMaxSize.
func NewMemory(defaultTTL time.Duration, maxSize int) *Memory {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Memory{
		defaultTTL: defaultTTL,
		maxSize:    maxSize,
		entries:    make(map[string]*list.Element, maxSize),
		order:      list.New(),
		now:        time.Now,
	}
}

func (m *Memory) Get(ctx context.Context, key string) (*types.SearchResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		m.stats.Misses++
		return nil, false
	}
	entry := el.Value.(*memoryEntry)
	if entry.expired(m.now()) {
		m.removeLocked(el)
		m.stats.Misses++
		m.stats.Evictions++
		return nil, false
	}

	m.order.MoveToFront(el)
	m.stats.Hits++
	return entry.value, true
}

// Set stores value under key. A negative ttl means "use the default";
// zero disables expiry for this entry.
func (m *Memory) Set(ctx context.Context, key string, value *types.SearchResult, ttl time.Duration) {
	if ttl < 0 {
		ttl = m.defaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.value = value
		entry.createdAt = m.now()
		entry.ttl = ttl
		m.order.MoveToFront(el)
		m.stats.Sets++
		return
	}

	for len(m.entries) >= m.maxSize {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.removeLocked(oldest)
		m.stats.Evictions++
	}

	el := m.order.PushFront(&memoryEntry{
		key:       key,
		value:     value,
		createdAt: m.now(),
		ttl:       ttl,
	})
	m.entries[key] = el
	m.stats.Sets++
}

func (m *Memory) Delete(ctx context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return false
	}
	m.removeLocked(el)
	return true
}

func (m *Memory) Clear(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*list.Element, m.maxSize)
	m.order.Init()
}

// CleanupExpired removes every expired entry and returns how many were
// removed.
func (m *Memory) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for el := m.order.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*memoryEntry).expired(now) {
			m.removeLocked(el)
			m.stats.Evictions++
			removed++
		}
		el = prev
	}
	return removed
}

func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Size = len(m.entries)
	return s
}

// removeLocked unlinks an element from both the map and the LRU list.
// Caller holds mu.
func (m *Memory) removeLocked(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	delete(m.entries, entry.key)
	m.order.Remove(el)
}
