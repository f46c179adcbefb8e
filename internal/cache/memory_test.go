package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/serpkit/serpkit/internal/types"
)

func resultFor(query string) *types.SearchResult {
	return &types.SearchResult{
		General: types.GeneralMetadata{Query: query},
		Organic: []types.OrganicResult{{Link: "https://example.com/" + query, BestPos: 1}},
	}
}

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour, 10)

	if _, ok := m.Get(ctx, "k1"); ok {
		t.Fatal("expected miss on empty cache")
	}

	m.Set(ctx, "k1", resultFor("golang"), -1)
	got, ok := m.Get(ctx, "k1")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if got.General.Query != "golang" {
		t.Errorf("expected query golang, got %q", got.General.Query)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour, 10)

	now := time.Now()
	m.now = func() time.Time { return now }

	m.Set(ctx, "k1", resultFor("golang"), time.Minute)

	now = now.Add(59 * time.Second)
	if _, ok := m.Get(ctx, "k1"); !ok {
		t.Fatal("entry should still be live before the TTL")
	}

	now = now.Add(2 * time.Second)
	if _, ok := m.Get(ctx, "k1"); ok {
		t.Fatal("entry should be gone after the TTL")
	}

	stats := m.Stats()
	if stats.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", stats.Evictions)
	}
	if stats.Size != 0 {
		t.Errorf("expired entry should be removed, size %d", stats.Size)
	}
}

func TestMemoryZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour, 10)

	now := time.Now()
	m.now = func() time.Time { return now }

	m.Set(ctx, "k1", resultFor("golang"), 0)
	now = now.Add(1000 * time.Hour)
	if _, ok := m.Get(ctx, "k1"); !ok {
		t.Error("zero-TTL entry should never expire")
	}
}

func TestMemoryLRUEviction(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour, 3)

	m.Set(ctx, "a", resultFor("a"), -1)
	m.Set(ctx, "b", resultFor("b"), -1)
	m.Set(ctx, "c", resultFor("c"), -1)

	// Touch "a" so "b" becomes the least recently used.
	if _, ok := m.Get(ctx, "a"); !ok {
		t.Fatal("expected hit on a")
	}

	m.Set(ctx, "d", resultFor("d"), -1)

	if _, ok := m.Get(ctx, "b"); ok {
		t.Error("b should have been evicted as LRU")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := m.Get(ctx, k); !ok {
			t.Errorf("%s should have survived the eviction", k)
		}
	}

	stats := m.Stats()
	if stats.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", stats.Evictions)
	}
	if stats.Size != 3 {
		t.Errorf("expected size 3, got %d", stats.Size)
	}
}

func TestMemorySetExistingRefreshes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour, 2)

	m.Set(ctx, "a", resultFor("a"), -1)
	m.Set(ctx, "b", resultFor("b"), -1)
	m.Set(ctx, "a", resultFor("a2"), -1)

	// Re-setting "a" must not evict anything.
	if _, ok := m.Get(ctx, "b"); !ok {
		t.Error("b should still be cached")
	}
	got, _ := m.Get(ctx, "a")
	if got.General.Query != "a2" {
		t.Errorf("expected refreshed value a2, got %q", got.General.Query)
	}
}

func TestMemoryDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour, 10)

	m.Set(ctx, "a", resultFor("a"), -1)
	if !m.Delete(ctx, "a") {
		t.Error("Delete should report true for an existing key")
	}
	if m.Delete(ctx, "a") {
		t.Error("Delete should report false for a missing key")
	}

	m.Set(ctx, "b", resultFor("b"), -1)
	m.Set(ctx, "c", resultFor("c"), -1)
	m.Clear(ctx)
	if m.Stats().Size != 0 {
		t.Errorf("expected empty cache after Clear, size %d", m.Stats().Size)
	}
}

func TestMemoryCleanupExpired(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour, 10)

	now := time.Now()
	m.now = func() time.Time { return now }

	m.Set(ctx, "short", resultFor("short"), time.Minute)
	m.Set(ctx, "long", resultFor("long"), time.Hour)

	now = now.Add(2 * time.Minute)
	if removed := m.CleanupExpired(); removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if _, ok := m.Get(ctx, "long"); !ok {
		t.Error("unexpired entry should survive cleanup")
	}
}

func TestStatsHitRate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour, 10)

	m.Set(ctx, "a", resultFor("a"), -1)
	m.Get(ctx, "a")
	m.Get(ctx, "a")
	m.Get(ctx, "missing")

	stats := m.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Fatalf("expected 2 hits / 1 miss, got %d / %d", stats.Hits, stats.Misses)
	}
	want := 2.0 / 3.0
	if diff := stats.HitRate() - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected hit rate %.4f, got %.4f", want, stats.HitRate())
	}
}

func TestNullCache(t *testing.T) {
	ctx := context.Background()
	n := NewNull()

	n.Set(ctx, "a", resultFor("a"), -1)
	if _, ok := n.Get(ctx, "a"); ok {
		t.Error("null cache should never hit")
	}
	if n.Stats().Misses != 1 {
		t.Errorf("expected 1 miss, got %d", n.Stats().Misses)
	}
}

func BenchmarkMemoryGet(b *testing.B) {
	ctx := context.Background()
	m := NewMemory(time.Hour, 1000)
	for i := 0; i < 1000; i++ {
		m.Set(ctx, fmt.Sprintf("key-%d", i), resultFor("bench"), -1)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Get(ctx, fmt.Sprintf("key-%d", i%1000))
	}
}
