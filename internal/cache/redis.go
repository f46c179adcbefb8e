package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/serpkit/serpkit/internal/types"
)

const redisKeyPrefix = "serp:"

// Redis is a Redis-backed cache for shared deployments. All transport
// failures degrade silently: Get becomes a miss, Set and Delete are
// logged and dropped. The aggregator never sees a Redis error.
type Redis struct {
	client     *redis.Client
	defaultTTL time.Duration
	logger     *slog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

// NewRedis creates a Redis cache from a redis:// URL.
func NewRedis(redisURL string, defaultTTL time.Duration, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, &types.CacheError{Backend: "redis", Err: err}
	}
	return &Redis{
		client:     redis.NewClient(opts),
		defaultTTL: defaultTTL,
		logger:     logger.With("component", "redis_cache"),
	}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (*types.SearchResult, bool) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Debug("redis get failed", "error", err)
		}
		r.misses.Add(1)
		return nil, false
	}

	var result types.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		r.logger.Warn("redis entry corrupt, dropping", "key", key, "error", err)
		r.client.Del(ctx, redisKeyPrefix+key)
		r.misses.Add(1)
		return nil, false
	}

	r.hits.Add(1)
	return &result, true
}

// Set stores value under key. A negative ttl means "use the default";
// zero stores without expiry.
func (r *Redis) Set(ctx context.Context, key string, value *types.SearchResult, ttl time.Duration) {
	if ttl < 0 {
		ttl = r.defaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		r.logger.Warn("redis set: marshal failed", "key", key, "error", err)
		return
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		r.logger.Warn("redis set failed", "key", key, "error", err)
		return
	}
	r.sets.Add(1)
}

func (r *Redis) Delete(ctx context.Context, key string) bool {
	n, err := r.client.Del(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		r.logger.Warn("redis delete failed", "key", key, "error", err)
		return false
	}
	if n > 0 {
		r.evictions.Add(1)
	}
	return n > 0
}

func (r *Redis) Clear(ctx context.Context) {
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		r.client.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("redis clear failed", "error", err)
	}
}

func (r *Redis) Stats() Stats {
	return Stats{
		Hits:      r.hits.Load(),
		Misses:    r.misses.Load(),
		Sets:      r.sets.Load(),
		Evictions: r.evictions.Load(),
	}
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error { return r.client.Close() }
