package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	reviewKeyPrefix = "review:"
	// DefaultReviewTTL is used when ReviewCache is created with a zero TTL.
	DefaultReviewTTL = 10 * time.Minute
)

// Review payload kinds stored as hash fields under one experiment key.
const (
	ReviewSummary = "summary"
	ReviewTrends  = "trends"
	ReviewResult  = "result"
)

// ReviewCache stores validated review payloads per experiment. All kinds
// for an experiment share one hash so a single DEL invalidates them.
type ReviewCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewReviewCache creates a review cache with the given TTL.
func NewReviewCache(c *Cache, ttl time.Duration) *ReviewCache {
	if ttl <= 0 {
		ttl = DefaultReviewTTL
	}
	return &ReviewCache{cache: c, ttl: ttl}
}

// ReviewKey returns the hash key holding an experiment's review payloads.
func ReviewKey(experimentID string) string {
	return reviewKeyPrefix + experimentID
}

// Get returns the cached payload of the given kind, or ErrCacheMiss.
func (r *ReviewCache) Get(ctx context.Context, experimentID, kind string) ([]byte, error) {
	data, err := r.cache.client.HGet(ctx, ReviewKey(experimentID), kind).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis hget failed: %w", err)
	}
	return data, nil
}

// Set stores a payload. The TTL is refreshed for the whole hash.
func (r *ReviewCache) Set(ctx context.Context, experimentID, kind string, payload []byte) error {
	key := ReviewKey(experimentID)

	pipe := r.cache.client.Pipeline()
	pipe.HSet(ctx, key, kind, payload)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache review: %w", err)
	}
	return nil
}

// Invalidate removes every cached payload for an experiment.
func (r *ReviewCache) Invalidate(ctx context.Context, experimentID string) error {
	if err := r.cache.client.Del(ctx, ReviewKey(experimentID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate review cache: %w", err)
	}
	return nil
}
