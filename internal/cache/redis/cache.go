// Package redis provides the Redis-backed dedup cache.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache marks fingerprints as in-flight or recently served. Entries expire
// after the configured TTL; the ledger remains the correctness boundary.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCache initializes a Redis-backed dedup cache.
func NewCache(addr, prefix string, ttl time.Duration) *Cache {
	return &Cache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		ttl:    ttl,
	}
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

// Seen reports whether a marker exists for the fingerprint.
func (c *Cache) Seen(ctx context.Context, fingerprint string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("check dedup marker: %w", err)
	}
	return n > 0, nil
}

// Mark sets the presence sentinel with the cache TTL.
func (c *Cache) Mark(ctx context.Context, fingerprint string) error {
	if err := c.client.Set(ctx, c.prefix+fingerprint, "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("set dedup marker: %w", err)
	}
	return nil
}
