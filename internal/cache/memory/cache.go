// Package memory provides an in-memory dedup cache for development/testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hirewire/jobscraper/internal/scrape"
)

// Cache is a TTL map keyed by fingerprint.
type Cache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	clock   scrape.Clock
}

// NewCache constructs a Cache with the given marker TTL.
func NewCache(ttl time.Duration, clock scrape.Clock) *Cache {
	return &Cache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		clock:   clock,
	}
}

// Seen reports whether an unexpired marker exists for the fingerprint.
// Expired entries are pruned lazily.
func (c *Cache) Seen(_ context.Context, fingerprint string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry, ok := c.entries[fingerprint]
	if !ok {
		return false, nil
	}
	if c.clock.Now().After(expiry) {
		delete(c.entries, fingerprint)
		return false, nil
	}
	return true, nil
}

// Mark records the fingerprint until the TTL elapses.
func (c *Cache) Mark(_ context.Context, fingerprint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = c.clock.Now().Add(c.ttl)
	return nil
}
