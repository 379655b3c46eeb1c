package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type memoryEntry struct {
	result   json.RawMessage
	storedAt time.Time
}

// MemoryCache is a process-scoped Cache. Concurrent calls for one fingerprint
// share a single computation.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	group   singleflight.Group
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates a cache. A ttl of zero keeps entries until the process exits.
// With a ttl, a fingerprint seen again after its entry expired is recomputed, so
// time-dependent results (the notification timestamp) are no longer stable across
// redeliveries.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (c *MemoryCache) lookup(fingerprint string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[fingerprint]
	if !ok || c.expired(e, c.now()) {
		return nil, false
	}
	return e.result, true
}

func (c *MemoryCache) expired(e memoryEntry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.storedAt) >= c.ttl
}

func (c *MemoryCache) GetOrCompute(ctx context.Context, fingerprint string, compute ComputeFunc) (json.RawMessage, bool, error) {
	if result, ok := c.lookup(fingerprint); ok {
		return result, true, nil
	}

	computed := false
	v, err, _ := c.group.Do(fingerprint, func() (any, error) {
		if result, ok := c.lookup(fingerprint); ok {
			return result, nil
		}
		computed = true
		result, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[fingerprint] = memoryEntry{result: result, storedAt: c.now()}
		c.mu.Unlock()
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(json.RawMessage), !computed, nil
}

// Prune drops expired entries and returns how many were removed.
func (c *MemoryCache) Prune() int {
	if c.ttl <= 0 {
		return 0
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for fp, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, fp)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
