package cache

import (
	"sync"
	"time"

	"github.com/fablehq/accounts/internal/models"
)

// ProfileCache is an in-memory cache of last-known profiles with a
// fixed per-entry TTL. The clock is injected so expiry is testable;
// expired entries are dropped lazily on read rather than by timers.
type ProfileCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	profile   *models.Profile
	expiresAt time.Time
}

// NewProfileCache creates a cache with the given TTL. A nil clock
// defaults to time.Now.
func NewProfileCache(ttl time.Duration, now func() time.Time) *ProfileCache {
	if now == nil {
		now = time.Now
	}
	return &ProfileCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached profile for id, or false if absent or expired.
func (c *ProfileCache) Get(id string) (*models.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, id)
		return nil, false
	}
	return entry.profile, true
}

// Set stores a profile, resetting its expiry.
func (c *ProfileCache) Set(p *models.Profile) {
	if p == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[p.ID] = cacheEntry{
		profile:   p,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Invalidate drops the entry for id, if any.
func (c *ProfileCache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
}

// Len reports the number of stored entries, including not-yet-reaped
// expired ones.
func (c *ProfileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
