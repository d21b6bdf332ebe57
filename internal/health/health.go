// Package health tracks printer liveness. The cache decouples request latency
// from network probing; the prober performs the actual bounded connect test.
package health

import (
	"sync"
	"time"
)

// Status of a printer as last observed.
type Status uint8

const (
	StatusOffline Status = iota
	StatusOnline
)

func (s Status) String() string {
	if s == StatusOnline {
		return "online"
	}
	return "offline"
}

// Record is one cached liveness observation.
type Record struct {
	Status     Status
	ObservedAt time.Time
}

// FreshAt reports whether the record may still be trusted at now. Freshness is
// a request-time filter; the cache itself keeps records longer (see Sweep).
func (r Record) FreshAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.ObservedAt) <= ttl
}

// Cache holds the last observation per printer id. Reads never do I/O.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]Record
	retention time.Duration
}

// NewCache creates a cache whose sweep removes records older than retention.
// Retention is deliberately generous compared to the freshness TTL: stale
// records are still useful to report "last seen", they just may not gate a
// print request.
func NewCache(retention time.Duration) *Cache {
	return &Cache{
		entries:   make(map[string]Record),
		retention: retention,
	}
}

// Read returns the record for id, if any.
func (c *Cache) Read(id string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[id]
	return r, ok
}

// Write upserts the record for id, overwriting any prior observation.
func (c *Cache) Write(id string, status Status, observedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = Record{Status: status, ObservedAt: observedAt}
}

// Forget drops the record for id (used when a printer is deleted).
func (c *Cache) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Sweep removes records older than the retention bound and returns how many
// were dropped. The reaper calls this periodically to bound memory.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, r := range c.entries {
		if now.Sub(r.ObservedAt) > c.retention {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
