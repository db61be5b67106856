package progress

import (
	"sort"
	"sync"
	"time"
)

const (
	// DefaultTTL is the cache entry lifetime.
	DefaultTTL = 5 * time.Minute
	// DefaultCapacity bounds the number of cached entries.
	DefaultCapacity = 1000
)

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Size           int           `json:"size"`
	Hits           uint64        `json:"hits"`
	Requests       uint64        `json:"requests"`
	HitRate        float64       `json:"hit_rate"`
	OldestEntryAge time.Duration `json:"oldest_entry_age_ns"`
}

// Cache stores computed progress values keyed by "entityType:entityId".
// Every entry carries the entity ids it was derived from so a mutation can
// purge exactly the entries it affects.
type Cache interface {
	Get(key string) (float64, bool)
	Set(key string, value float64, dependencies []string)
	// Invalidate removes every entry whose dependency list contains entityID.
	Invalidate(entityID string)
	// InvalidateHierarchy removes every entry across all levels. Used after a
	// change above the task level, where exact dependency chains were not
	// touched; consistency is bought with a full flush.
	InvalidateHierarchy(goalID string)
	Clear()
	Stats() CacheStats
}

type cacheEntry struct {
	value        float64
	timestamp    time.Time
	dependencies []string
}

// MemoryCache is a bounded, TTL-based in-process Cache. It is safe for
// concurrent use but provides no cross-process invalidation.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	ttl      time.Duration
	capacity int
	hits     uint64
	requests uint64
	now      func() time.Time
}

func NewMemoryCache(ttl time.Duration, capacity int) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryCache{
		entries:  make(map[string]*cacheEntry),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// Get returns the cached value, expiring the entry if it outlived the TTL.
func (c *MemoryCache) Get(key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	if c.now().Sub(e.timestamp) > c.ttl {
		delete(c.entries, key)
		return 0, false
	}
	c.hits++
	return e.value, true
}

// Set inserts an entry, evicting the oldest quarter of entries when at
// capacity.
func (c *MemoryCache) Set(key string, value float64, dependencies []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	deps := make([]string, len(dependencies))
	copy(deps, dependencies)
	c.entries[key] = &cacheEntry{value: value, timestamp: c.now(), dependencies: deps}
}

func (c *MemoryCache) evictOldestLocked() {
	n := c.capacity / 4
	if n < 1 {
		n = 1
	}
	type aged struct {
		key string
		ts  time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, ts: e.timestamp})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ts.Before(all[j].ts) })
	if n > len(all) {
		n = len(all)
	}
	for _, a := range all[:n] {
		delete(c.entries, a.key)
	}
}

func (c *MemoryCache) Invalidate(entityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		for _, dep := range e.dependencies {
			if dep == entityID {
				delete(c.entries, key)
				break
			}
		}
	}
}

func (c *MemoryCache) InvalidateHierarchy(goalID string) {
	// The whole cache is flushed rather than matching keys against the goal
	// id: an exact per-goal footprint would require walking the tree, and a
	// full flush is always consistent.
	c.Clear()
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

func (c *MemoryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	// expiry normally happens on Get; drop stale entries here too so an idle
	// cache does not report sizes and ages beyond the TTL
	now := c.now()
	stats := CacheStats{
		Hits:     c.hits,
		Requests: c.requests,
	}
	if c.requests > 0 {
		stats.HitRate = float64(c.hits) / float64(c.requests)
	}
	for key, e := range c.entries {
		age := now.Sub(e.timestamp)
		if age > c.ttl {
			delete(c.entries, key)
			continue
		}
		if age > stats.OldestEntryAge {
			stats.OldestEntryAge = age
		}
	}
	stats.Size = len(c.entries)
	return stats
}

func taskKey(id string) string    { return "task:" + id }
func actionKey(id string) string  { return "action:" + id }
func subGoalKey(id string) string { return "subgoal:" + id }
func goalKey(id string) string    { return "goal:" + id }
