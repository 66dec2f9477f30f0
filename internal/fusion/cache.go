// File path: internal/fusion/cache.go
package fusion

import (
	"fmt"
	"sync"
	"time"
)

type cacheEntry struct {
	result  Result
	expires time.Time
}

// resultCache memoizes retrieval results keyed by query, mode, result
// count, and context budget, so a narrow request never satisfies a wider
// one. Corpus mutations invalidate the whole cache; entries otherwise
// expire by TTL.
type resultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

func newResultCache(ttl time.Duration) *resultCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &resultCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func cacheKey(query string, mode Mode, k, budget int) string {
	return fmt.Sprintf("%s|%s|%d|%d", query, mode, k, budget)
}

func (c *resultCache) Get(query string, mode Mode, k, budget int) (Result, bool) {
	key := cacheKey(query, mode, k, budget)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, key)
		return Result{}, false
	}
	return entry.result, true
}

func (c *resultCache) Set(query string, mode Mode, k, budget int, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(query, mode, k, budget)] = cacheEntry{
		result:  result,
		expires: time.Now().Add(c.ttl),
	}
}

// Purge drops every cached entry. Called after any ingest or delete since
// corpus changes can affect arbitrary queries.
func (c *resultCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
