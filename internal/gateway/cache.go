package gateway

import (
	"sync"
	"time"
)

// DefaultCacheTTL is how long a cached read stays fresh.
const DefaultCacheTTL = 5 * time.Minute

type cacheKey struct {
	transport string
	command   string
}

type cacheEntry struct {
	result  Result
	expires time.Time
}

// Cache holds successful parameterless read results per transport and
// command. Entries expire after a fixed TTL and the whole cache can be
// flushed when a write lands.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

// NewCache builds a cache with the given TTL. A non-positive ttl falls back
// to DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[cacheKey]cacheEntry),
	}
}

// Get returns the fresh cached result for the transport and command, if any.
// Expired entries are dropped on access.
func (c *Cache) Get(transport, command string) (Result, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey{transport: transport, command: command}
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.result, true
}

// Put stores a successful result.
func (c *Cache) Put(transport, command string, result Result) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{transport: transport, command: command}] = cacheEntry{
		result:  result,
		expires: c.now().Add(c.ttl),
	}
}

// Invalidate removes the entry for a single command across all transports.
func (c *Cache) Invalidate(command string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.command == command {
			delete(c.entries, key)
		}
	}
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]cacheEntry)
}

// Len reports the number of live entries, counting expired ones until they
// are touched.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
