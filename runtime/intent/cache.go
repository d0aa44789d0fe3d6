package intent

import (
	"crypto/md5" //nolint:gosec // cache key, not a security boundary
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a cached classification stays valid.
const DefaultCacheTTL = time.Hour

type (
	cacheEntry struct {
		result Result
		at     time.Time
	}

	// cache maps normalized-text digests to classifications. Eviction is
	// lazy: expired entries are dropped when read.
	cache struct {
		mu      sync.Mutex
		entries map[string]cacheEntry
		ttl     time.Duration
		now     func() time.Time
	}
)

func newCache(ttl time.Duration, now func() time.Time) *cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     now,
	}
}

// key digests the lowercased, trimmed text.
func (c *cache) key(text string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(text)))) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func (c *cache) get(text string) (Result, bool) {
	k := c.key(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[k]
	if !ok {
		return Result{}, false
	}
	if c.now().Sub(entry.at) > c.ttl {
		delete(c.entries, k)
		return Result{}, false
	}
	return entry.result, true
}

func (c *cache) put(text string, r Result) {
	k := c.key(text)
	c.mu.Lock()
	c.entries[k] = cacheEntry{result: r, at: c.now()}
	c.mu.Unlock()
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
