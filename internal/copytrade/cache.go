package copytrade

import (
	"container/list"
	"sync"
	"time"

	"github.com/oddslab/crossarb/internal/clock"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRADER CACHE - Address-keyed LRU with TTL
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultCacheCapacity bounds how many trader profiles we keep.
	DefaultCacheCapacity = 500
	// DefaultCacheTTL expires stale profiles.
	DefaultCacheTTL = time.Hour
)

type cacheEntry struct {
	wallet   string
	stats    TraderStats
	storedAt time.Time
}

// TraderCache is an LRU of trader performance profiles keyed by wallet
// address. Entries expire after the TTL regardless of use.
type TraderCache struct {
	capacity int
	ttl      time.Duration
	clk      clock.Clock

	mu    sync.Mutex
	order *list.List               // front = most recent
	items map[string]*list.Element // wallet -> element
}

// NewTraderCache creates a cache with the given bounds.
func NewTraderCache(capacity int, ttl time.Duration, clk clock.Clock) *TraderCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &TraderCache{
		capacity: capacity,
		ttl:      ttl,
		clk:      clk,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Put stores or refreshes a profile, evicting the LRU entry at capacity.
func (c *TraderCache) Put(wallet string, stats TraderStats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[wallet]; ok {
		el.Value.(*cacheEntry).stats = stats
		el.Value.(*cacheEntry).storedAt = c.clk.Now()
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{wallet: wallet, stats: stats, storedAt: c.clk.Now()})
	c.items[wallet] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).wallet)
	}
}

// Get returns a profile when present and unexpired. A hit refreshes
// recency, not the TTL.
func (c *TraderCache) Get(wallet string) (TraderStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[wallet]
	if !ok {
		return TraderStats{}, false
	}
	entry := el.Value.(*cacheEntry)
	if c.clk.Now().Sub(entry.storedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.items, wallet)
		return TraderStats{}, false
	}
	c.order.MoveToFront(el)
	return entry.stats, true
}

// EvictExpired sweeps out everything past the TTL. Call periodically.
func (c *TraderCache) EvictExpired() int {
	now := c.clk.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*cacheEntry)
		if now.Sub(entry.storedAt) > c.ttl {
			c.order.Remove(el)
			delete(c.items, entry.wallet)
			n++
		}
		el = prev
	}
	return n
}

// Len returns the live entry count.
func (c *TraderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
