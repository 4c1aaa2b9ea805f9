package fx

import (
	"sync"
	"time"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/metrics"
)

// cache holds forex rates for a short TTL. Forex moves fast; the TTL only
// absorbs bursts of lookups within one tool call sequence.
type cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*Rate
	nowFunc func() time.Time
}

func newCache(ttl time.Duration) *cache {
	return &cache{
		ttl:     ttl,
		entries: make(map[string]*Rate),
		nowFunc: time.Now,
	}
}

func (c *cache) get(pair string) (*Rate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.entries[pair]
	if !ok || c.nowFunc().Sub(r.Timestamp) > c.ttl {
		if ok {
			delete(c.entries, pair)
		}
		metrics.RecordCache(metrics.CacheForex, false)
		return nil, false
	}
	metrics.RecordCache(metrics.CacheForex, true)
	return r, true
}

func (c *cache) put(r *Rate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[r.Pair] = r
}

func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Rate)
}
