package resolve

import (
	"container/list"
	"sync"
	"time"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/metrics"
)

// Stats is the resolver statistics snapshot returned by CACHE_STATS.
type Stats struct {
	HitRate           float64          `json:"hit_rate"`
	TotalRequests     int64            `json:"total_requests"`
	ReverseLookupHits int64            `json:"reverse_lookup_hits"`
	MemoryEntries     int              `json:"memory_entries"`
	AvgResponseMsHit  float64          `json:"avg_response_ms_hit"`
	AvgResponseMsMiss float64          `json:"avg_response_ms_miss"`
	APICallsByKind    map[string]int64 `json:"api_calls_by_kind"`
}

type cacheEntry struct {
	key        string
	result     *Result
	insertedAt time.Time
	hitCount   int
	// reverse index keys owned by this entry, removed together with it
	nameKeys []string
}

// Cache is the LRU+TTL resolution cache with a reverse company-name index.
// The index maps a normalized name to the primary cache key, so a later
// query by company name can be served without a remote call.
type Cache struct {
	mu        sync.Mutex
	ttl       time.Duration
	capacity  int
	order     *list.List // front = most recent
	entries   map[string]*list.Element
	nameIndex map[string]string // NormalizeName(name) -> cache key

	hits        int64
	misses      int64
	reverseHits int64
	hitDurTotal time.Duration
	missDurTot  time.Duration
	apiCalls    map[string]int64

	nowFunc func() time.Time
}

// NewCache creates an empty resolution cache.
func NewCache(ttl time.Duration, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Cache{
		ttl:       ttl,
		capacity:  capacity,
		order:     list.New(),
		entries:   make(map[string]*list.Element),
		nameIndex: make(map[string]string),
		apiCalls:  make(map[string]int64),
		nowFunc:   time.Now,
	}
}

// Get returns the fresh entry for key, touching its LRU position. Expired
// entries are removed on access.
func (c *Cache) Get(key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache) getLocked(key string) (*Result, bool) {
	elem, ok := c.entries[key]
	if !ok {
		metrics.RecordCache(metrics.CacheResolution, false)
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.nowFunc().Sub(entry.insertedAt) > c.ttl {
		c.removeLocked(elem)
		metrics.RecordCache(metrics.CacheResolution, false)
		return nil, false
	}
	entry.hitCount++
	c.order.MoveToFront(elem)
	metrics.RecordCache(metrics.CacheResolution, true)
	return entry.result, true
}

// GetByName serves a query through the reverse company-name index.
func (c *Cache) GetByName(name string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, ok := c.nameIndex[NormalizeName(name)]
	if !ok {
		return nil, false
	}
	result, ok := c.getLocked(key)
	if ok {
		c.reverseHits++
	}
	return result, ok
}

// Put stores a result under key and indexes every match name for reverse
// lookup. Errors are never cached; callers only Put completed results.
func (c *Cache) Put(key string, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}

	entry := &cacheEntry{key: key, result: result, insertedAt: c.nowFunc()}
	for _, m := range result.Matches {
		if m.Name == "" {
			continue
		}
		nameKey := NormalizeName(m.Name)
		c.nameIndex[nameKey] = key
		entry.nameKeys = append(entry.nameKeys, nameKey)
	}
	c.entries[key] = c.order.PushFront(entry)

	for c.order.Len() > c.capacity {
		c.removeLocked(c.order.Back())
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.entries, entry.key)
	for _, nameKey := range entry.nameKeys {
		// Only drop index entries still pointing at this key; a newer entry
		// may have re-indexed the same name.
		if c.nameIndex[nameKey] == entry.key {
			delete(c.nameIndex, nameKey)
		}
	}
}

// Clear empties the cache and the reverse index. Counters survive.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.order.Len()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
	c.nameIndex = make(map[string]string)
	return n
}

// InvalidateAll drops every entry. Called on broker disconnect: the set of
// resolvable contracts can differ across sessions.
func (c *Cache) InvalidateAll() {
	c.Clear()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// RecordHit accumulates timing for a cache-served resolution.
func (c *Cache) RecordHit(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits++
	c.hitDurTotal += d
}

// RecordMiss accumulates timing for a resolution that went remote.
func (c *Cache) RecordMiss(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.misses++
	c.missDurTot += d
}

// RecordAPICall counts one remote broker call by kind.
func (c *Cache) RecordAPICall(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiCalls[kind]++
}

// Stats returns the statistics snapshot.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	s := Stats{
		TotalRequests:     total,
		ReverseLookupHits: c.reverseHits,
		MemoryEntries:     c.order.Len(),
		APICallsByKind:    make(map[string]int64, len(c.apiCalls)),
	}
	if total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	if c.hits > 0 {
		s.AvgResponseMsHit = float64(c.hitDurTotal.Milliseconds()) / float64(c.hits)
	}
	if c.misses > 0 {
		s.AvgResponseMsMiss = float64(c.missDurTot.Milliseconds()) / float64(c.misses)
	}
	for k, v := range c.apiCalls {
		s.APICallsByKind[k] = v
	}
	return s
}
