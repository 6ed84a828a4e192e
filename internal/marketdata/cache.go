package marketdata

import (
	"container/list"
	"sync"

	"github.com/helios-quant/backend/internal/contracts"
)

// CacheKey identifies one factor computation. The key is explicit
// (instrument, date range, parameter fingerprint) rather than a hash of
// the underlying data, so unrelated computations can never collide.
type CacheKey struct {
	Instrument contracts.Instrument
	RangeStart string // YYYY-MM-DD
	RangeEnd   string // YYYY-MM-DD
	Params     string // canonical parameter fingerprint
}

// FactorCache memoizes per-instrument factor vectors with an at-most-once
// compute guarantee per key and bounded LRU eviction. It is owned by one
// backtest run and passed by reference into the stages that need it,
// never a package-level singleton.
//
// Concurrent callers of the same key block on a single computation; a
// multi-year, multi-thousand-instrument run would otherwise recompute the
// same windows across entry workers, or grow without bound.
type FactorCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[CacheKey]*list.Element
	order    *list.List // front = most recently used
}

type cacheEntry struct {
	key  CacheKey
	once sync.Once
	vec  map[string]float64
	err  error
}

// NewFactorCache creates a cache holding at most capacity entries.
func NewFactorCache(capacity int) *FactorCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &FactorCache{
		capacity: capacity,
		entries:  make(map[CacheKey]*list.Element),
		order:    list.New(),
	}
}

// GetOrCompute returns the cached vector for key, computing it at most
// once. The compute function must be a pure read of market data. Errors
// are cached with the entry: a failed computation is not retried within
// the run, keeping replays deterministic.
func (c *FactorCache) GetOrCompute(key CacheKey, compute func() (map[string]float64, error)) (map[string]float64, error) {
	c.mu.Lock()
	elem, ok := c.entries[key]
	if ok {
		c.order.MoveToFront(elem)
	} else {
		// Claim the key before computing so concurrent callers share the
		// same entry and its sync.Once.
		elem = c.order.PushFront(&cacheEntry{key: key})
		c.entries[key] = elem
		c.evictLocked()
	}
	entry := elem.Value.(*cacheEntry)
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.vec, entry.err = compute()
	})

	return entry.vec, entry.err
}

// Len returns the current number of entries.
func (c *FactorCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// evictLocked drops least-recently-used entries beyond capacity. An entry
// still computing stays reachable through its claimants; only the cache's
// reference is dropped.
func (c *FactorCache) evictLocked() {
	for c.order.Len() > c.capacity {
		back := c.order.Back()
		if back == nil {
			return
		}
		c.order.Remove(back)
		delete(c.entries, back.Value.(*cacheEntry).key)
	}
}
