package zk

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/logger"
)

// DefaultCacheSize is used when a cache is created with a non-positive size.
const DefaultCacheSize = 64

// Key is a cached verification key. setup carries backend state that was
// produced together with the key and is needed to prove or verify under it.
type Key struct {
	Circuit content.EntityID
	Bytes   []byte
	setup   *gnarkSetup
}

type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
}

// VKCache is an LRU of verification keys keyed by circuit hash.
type VKCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[content.EntityID]*list.Element

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

func NewVKCache(capacity int) *VKCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &VKCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[content.EntityID]*list.Element, capacity),
	}
}

// Get returns the key for circuit and marks it most recently used.
func (c *VKCache) Get(circuit content.EntityID) (*Key, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[circuit]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits.Add(1)
	return el.Value.(*Key), true
}

// Add inserts or replaces the key for k.Circuit, evicting the least recently
// used entry when full.
func (c *VKCache) Add(k *Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[k.Circuit]; ok {
		el.Value = k
		c.order.MoveToFront(el)
		return
	}
	c.items[k.Circuit] = c.order.PushFront(k)
	if c.order.Len() > c.capacity {
		old := c.order.Back()
		c.order.Remove(old)
		evicted := old.Value.(*Key)
		delete(c.items, evicted.Circuit)
		c.evictions.Add(1)
		logger.Logger().Debug().Str("circuit", evicted.Circuit.Short()).Msg("verification key evicted")
	}
}

// getOrAdd returns the cached key for circuit or builds, caches and returns a
// new one. Concurrent misses on the same circuit may both build.
func (c *VKCache) getOrAdd(circuit content.EntityID, build func() (*Key, error)) (*Key, error) {
	if k, ok := c.Get(circuit); ok {
		return k, nil
	}
	k, err := build()
	if err != nil {
		return nil, err
	}
	c.Add(k)
	return k, nil
}

func (c *VKCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *VKCache) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.Len(),
	}
}

// HitRate is hits over lookups, or 0 before the first lookup.
func (c *VKCache) HitRate() float64 {
	h, m := c.hits.Load(), c.misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}
