package cache

import (
	"sync"

	"github.com/rcrowley/go-metrics"
)

// Locked serializes all operations of wrapped LRU by single mutex
// and counts operation results.
type Locked struct {
	mu  sync.Mutex
	lru *LRU

	hits        metrics.Counter
	misses      metrics.Counter
	putRejects  metrics.Counter
	setRejects  metrics.Counter
	deleteMiss  metrics.Counter
	sizeGauge   metrics.Gauge
	itemsGauge  metrics.Gauge
	evictsCount metrics.Counter
}

var _ Storage = (*Locked)(nil)

// NewLocked wraps c. Metrics are registered in r. Nil r means metrics.DefaultRegistry.
// c must not be used directly after that.
func NewLocked(c *LRU, r metrics.Registry) *Locked {
	if r == nil {
		r = metrics.DefaultRegistry
	}
	lc := &Locked{
		lru:         c,
		hits:        metrics.GetOrRegisterCounter("cache.get.hit", r),
		misses:      metrics.GetOrRegisterCounter("cache.get.miss", r),
		putRejects:  metrics.GetOrRegisterCounter("cache.put.rejected", r),
		setRejects:  metrics.GetOrRegisterCounter("cache.set.rejected", r),
		deleteMiss:  metrics.GetOrRegisterCounter("cache.delete.miss", r),
		evictsCount: metrics.GetOrRegisterCounter("cache.evicted", r),
		sizeGauge:   metrics.GetOrRegisterGauge("cache.size", r),
		itemsGauge:  metrics.GetOrRegisterGauge("cache.items", r),
	}
	onEvict := c.onEvict
	c.onEvict = func(key string) {
		lc.evictsCount.Inc(1)
		if onEvict != nil {
			onEvict(key)
		}
	}
	return lc
}

func (c *Locked) Put(key, value []byte) (ok bool) {
	c.mu.Lock()
	defer c.unlock()
	ok = c.lru.Put(key, value)
	if !ok {
		c.putRejects.Inc(1)
	}
	return
}

func (c *Locked) PutIfAbsent(key, value []byte) (ok bool) {
	c.mu.Lock()
	defer c.unlock()
	ok = c.lru.PutIfAbsent(key, value)
	if !ok {
		c.putRejects.Inc(1)
	}
	return
}

func (c *Locked) Set(key, value []byte) (ok bool) {
	c.mu.Lock()
	defer c.unlock()
	ok = c.lru.Set(key, value)
	if !ok {
		c.setRejects.Inc(1)
	}
	return
}

func (c *Locked) Delete(key []byte) (deleted bool) {
	c.mu.Lock()
	defer c.unlock()
	deleted = c.lru.Delete(key)
	if !deleted {
		c.deleteMiss.Inc(1)
	}
	return
}

func (c *Locked) Get(key []byte) (value []byte, ok bool) {
	c.mu.Lock()
	defer c.unlock()
	value, ok = c.lru.Get(key)
	if ok {
		c.hits.Inc(1)
	} else {
		c.misses.Inc(1)
	}
	return
}

// Do calls f with exclusive access to wrapped LRU.
func (c *Locked) Do(f func(c *LRU)) {
	c.mu.Lock()
	defer c.unlock()
	f(c.lru)
}

// unlock updates gauges and releases lock.
func (c *Locked) unlock() {
	c.sizeGauge.Update(c.lru.Size())
	c.itemsGauge.Update(int64(c.lru.Len()))
	c.mu.Unlock()
}
