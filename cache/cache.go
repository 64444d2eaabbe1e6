package cache

import (
	"github.com/skipor/memkv/log"
)

//go:generate mockery -name=Storage -outpkg=cachemocks -output=./cachemocks

// Storage is key value storage contract used by connections.
// Implementations must not retain key and value slices passed to them,
// and must return value that caller owns.
type Storage interface {
	// Put stores value by key, evicting least recently used entries if required.
	// Returns false only if entry can't fit in cache even being alone.
	Put(key, value []byte) (ok bool)
	// PutIfAbsent is Put, that fails if key is present already.
	PutIfAbsent(key, value []byte) (ok bool)
	// Set replaces value of present key. It never evicts other entries, so
	// fails if there is no room for new value.
	Set(key, value []byte) (ok bool)
	Delete(key []byte) (deleted bool)
	Get(key []byte) (value []byte, ok bool)
}

type Config struct {
	// Size is max sum of keys and values lengths.
	Size int64
}

// LRU is least recently used cache with total size limit.
// LRU is not safe for concurrent use.
type LRU struct {
	list
	log log.Logger
}

var _ Storage = (*LRU)(nil)

func NewLRU(l log.Logger, conf Config) *LRU {
	if conf.Size <= 0 {
		l.Panicf("Invalid cache size %v.", conf.Size)
	}
	c := &LRU{
		list: newList(conf.Size),
		log:  l,
	}
	c.onEvict = func(key string) {
		c.log.Debugf("Item %s evicted.", key)
	}
	return c
}

func (c *LRU) Put(key, value []byte) bool {
	defer c.checkInvariants()
	if !c.fits(key, value) {
		c.log.Debugf("Too large item %s: %v bytes.", key, len(key)+len(value))
		return false
	}
	if s, ok := c.table[string(key)]; ok { // No allocation.
		c.log.Debugf("Replace item %s value.", key)
		c.unlink(s)
		c.at(s).value = copyBytes(value)
		c.linkFront(s)
		return true
	}
	c.add(key, value)
	return true
}

func (c *LRU) PutIfAbsent(key, value []byte) bool {
	defer c.checkInvariants()
	if !c.fits(key, value) {
		c.log.Debugf("Too large item %s: %v bytes.", key, len(key)+len(value))
		return false
	}
	if _, ok := c.table[string(key)]; ok {
		return false
	}
	c.add(key, value)
	return true
}

func (c *LRU) Set(key, value []byte) bool {
	defer c.checkInvariants()
	s, ok := c.table[string(key)]
	if !ok {
		return false
	}
	e := c.at(s)
	if c.size-int64(len(e.value))+int64(len(value)) > c.maxSize {
		c.log.Debugf("No room to set item %s without eviction.", key)
		return false
	}
	c.unlink(s)
	c.at(s).value = copyBytes(value)
	c.linkFront(s)
	return true
}

func (c *LRU) Delete(key []byte) bool {
	defer c.checkInvariants()
	s, ok := c.table[string(key)]
	if !ok {
		return false
	}
	c.log.Debugf("Delete item %s.", key)
	c.remove(s)
	return true
}

func (c *LRU) Get(key []byte) (value []byte, ok bool) {
	defer c.checkInvariants()
	var s slot
	s, ok = c.table[string(key)]
	if !ok {
		return
	}
	value = copyBytes(c.at(s).value)
	c.moveFront(s)
	return
}

// Len returns number of items in cache.
func (c *LRU) Len() int { return len(c.table) }

// Size returns sum of items sizes.
func (c *LRU) Size() int64 { return c.size }

func (c *LRU) MaxSize() int64 { return c.maxSize }

// Keys returns keys from most to least recently used.
func (c *LRU) Keys() []string { return c.keys() }

func (c *LRU) fits(key, value []byte) bool {
	return int64(len(key)+len(value)) <= c.maxSize
}

func (c *LRU) add(key, value []byte) {
	c.log.Debugf("Add item %s.", key)
	s := c.alloc(string(key), copyBytes(value))
	c.linkFront(s)
}

func copyBytes(b []byte) []byte {
	return append(make([]byte, 0, len(b)), b...)
}
