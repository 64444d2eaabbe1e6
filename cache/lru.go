package cache

import (
	"fmt"

	"github.com/skipor/memkv/internal/tag"
)

// slot is index of entry in list arena.
type slot int32

// nilSlot marks absence of neighbour, head or tail.
const nilSlot slot = -1

type entry struct {
	key   string
	value []byte
	prev  slot
	next  slot
}

func (e *entry) size() int64 { return int64(len(e.key) + len(e.value)) }

// list is doubly linked list of entries in arena, with key index and size accounting.
// Pre and post conditions (Invariants) for all methods:
// * {head, ..., tail} is correct doubly linked list of live slots.
// * table contains exactly keys of linked entries, and points to their slots.
// * size equal sum of linked entries size().
// * free contains exactly released slots.
// Entry can be temporary unlinked (but still indexed) inside facade operation.
type list struct {
	entries []entry
	free    []slot
	table   map[string]slot

	head slot // Most recently used.
	tail slot // Least recently used.

	size    int64
	maxSize int64

	// onEvict is called for every entry evicted by linkFront. Optional.
	onEvict func(key string)
}

func newList(maxSize int64) list {
	return list{
		table:   make(map[string]slot),
		head:    nilSlot,
		tail:    nilSlot,
		maxSize: maxSize,
	}
}

func (l *list) at(s slot) *entry { return &l.entries[s] }

func (l *list) empty() bool { return l.head == nilSlot }

// alloc places entry into free slot and indexes it. Entry is not linked.
func (l *list) alloc(key string, value []byte) slot {
	var s slot
	if n := len(l.free); n > 0 {
		s = l.free[n-1]
		l.free = l.free[:n-1]
	} else {
		s = slot(len(l.entries))
		l.entries = append(l.entries, entry{})
	}
	*l.at(s) = entry{key: key, value: value, prev: nilSlot, next: nilSlot}
	l.table[key] = s
	return s
}

// release removes unlinked entry from index and frees its slot.
func (l *list) release(s slot) {
	e := l.at(s)
	delete(l.table, e.key)
	*e = entry{prev: nilSlot, next: nilSlot}
	if tag.Debug {
		e.key = fakeKey
	}
	l.free = append(l.free, s)
}

// fakeKey is set to released entries in debug build.
const fakeKey = " !RELEASED! "

// linkFront evicts tail entries until s fits and links s as head.
// s entry size should not be larger than maxSize.
func (l *list) linkFront(s slot) {
	sz := l.at(s).size()
	if sz > l.maxSize {
		panic(fmt.Sprintf("entry size %v is larger than cache size %v", sz, l.maxSize))
	}
	for l.size+sz > l.maxSize && !l.empty() {
		l.evictBack()
	}
	e := l.at(s)
	e.prev = nilSlot
	e.next = l.head
	if l.head != nilSlot {
		l.at(l.head).prev = s
	} else {
		l.tail = s
	}
	l.head = s
	l.size += sz
}

// unlink detaches s from any list position. Entry remains allocated and indexed.
func (l *list) unlink(s slot) {
	e := l.at(s)
	if tag.Debug && e.prev == nilSlot && l.head != s {
		panic(fmt.Sprintf("unlink of detached entry %q", e.key))
	}
	if e.prev != nilSlot {
		l.at(e.prev).next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nilSlot {
		l.at(e.next).prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next = nilSlot, nilSlot
	l.size -= e.size()
}

// moveFront promotes linked entry to head. Never evicts.
func (l *list) moveFront(s slot) {
	if l.head == s {
		return
	}
	l.unlink(s)
	l.linkFront(s)
}

// evictBack unlinks and releases tail entry.
func (l *list) evictBack() {
	s := l.tail
	key := l.at(s).key
	l.unlink(s)
	l.release(s)
	if l.onEvict != nil {
		l.onEvict(key)
	}
}

// remove unlinks and releases entry.
func (l *list) remove(s slot) {
	l.unlink(s)
	l.release(s)
}

// keys returns keys from head to tail.
func (l *list) keys() []string {
	keys := make([]string, 0, len(l.table))
	for s := l.head; s != nilSlot; s = l.at(s).next {
		keys = append(keys, l.at(s).key)
	}
	return keys
}

func (e *entry) GoString() string {
	return fmt.Sprintf("{key:%q, valueLen:%v, prev:%v, next:%v}", e.key, len(e.value), e.prev, e.next)
}

var _ fmt.GoStringer = (*entry)(nil)
