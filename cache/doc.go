// Package cache provide LRU cache with total size limit for memcached like server.
//
// * Size of entry is key length plus value length. Sum of entry sizes never
// exceeds size limit after operation returns.
// * Entries are ordered from most recently used (head) to least recently
// used (tail). Get, Set and Put of existing key move entry to head.
// * Put and PutIfAbsent evict entries from tail until new entry fits.
// Set never evicts other entries: it fails instead.
//
// Entries live in arena slice and are linked by slot indexes, not pointers.
// Index table maps key to slot. Slot release and index removal are done
// by single primitive, so list and table can't disagree.
//
// LRU is not safe for concurrent use. Wrap it into Locked to share between goroutines.
package cache
