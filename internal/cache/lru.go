// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

// Package cache provides the bounded registries EdgeWatch keeps in memory.
package cache

import "sync"

type lruEntry[V any] struct {
	key   string
	value V
	refs  int // holders from Acquire; pinned entries are never evicted
	prev  *lruEntry[V]
	next  *lruEntry[V]
}

// LRU is a thread-safe least recently used map with O(1) get, insert and
// eviction. A capacity of 0 means unbounded.
//
// The list is doubly linked with sentinels: head.next is the most recently
// used entry, tail.prev the least.
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*lruEntry[V]
	head     *lruEntry[V]
	tail     *lruEntry[V]
	onEvict  func(key string, value V)

	hits      int64
	misses    int64
	evictions int64
}

// NewLRU creates an LRU holding at most capacity entries (0 = unbounded).
// onEvict, if non-nil, runs with the lock held for every evicted entry and
// must not call back into the LRU.
func NewLRU[V any](capacity int, onEvict func(key string, value V)) *LRU[V] {
	if capacity < 0 {
		capacity = 0
	}
	c := &LRU[V]{
		capacity: capacity,
		items:    make(map[string]*lruEntry[V]),
		head:     &lruEntry[V]{},
		tail:     &lruEntry[V]{},
		onEvict:  onEvict,
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.items[key]; ok {
		c.moveToFront(entry)
		c.hits++
		return entry.value, true
	}
	c.misses++
	var zero V
	return zero, false
}

// GetOrCreate returns the value for key, creating it with create when
// absent. created reports whether create ran. Creation happens under the
// lock so two callers never create the same key twice.
func (c *LRU[V]) GetOrCreate(key string, create func() V) (value V, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.items[key]; ok {
		c.moveToFront(entry)
		c.hits++
		return entry.value, false
	}
	c.misses++

	entry := &lruEntry[V]{key: key, value: create()}
	c.addToFront(entry)
	c.items[key] = entry
	c.evictOverCapacity()
	return entry.value, true
}

// Acquire is GetOrCreate that also pins the entry until release is
// called. A pinned entry is skipped by eviction, so the registry may hold
// more than capacity entries while every older entry is in use; the excess
// is evicted as pins are released. release must be called exactly once.
func (c *LRU[V]) Acquire(key string, create func() V) (value V, created bool, release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if ok {
		c.moveToFront(entry)
		c.hits++
	} else {
		c.misses++
		entry = &lruEntry[V]{key: key, value: create()}
		c.addToFront(entry)
		c.items[key] = entry
	}
	entry.refs++
	c.evictOverCapacity()

	var once sync.Once
	release = func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			entry.refs--
			c.evictOverCapacity()
		})
	}
	return entry.value, !ok, release
}

// Add inserts or replaces the value for key.
func (c *LRU[V]) Add(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.items[key]; ok {
		entry.value = value
		c.moveToFront(entry)
		return
	}
	entry := &lruEntry[V]{key: key, value: value}
	c.addToFront(entry)
	c.items[key] = entry
	c.evictOverCapacity()
}

// Remove deletes key. Returns true if it was present. onEvict is not called.
func (c *LRU[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.items[key]; ok {
		c.unlink(entry)
		return true
	}
	return false
}

// Keys returns keys from most to least recently used.
func (c *LRU[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for e := c.head.next; e != c.tail; e = e.next {
		keys = append(keys, e.key)
	}
	return keys
}

// Len returns the number of entries.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns hit, miss and eviction counters.
func (c *LRU[V]) Stats() (hits, misses, evictions int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

// Internal methods (must be called with lock held)

func (c *LRU[V]) addToFront(entry *lruEntry[V]) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *LRU[V]) moveToFront(entry *lruEntry[V]) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	c.addToFront(entry)
}

func (c *LRU[V]) unlink(entry *lruEntry[V]) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.items, entry.key)
}

func (c *LRU[V]) evictOverCapacity() {
	if c.capacity == 0 {
		return
	}
	for e := c.tail.prev; len(c.items) > c.capacity && e != c.head; {
		prev := e.prev
		if e.refs == 0 {
			c.unlink(e)
			c.evictions++
			if c.onEvict != nil {
				c.onEvict(e.key, e.value)
			}
		}
		e = prev
	}
}
