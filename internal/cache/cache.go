// Package cache provides a bounded, TTL-expiring cache with an injected clock
// so expiry is deterministic under test.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultTTL is used when New is given a non-positive TTL.
const DefaultTTL = 30 * time.Second

// DefaultMaxEntries is used when New is given a non-positive size.
const DefaultMaxEntries = 1024

// Cache is a bounded map with per-entry expiry. When full, the least recently
// written entry is evicted. Safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu sync.Mutex

	clock      clock.Clock
	ttl        time.Duration
	maxEntries int

	entries map[K]*list.Element
	order   *list.List // front = most recently written
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// New creates a cache. A nil clk uses the wall clock.
func New[K comparable, V any](clk clock.Clock, ttl time.Duration, maxEntries int) *Cache[K, V] {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	return &Cache[K, V]{
		clock:      clk,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[K]*list.Element),
		order:      list.New(),
	}
}

// Get returns the value for key if present and not expired. Expired entries
// are removed on access.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}

	e := el.Value.(*entry[K, V])
	if !c.clock.Now().Before(e.expiresAt) {
		c.removeElement(el)
		return zero, false
	}

	return e.value, true
}

// Set stores value under key with the cache TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.clock.Now().Add(c.ttl)

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry[K, V]{key: key, value: value, expiresAt: expiresAt})
	c.entries[key] = el

	for c.order.Len() > c.maxEntries {
		c.removeElement(c.order.Back())
	}
}

// Evict removes key.
func (c *Cache[K, V]) Evict(keys ...K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if el, ok := c.entries[key]; ok {
			c.removeElement(el)
		}
	}
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

// TTL returns the configured entry lifetime.
func (c *Cache[K, V]) TTL() time.Duration {
	return c.ttl
}

func (c *Cache[K, V]) removeElement(el *list.Element) {
	e := el.Value.(*entry[K, V])
	delete(c.entries, e.key)
	c.order.Remove(el)
}
