/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// LRUCache is a thread-safe, size-bounded cache with least-recently-used eviction,
// optional per-entry TTL, and Prometheus metrics.
type LRUCache[K comparable, V any] struct {
	maxEntries int
	defaultTTL time.Duration

	mu      sync.RWMutex
	order   *list.List               // most recently used entries in the front
	entries map[K]*list.Element      // key -> element of order, element value is *cacheItem[K, V]

	loads flightGroup[K, V]

	metricsCollector MetricsCollector
}

type cacheItem[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

func (i *cacheItem[K, V]) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && i.expiresAt.Before(now)
}

// Options represents options for the cache.
type Options struct {
	// DefaultTTL is the TTL applied to entries added without an explicit one.
	// Expired entries are removed lazily, on access or by RunPeriodicCleanup.
	DefaultTTL time.Duration
}

// New creates a new LRUCache bounded by maxEntries.
// Nil metricsCollector disables metrics.
func New[K comparable, V any](maxEntries int, metricsCollector MetricsCollector) (*LRUCache[K, V], error) {
	return NewWithOpts[K, V](maxEntries, metricsCollector, Options{})
}

// NewWithOpts is a more configurable version of New.
func NewWithOpts[K comparable, V any](maxEntries int, metricsCollector MetricsCollector, opts Options) (*LRUCache[K, V], error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("maxEntries must be greater than 0")
	}
	if opts.DefaultTTL < 0 {
		return nil, fmt.Errorf("defaultTTL must be greater or equal to 0 (no expiration)")
	}
	if metricsCollector == nil {
		metricsCollector = disabledMetrics{}
	}
	return &LRUCache[K, V]{
		maxEntries:       maxEntries,
		defaultTTL:       opts.DefaultTTL,
		order:            list.New(),
		entries:          make(map[K]*list.Element),
		metricsCollector: metricsCollector,
	}, nil
}

// Get returns the value stored under the key and marks the entry as recently used.
func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(key)
}

// GetOrAdd returns the value stored under the key.
// If the key is absent, the value is obtained from valueProvider and stored with the default TTL.
func (c *LRUCache[K, V]) GetOrAdd(key K, valueProvider func() V) (value V, exists bool) {
	return c.GetOrAddWithTTL(key, valueProvider, c.defaultTTL)
}

// GetOrAddWithTTL returns the value stored under the key.
// If the key is absent, the value is obtained from valueProvider and stored with the given TTL.
// The provider is called under the cache lock, so it must not call back into the cache.
func (c *LRUCache[K, V]) GetOrAddWithTTL(key K, valueProvider func() V, ttl time.Duration) (value V, exists bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value, exists = c.get(key); exists {
		return value, exists
	}
	value = valueProvider()
	c.addNew(key, value, expiryTime(ttl))
	return value, false
}

// Add stores the value under the key with the default TTL,
// replacing the previous value if the key is already present.
func (c *LRUCache[K, V]) Add(key K, value V) {
	c.AddWithTTL(key, value, c.defaultTTL)
}

// AddWithTTL stores the value under the key with the given TTL (zero means no expiration),
// replacing the previous value if the key is already present.
// If the cache is full, the least recently used entry is evicted.
func (c *LRUCache[K, V]) AddWithTTL(key K, value V, ttl time.Duration) {
	expiresAt := expiryTime(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value = &cacheItem[K, V]{key: key, value: value, expiresAt: expiresAt}
		return
	}
	c.addNew(key, value, expiresAt)
}

// Remove removes the entry stored under the key.
// It returns false if there is no such entry.
func (c *LRUCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	c.order.Remove(elem)
	delete(c.entries, key)
	c.metricsCollector.SetAmount(len(c.entries))
	return true
}

// Purge removes all entries.
// Purged entries are not counted as evictions in the metrics;
// only the entries amount gauge is reset.
func (c *LRUCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metricsCollector.SetAmount(0)
	c.entries = make(map[K]*list.Element)
	c.order.Init()
}

// Resize changes the maximum number of entries and returns how many entries were evicted by that.
func (c *LRUCache[K, V]) Resize(size int) (evicted int) {
	if size <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.maxEntries = size
	evicted = len(c.entries) - size
	if evicted <= 0 {
		return
	}
	for i := 0; i < evicted; i++ {
		c.removeOldest()
	}
	c.metricsCollector.SetAmount(len(c.entries))
	c.metricsCollector.AddEvictions(evicted)
	return evicted
}

// Len returns the number of entries in the cache, expired but not yet removed ones included.
func (c *LRUCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RunPeriodicCleanup removes expired entries every cleanupInterval until the context is done.
// Entries without an expiration time are never touched.
// It is supposed to be run in a separate goroutine.
func (c *LRUCache[K, V]) RunPeriodicCleanup(ctx context.Context, cleanupInterval time.Duration) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, elem := range c.entries {
				if elem.Value.(*cacheItem[K, V]).expired(now) {
					c.order.Remove(elem)
					delete(c.entries, key)
				}
			}
			c.metricsCollector.SetAmount(len(c.entries))
			c.mu.Unlock()
		}
	}
}

func (c *LRUCache[K, V]) get(key K) (value V, ok bool) {
	elem, hit := c.entries[key]
	if !hit {
		c.metricsCollector.IncMisses()
		return value, false
	}
	item := elem.Value.(*cacheItem[K, V])
	if item.expired(time.Now()) {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.metricsCollector.SetAmount(len(c.entries))
		c.metricsCollector.IncMisses()
		return value, false
	}
	c.order.MoveToFront(elem)
	c.metricsCollector.IncHits()
	return item.value, true
}

func (c *LRUCache[K, V]) addNew(key K, value V, expiresAt time.Time) {
	c.entries[key] = c.order.PushFront(&cacheItem[K, V]{key: key, value: value, expiresAt: expiresAt})
	if len(c.entries) <= c.maxEntries {
		c.metricsCollector.SetAmount(len(c.entries))
		return
	}
	c.removeOldest()
	c.metricsCollector.AddEvictions(1)
}

func (c *LRUCache[K, V]) removeOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*cacheItem[K, V]).key)
}

func expiryTime(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
