// Package cache provides score and counter caches for Kestrel.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LRUCache is a thread-safe LRU cache with TTL support.
// Used as the Community tier cache and as L1 in two-phase caching.
type LRUCache struct {
	mu       sync.Mutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List
	counters map[string]*counterEntry
	pruneAt  int // counter map size that triggers the next expiry sweep

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*counterEntry),
		pruneAt:  maxSize,
	}
}

// Get retrieves a value from cache.
func (c *LRUCache) Get(ctx context.Context, namespace string, key string) ([]byte, error) {
	if namespace == "" {
		return nil, errNamespaceRequired
	}

	fullKey := makeKey(namespace, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[fullKey]
	if !ok {
		c.misses++
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return nil, nil
	}

	// Move to front (most recently used)
	c.order.MoveToFront(elem)
	c.hits++
	return entry.value, nil
}

// Set stores a value in cache with TTL.
func (c *LRUCache) Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error {
	if namespace == "" {
		return errNamespaceRequired
	}

	fullKey := makeKey(namespace, key)
	expiresAt := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		return nil
	}

	elem := c.order.PushFront(&cacheEntry{
		key:       fullKey,
		value:     value,
		expiresAt: expiresAt,
	})
	c.items[fullKey] = elem

	for c.order.Len() > c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}

	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, namespace string, key string) error {
	if namespace == "" {
		return errNamespaceRequired
	}

	fullKey := makeKey(namespace, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		c.removeElement(elem)
	}
	return nil
}

// GetScore retrieves a cached scoring result.
func (c *LRUCache) GetScore(ctx context.Context, namespace string, inputHash string) (*domain.ScoreResult, error) {
	data, err := c.Get(ctx, namespace, scoreKey(inputHash))
	if err != nil || data == nil {
		return nil, err
	}
	return decodeScore(data)
}

// SetScore caches a scoring result.
func (c *LRUCache) SetScore(ctx context.Context, namespace string, inputHash string, result *domain.ScoreResult, ttl time.Duration) error {
	data, err := encodeScore(result)
	if err != nil {
		return err
	}
	return c.Set(ctx, namespace, scoreKey(inputHash), data, ttl)
}

// IncrementCounter atomically increments a counter. The window starts at
// the first increment and is not extended by later ones.
func (c *LRUCache) IncrementCounter(ctx context.Context, namespace string, key string, window time.Duration) (int64, error) {
	if namespace == "" {
		return 0, errNamespaceRequired
	}

	fullKey := makeKey(namespace, counterKey(key))

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	entry, ok := c.counters[fullKey]
	if !ok && len(c.counters) >= c.pruneAt {
		c.pruneCountersLocked(now)
		// Live counters may legitimately exceed maxSize; sweep again only
		// once the map has doubled.
		c.pruneAt = max(c.maxSize, 2*len(c.counters))
	}
	if !ok || now.After(entry.expiresAt) {
		c.counters[fullKey] = &counterEntry{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}

	entry.count++
	return entry.count, nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.counters = make(map[string]*counterEntry)
	c.pruneAt = c.maxSize
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:     c.order.Len(),
		Capacity: c.maxSize,
		Counters: len(c.counters),
		Hits:     c.hits,
		Misses:   c.misses,
	}
}

// PruneCounters drops expired velocity counters and returns how many were removed.
func (c *LRUCache) PruneCounters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruneCountersLocked(time.Now())
}

func (c *LRUCache) pruneCountersLocked(now time.Time) int {
	n := 0
	for k, e := range c.counters {
		if now.After(e.expiresAt) {
			delete(c.counters, k)
			n++
		}
	}
	return n
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}

var errNamespaceRequired = fmt.Errorf("cache namespace is required")
