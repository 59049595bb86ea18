// Package cache provides a typed, size-bounded TTL cache on top of go-cache.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// NoExpiration keeps an entry until it is evicted for space.
const NoExpiration = gocache.NoExpiration

// Option configures a Cache.
type Option func(*options)

type options struct {
	maxEntries      int
	cleanupInterval time.Duration
}

// WithMaxEntries bounds the number of entries. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

// WithCleanupInterval sets how often expired entries are purged.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) { o.cleanupInterval = d }
}

// Cache is a typed wrapper around *gocache.Cache. A bounded cache evicts
// its oldest inserted entry when full.
type Cache[K ~string, V any] struct {
	c          *gocache.Cache
	defaultTTL time.Duration
	maxEntries int

	mu    sync.Mutex
	order *list.List // keys, oldest first
	index map[string]*list.Element
}

// New creates a cache whose entries live for defaultTTL unless Set overrides it.
func New[K ~string, V any](defaultTTL time.Duration, opts ...Option) *Cache[K, V] {
	o := options{cleanupInterval: time.Minute}
	for _, opt := range opts {
		opt(&o)
	}
	if defaultTTL == 0 {
		defaultTTL = NoExpiration
	}
	c := &Cache[K, V]{
		c:          gocache.New(defaultTTL, o.cleanupInterval),
		defaultTTL: defaultTTL,
		maxEntries: o.maxEntries,
	}
	if c.maxEntries > 0 {
		c.order = list.New()
		c.index = make(map[string]*list.Element, c.maxEntries)
		c.c.OnEvicted(func(key string, _ any) {
			c.mu.Lock()
			c.forget(key)
			c.mu.Unlock()
		})
	}
	return c
}

// Get returns the cached value for key.
func (c *Cache[K, V]) Get(_ context.Context, key K) (V, bool) {
	var zero V
	x, ok := c.c.Get(string(key))
	if !ok {
		return zero, false
	}
	v, ok := x.(V)
	if !ok {
		return zero, false
	}
	return v, true
}

// Set stores value under key. A ttl of 0 uses the cache default.
func (c *Cache[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if c.maxEntries > 0 {
		c.admit(string(key))
	}
	c.c.Set(string(key), value, ttl)
}

// Delete removes key.
func (c *Cache[K, V]) Delete(_ context.Context, key K) {
	c.c.Delete(string(key))
}

// Len returns the number of stored entries, including not yet purged expired ones.
func (c *Cache[K, V]) Len() int {
	return c.c.ItemCount()
}

// Close drops every entry.
func (c *Cache[K, V]) Close() {
	c.c.Flush()
	if c.maxEntries > 0 {
		c.mu.Lock()
		c.order.Init()
		clear(c.index)
		c.mu.Unlock()
	}
}

// admit records key as newest and, when the cache is full, evicts the
// oldest entry. The go-cache delete runs unlocked since it calls back into
// OnEvicted.
func (c *Cache[K, V]) admit(key string) {
	c.mu.Lock()
	if _, ok := c.index[key]; ok {
		c.mu.Unlock()
		return
	}
	var (
		victim string
		evict  bool
	)
	if c.order.Len() >= c.maxEntries {
		victim, evict = c.order.Front().Value.(string), true
		c.forget(victim)
	}
	c.index[key] = c.order.PushBack(key)
	c.mu.Unlock()

	if evict {
		c.c.Delete(victim)
	}
}

func (c *Cache[K, V]) forget(key string) {
	if el, ok := c.index[key]; ok {
		c.order.Remove(el)
		delete(c.index, key)
	}
}
