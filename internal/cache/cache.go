package cache

import "sync"

// InMemoryCache is a simple, concurrent-safe in-memory key-value store.
type InMemoryCache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// NewInMemoryCache creates and returns a new InMemoryCache.
func NewInMemoryCache[K comparable, V any]() *InMemoryCache[K, V] {
	return &InMemoryCache[K, V]{
		items: make(map[K]V),
	}
}

// Get retrieves a value from the cache.
// It returns the value and true if the key exists, otherwise the zero value and false.
func (c *InMemoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, found := c.items[key]
	return item, found
}

// Set adds or updates a value in the cache.
func (c *InMemoryCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
}

// GetOrSet returns the cached value for key, computing and storing it with fn
// on a miss. fn runs outside the lock, so two callers racing on the same key
// may both compute; the first stored value wins and is returned to both.
func (c *InMemoryCache[K, V]) GetOrSet(key K, fn func() V) V {
	if item, found := c.Get(key); found {
		return item
	}

	value := fn()

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, found := c.items[key]; found {
		return existing
	}
	c.items[key] = value
	return value
}

// Delete removes a value from the cache.
func (c *InMemoryCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len reports the number of cached entries.
func (c *InMemoryCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
