package attention

import "sync"

// readCache is a generic many-reader map. The tracker goroutine is the only
// writer, readers are the hot Get* paths, so an RWMutex map is enough. Cache
// updates are sequenced strictly after the authoritative state change.
type readCache[K comparable, V any] struct {
	data map[K]V
	mu   sync.RWMutex
}

func newReadCache[K comparable, V any]() *readCache[K, V] {
	return &readCache[K, V]{
		data: make(map[K]V),
	}
}

// Get retrieves a value. Returns the zero value and false when absent.
func (c *readCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, found := c.data[key]

	return val, found
}

// Set stores a value.
func (c *readCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = value
}

// Delete removes a key. Deleting an absent key is a no-op.
func (c *readCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
}

// Len returns the number of entries.
func (c *readCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.data)
}
