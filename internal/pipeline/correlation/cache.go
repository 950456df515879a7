// Package correlation provides the idempotency cache mapping staging-file
// paths to stable correlation identifiers.
//
// The sink deduplicates repeated uploads by correlation id, so the same id
// must be presented on every retry of a given file. The cache exclusively
// owns the mapping: an id exists from the first upload attempt until the
// file is finally disposed of (deleted on success or abandoned after
// exhausting retries).
package correlation

import (
	"sync"

	"github.com/google/uuid"
)

// Cache maps a staging-file path to its correlation identifier.
// Safe for concurrent use; the single-worker upload path today reduces this
// to plain map operations, but parallel upload workers must not require a
// different interface.
type Cache struct {
	mu  sync.Mutex
	ids map[string]string
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{
		ids: make(map[string]string),
	}
}

// GetOrCreate returns the existing identifier for a path, or atomically
// creates, stores, and returns a new one.
func (c *Cache) GetOrCreate(path string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.ids[path]; ok {
		return id
	}

	id := uuid.NewString()
	c.ids[path] = id
	return id
}

// Get returns the identifier for a path, if one exists.
func (c *Cache) Get(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.ids[path]
	return id, ok
}

// Release removes the mapping for a path. Releasing an unknown path is a
// no-op.
func (c *Cache) Release(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ids, path)
}

// Len returns the number of in-flight mappings.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}
