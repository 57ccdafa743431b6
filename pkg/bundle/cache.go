package bundle

import (
	"errors"
	"sync"
)

// Cache shares opened archives by path so every sound in the same bundle
// reuses one directory and one file handle.
type Cache struct {
	mu       sync.Mutex
	archives map[string]*Archive
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{archives: make(map[string]*Archive)}
}

// Open returns the archive at path, opening it on first use.
func (c *Cache) Open(path string) (*Archive, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if a, ok := c.archives[path]; ok {
		return a, nil
	}
	a, err := Open(path)
	if err != nil {
		return nil, err
	}
	c.archives[path] = a
	return a, nil
}

// Len returns the number of open archives.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.archives)
}

// Close closes every cached archive. The cache is empty afterwards.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for path, a := range c.archives {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(c.archives, path)
	}
	return errors.Join(errs...)
}
