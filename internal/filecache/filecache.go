// Package filecache is the in-memory authoritative mirror of the
// workspace: an id -> File map plus a path -> id secondary index, kept
// consistent under a single owning mutex.
package filecache

import (
	"sync"
	"time"

	"carya/internal/wire"
)

// Cache holds every known file keyed by server id, with a secondary
// index from workspace path to id. It is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	byID    map[int64]*wire.File
	pathIdx map[string]int64
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		byID:    make(map[int64]*wire.File),
		pathIdx: make(map[string]int64),
	}
}

// Create inserts a new file, replacing any prior entry at the same id and
// repointing the path index at this file's path.
func (c *Cache) Create(file wire.File) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(file)
}

func (c *Cache) setLocked(file wire.File) {
	f := file
	c.byID[f.ID] = &f
	c.pathIdx[f.WorkspacePath] = f.ID
}

// GetByID returns the file with the given id.
func (c *Cache) GetByID(id int64) (wire.File, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.byID[id]
	if !ok {
		return wire.File{}, false
	}
	return *f, true
}

// GetByPath returns the file at the given workspace path.
func (c *Cache) GetByPath(path string) (wire.File, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.pathIdx[path]
	if !ok {
		return wire.File{}, false
	}
	f := c.byID[id]
	return *f, true
}

// HasByID reports whether a file with the given id is cached.
func (c *Cache) HasByID(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byID[id]
	return ok
}

// HasByPath reports whether a file exists at the given workspace path.
func (c *Cache) HasByPath(path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.pathIdx[path]
	return ok
}

// SetByID replaces the stored file for id, keeping the path index in
// sync with the new file's path (equivalent to a create for this
// purpose, since the caller already knows the id).
func (c *Cache) SetByID(id int64, file wire.File) {
	c.mu.Lock()
	defer c.mu.Unlock()
	file.ID = id
	c.setLocked(file)
}

// SetPath atomically migrates a file's workspace path: removes the old
// path binding and installs the new one. This is the only mutator
// allowed to change a file's path.
func (c *Cache) SetPath(id int64, newPath string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.byID[id]
	if !ok {
		return false
	}
	delete(c.pathIdx, f.WorkspacePath)
	f.WorkspacePath = newPath
	c.pathIdx[newPath] = id
	return true
}

// SetVersion updates a file's version in place.
func (c *Cache) SetVersion(id int64, version int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.byID[id]
	if !ok {
		return false
	}
	f.Version = version
	return true
}

// SetUpdatedAt updates a file's UpdatedAt timestamp in place.
func (c *Cache) SetUpdatedAt(id int64, ts time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.byID[id]
	if !ok {
		return false
	}
	f.UpdatedAt = ts
	return true
}

// SetContent replaces a file's text content.
func (c *Cache) SetContent(id int64, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.byID[id]
	if !ok {
		return false
	}
	f.Text = text
	return true
}

// DeleteByID removes the entry and its path binding, derived from the
// entry's current path (never a stale one).
func (c *Cache) DeleteByID(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.byID[id]
	if !ok {
		return
	}
	delete(c.pathIdx, f.WorkspacePath)
	delete(c.byID, id)
}

// DeleteByPath removes the entry at path and its id binding.
func (c *Cache) DeleteByPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.pathIdx[path]
	if !ok {
		return
	}
	delete(c.pathIdx, path)
	delete(c.byID, id)
}

// Find returns every cached file for which pred returns true.
func (c *Cache) Find(pred func(wire.File) bool) []wire.File {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []wire.File
	for _, f := range c.byID {
		if pred(*f) {
			out = append(out, *f)
		}
	}
	return out
}

// FindByPathPrefix returns every cached file whose path starts with
// prefix, a common need for folder delete/rename handling.
func (c *Cache) FindByPathPrefix(prefix string) []wire.File {
	return c.Find(func(f wire.File) bool {
		return len(f.WorkspacePath) > len(prefix) && f.WorkspacePath[:len(prefix)] == prefix
	})
}

// Dump returns every cached file.
func (c *Cache) Dump() []wire.File {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]wire.File, 0, len(c.byID))
	for _, f := range c.byID {
		out = append(out, *f)
	}
	return out
}
