/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

// Package extentcache implements the bounded, LRU-evicted mapping from ExtentId to on-disk Extent
// that Containers page through. It guarantees at-most-one concurrent pull per key and removes the
// backing file of any entry it evicts.
package extentcache

import (
	"container/list"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/openshift-kni/vdisk-registry/internal/extent"
)

// PullFunc fetches (or creates) the extent for id, writing its content under path, and reports
// whether it exists at all. A false, nil result means the extent is not present anywhere and the
// caller should treat it as absent rather than caching a miss.
type PullFunc func(ctx context.Context, id extent.Id, path string) (present bool, err error)

type entry struct {
	id   extent.Id
	path string
}

// Cache is a thread-safe, capacity-bounded LRU over extent.Id -> extent.Extent. The backing
// directory is cleared on startup: there is no warm restart.
type Cache struct {
	mu       sync.Mutex
	dir      string
	capacity int
	order    *list.List
	entries  map[extent.Id]*list.Element

	group singleflight.Group
}

// New creates a cache rooted at dir with the given positive capacity, clearing dir's contents
// first so no stale extent files survive a restart.
func New(dir string, capacity int) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("extent cache capacity must be positive, got %d", capacity)
	}
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clearing extent cache directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating extent cache directory %s: %w", dir, err)
	}
	return &Cache{
		dir:      dir,
		capacity: capacity,
		order:    list.New(),
		entries:  map[extent.Id]*list.Element{},
	}, nil
}

func (c *Cache) pathFor(id extent.Id) string {
	return filepath.Join(c.dir, id.String())
}

// Find returns the Extent for id, pulling it via pull if not already cached. Concurrent calls for
// the same id share a single in-flight pull. A (zero, false, nil) result means the extent does not
// exist anywhere.
func (c *Cache) Find(ctx context.Context, id extent.Id, pull PullFunc) (extent.Extent, bool, error) {
	c.mu.Lock()
	if el, ok := c.entries[id]; ok {
		c.order.MoveToFront(el)
		path := el.Value.(*entry).path
		c.mu.Unlock()
		return extent.New(path), true, nil
	}
	c.mu.Unlock()

	path := c.pathFor(id)
	result, err, _ := c.group.Do(id.String(), func() (interface{}, error) {
		present, pullErr := pull(ctx, id, path)
		return present, pullErr
	})
	if err != nil {
		return extent.Extent{}, false, err
	}
	present := result.(bool)
	if !present {
		return extent.Extent{}, false, nil
	}

	c.put(id, path)
	return extent.New(path), true, nil
}

// Put registers an already-created extent in the cache without going through a pull, used when a
// Container creates a brand-new extent locally.
func (c *Cache) Put(id extent.Id) extent.Extent {
	path := c.pathFor(id)
	c.put(id, path)
	return extent.New(path)
}

func (c *Cache) put(id extent.Id, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[id]; ok {
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{id: id, path: path})
	c.entries[id] = el
	c.evictLocked()
}

// Erase removes id's mapping, if any, and deletes its backing file.
func (c *Cache) Erase(id extent.Id) error {
	c.mu.Lock()
	el, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	path := el.Value.(*entry).path
	c.order.Remove(el)
	delete(c.entries, id)
	c.mu.Unlock()

	return extent.New(path).Remove()
}

// SetCapacity changes the cache's capacity. Shrinking evicts LRU entries immediately.
func (c *Cache) SetCapacity(capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("extent cache capacity must be positive, got %d", capacity)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = capacity
	c.evictLocked()
	return nil
}

// evictLocked must be called with mu held.
func (c *Cache) evictLocked() {
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			return
		}
		e := oldest.Value.(*entry)
		c.order.Remove(oldest)
		delete(c.entries, e.id)
		_ = extent.New(e.path).Remove()
	}
}
