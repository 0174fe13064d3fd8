/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

// Package cachedregistry implements the Cached Object Registry: a per-node, bounded LRU cache over
// the Object Registry. Every write operation writes through to the Object Registry first and only
// then updates the local cache, so the cache can never be ahead of durable state; reads may still
// be stale with respect to another node's writes, which callers absorb by re-routing on a fresh
// (ignore_cache) read when they suspect a stale owner.
//
// Only ObjectId, NodeId and OwnerTag are safe to read from a cache hit without forcing a fresh
// lookup: every other field (TreeConfig, Namespace, FocConfigMode) can have changed on another
// node since this entry was cached. Callers that need those fields for anything beyond a cosmetic
// display should pass ignoreCache=true.
package cachedregistry

import (
	"container/list"
	"context"
	"sync"

	"github.com/openshift-kni/vdisk-registry/internal/ids"
	"github.com/openshift-kni/vdisk-registry/internal/objecttree"
	"github.com/openshift-kni/vdisk-registry/internal/registry"
	"github.com/openshift-kni/vdisk-registry/internal/typederrors"
)

// defaultCapacity is used when New is given a non-positive capacity.
const defaultCapacity = 4096

type entry struct {
	id  ids.ObjectId
	reg objecttree.ObjectRegistration
}

// Cache is a thread-safe, bounded LRU read-through/write-through cache over one node's Object
// Registry. The cache's own lock protects only the cache map; it is never held while the
// underlying Registry does its work, so that locked sections stay short.
type Cache struct {
	registry *registry.Registry
	local    ids.NodeId

	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[ids.ObjectId]*list.Element
}

// New creates a Cached Object Registry over registry for the given local node, bounded to
// capacity entries (a non-positive capacity falls back to a sane default).
func New(reg *registry.Registry, local ids.NodeId, capacity int) *Cache {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Cache{
		registry: reg,
		local:    local,
		capacity: capacity,
		order:    list.New(),
		entries:  map[ids.ObjectId]*list.Element{},
	}
}

// Find returns id's registration. A cache hit is returned as-is unless ignoreCache is set, in
// which case (or on a miss) the Object Registry is read fresh and the result refreshes the cache
// entry, or evicts it if the object is no longer registered.
func (c *Cache) Find(ctx context.Context, id ids.ObjectId, ignoreCache bool) (objecttree.ObjectRegistration, error) {
	if !ignoreCache {
		if reg, ok := c.lookup(id); ok {
			return reg, nil
		}
	}

	reg, err := c.registry.Find(ctx, id, c.local)
	if err != nil {
		if typederrors.IsNotRegisteredError(err) {
			c.evict(id)
		}
		return objecttree.ObjectRegistration{}, err
	}
	c.put(id, reg)
	return reg, nil
}

func (c *Cache) lookup(id ids.ObjectId) (objecttree.ObjectRegistration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[id]
	if !ok {
		return objecttree.ObjectRegistration{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).reg, true
}

func (c *Cache) put(id ids.ObjectId, reg objecttree.ObjectRegistration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[id]; ok {
		el.Value.(*entry).reg = reg
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{id: id, reg: reg})
	c.entries[id] = el
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).id)
	}
}

func (c *Cache) evict(id ids.ObjectId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[id]
	if !ok {
		return
	}
	c.order.Remove(el)
	delete(c.entries, id)
}

// DropCache clears every cached entry.
func (c *Cache) DropCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = map[ids.ObjectId]*list.Element{}
}

// DropEntryFromCache clears id's cached entry, if any, without touching the Object Registry.
func (c *Cache) DropEntryFromCache(id ids.ObjectId) {
	c.evict(id)
}

// writeThrough runs op against the Object Registry, evicting id's cache entry on an
// ObjectNotRegistered failure (the entry was stale) before propagating any error, and otherwise
// refreshing the cache entry from a fresh read on success.
func (c *Cache) writeThrough(ctx context.Context, id ids.ObjectId, op func() error) error {
	if err := op(); err != nil {
		if typederrors.IsNotRegisteredError(err) {
			c.evict(id)
		}
		return err
	}
	reg, err := c.registry.Find(ctx, id, c.local)
	if err != nil {
		// The mutation itself succeeded; a refresh failure just leaves the cache stale, which
		// is within the documented staleness contract, so it is not surfaced as an error here.
		return nil
	}
	c.put(id, reg)
	return nil
}

// RegisterBaseVolume writes through to the Object Registry's RegisterBaseVolume.
func (c *Cache) RegisterBaseVolume(ctx context.Context, id ids.ObjectId, node ids.NodeId, namespace ids.Namespace) error {
	return c.writeThrough(ctx, id, func() error {
		return c.registry.RegisterBaseVolume(ctx, id, node, namespace)
	})
}

// RegisterFile writes through to the Object Registry's RegisterFile.
func (c *Cache) RegisterFile(ctx context.Context, id ids.ObjectId, node ids.NodeId, namespace ids.Namespace) error {
	return c.writeThrough(ctx, id, func() error {
		return c.registry.RegisterFile(ctx, id, node, namespace)
	})
}

// RegisterClone writes through to the Object Registry's RegisterClone. The parent's cache entry is
// dropped rather than refreshed: its Descendants changed, but this cache only ever serves
// NodeId/OwnerTag safely off a hit, so a lazy re-read on next use is enough.
func (c *Cache) RegisterClone(ctx context.Context, id ids.ObjectId, node ids.NodeId, namespace ids.Namespace, parent ids.ObjectId, snapshot ids.SnapshotName) error {
	err := c.writeThrough(ctx, id, func() error {
		return c.registry.RegisterClone(ctx, id, node, namespace, parent, snapshot)
	})
	c.evict(parent)
	return err
}

// ConvertBaseToClone writes through to the Object Registry's ConvertBaseToClone.
func (c *Cache) ConvertBaseToClone(ctx context.Context, id ids.ObjectId, node ids.NodeId, namespace ids.Namespace, parent ids.ObjectId, snapshot ids.SnapshotName) error {
	err := c.writeThrough(ctx, id, func() error {
		return c.registry.ConvertBaseToClone(ctx, id, node, namespace, parent, snapshot)
	})
	c.evict(parent)
	return err
}

// Unregister writes through to the Object Registry's Unregister and drops id from the cache. The
// parent's entry (with its now-stale Descendants) is dropped too, but only when id's own entry was
// cached and names a parent; otherwise the parent's entry is left as it is.
func (c *Cache) Unregister(ctx context.Context, id ids.ObjectId, caller ids.NodeId) error {
	var parent ids.ObjectId
	var hasParent bool
	if reg, ok := c.lookup(id); ok {
		parent, hasParent = reg.TreeConfig.ParentVolume, reg.TreeConfig.HasParentVolume
	}

	err := c.registry.Unregister(ctx, id, caller)
	c.evict(id)
	if hasParent {
		c.evict(parent)
	}
	return err
}

// Migrate writes through to the Object Registry's Migrate.
func (c *Cache) Migrate(ctx context.Context, id ids.ObjectId, from, to ids.NodeId) error {
	return c.writeThrough(ctx, id, func() error {
		return c.registry.Migrate(ctx, id, from, to)
	})
}

// SetAsTemplate writes through to the Object Registry's SetAsTemplate.
func (c *Cache) SetAsTemplate(ctx context.Context, id ids.ObjectId, caller ids.NodeId) error {
	return c.writeThrough(ctx, id, func() error {
		return c.registry.SetAsTemplate(ctx, id, caller)
	})
}

// SetFocConfigMode writes through to the Object Registry's SetFocConfigMode.
func (c *Cache) SetFocConfigMode(ctx context.Context, id ids.ObjectId, caller ids.NodeId, mode objecttree.FocConfigMode) error {
	return c.writeThrough(ctx, id, func() error {
		return c.registry.SetFocConfigMode(ctx, id, caller, mode)
	})
}

// WipeOut writes through to the Object Registry's WipeOut and drops any cached entry.
func (c *Cache) WipeOut(ctx context.Context, id ids.ObjectId) error {
	err := c.registry.WipeOut(ctx, id)
	c.evict(id)
	return err
}

// List always bypasses the cache: it lists directly from the Object Registry.
func (c *Cache) List(ctx context.Context) ([]objecttree.ObjectRegistration, error) {
	return c.registry.List(ctx)
}
