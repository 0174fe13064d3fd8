/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

// Package container implements the Container: a linear byte range backed by fixed-capacity
// extents paged through the Extent Cache and durably stored in a blob Backend.
package container

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/openshift-kni/vdisk-registry/internal/backend"
	"github.com/openshift-kni/vdisk-registry/internal/extent"
	"github.com/openshift-kni/vdisk-registry/internal/extentcache"
	"github.com/openshift-kni/vdisk-registry/internal/ids"
)

// Container maps a linear byte range to extents of fixed capacity. All public methods hold an
// exclusive lock for the whole call; there is no intra-call concurrency, and the lock is released
// before the call returns.
type Container struct {
	mu sync.Mutex

	id        ids.ContainerId
	namespace ids.Namespace
	backend   backend.Backend
	cache     *extentcache.Cache

	size    uint64
	present []bool // presence bitmap indexed by offset_index
}

// New creates an empty container. Use Restart afterwards to resync an existing container's state
// from the backend, or leave it empty for a brand-new one.
func New(id ids.ContainerId, namespace ids.Namespace, be backend.Backend, cache *extentcache.Cache) *Container {
	return &Container{id: id, namespace: namespace, backend: be, cache: cache}
}

// Id returns the container's identifier.
func (c *Container) Id() ids.ContainerId {
	return c.id
}

// Size returns the container's current logical size.
func (c *Container) Size() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *Container) extentId(index uint32) extent.Id {
	return extent.Id{ContainerId: c.id, OffsetIndex: index}
}

func indexOf(off uint64) uint32 {
	return uint32(off / extent.Capacity)
}

// pull fetches an extent's content from the backend into path, reporting absence (not an error)
// when the backend has no such object.
func (c *Container) pull(ctx context.Context, id extent.Id, path string) (bool, error) {
	data, err := c.backend.Read(ctx, c.namespace, id.String(), false)
	if err != nil {
		if errors.Is(err, backend.ErrObjectDoesNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading extent %s from backend: %w", id, err)
	}
	e := extent.New(path)
	if err := e.Write(0, data); err != nil {
		return false, fmt.Errorf("staging extent %s on disk: %w", id, err)
	}
	return true, nil
}

// flush pushes an extent's whole current content to the backend under its wire name. The backend
// write is always an overwrite.
func (c *Container) flush(ctx context.Context, id extent.Id, e extent.Extent) error {
	size, err := e.Size()
	if err != nil {
		return fmt.Errorf("sizing extent %s before flush: %w", id, err)
	}
	data := make([]byte, size)
	if _, err := e.Read(0, data); err != nil {
		return fmt.Errorf("reading extent %s before flush: %w", id, err)
	}
	if err := c.backend.Write(ctx, c.namespace, id.String(), data, true); err != nil {
		return fmt.Errorf("flushing extent %s to backend: %w", id, err)
	}
	return nil
}

func (c *Container) ensurePresentLocked(index uint32) {
	if int(index) >= len(c.present) {
		grown := make([]bool, index+1)
		copy(grown, c.present)
		c.present = grown
	}
}
