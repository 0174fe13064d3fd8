/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

package container

import (
	"context"
	"fmt"

	"github.com/openshift-kni/vdisk-registry/internal/extent"
)

// Read reads len(buf) bytes starting at off. Bytes outside [0, Size()) and extents not marked
// present read as zero. The returned count never exceeds Size()-off.
func (c *Container) Read(ctx context.Context, off uint64, buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	toRead := clampRead(uint64(len(buf)), c.size, off)
	for i := range buf {
		buf[i] = 0
	}
	if toRead == 0 {
		return 0, nil
	}

	end := off + toRead
	for cursor := off; cursor < end; {
		index := indexOf(cursor)
		extentStart := uint64(index) * extent.Capacity
		withinExtent := cursor - extentStart
		chunk := min(end-cursor, extent.Capacity-withinExtent)

		if int(index) < len(c.present) && c.present[index] {
			id := c.extentId(index)
			e, present, err := c.cache.Find(ctx, id, c.pull)
			if err != nil {
				return 0, fmt.Errorf("paging in extent %s: %w", id, err)
			}
			if present {
				if _, err := e.Read(int(withinExtent), buf[cursor-off:cursor-off+chunk]); err != nil {
					return 0, fmt.Errorf("reading extent %s: %w", id, err)
				}
			}
			// else: backend lost the object underneath us; treat as a short read (zero-fill).
		}
		cursor += chunk
	}
	return int(toRead), nil
}

// clampRead computes min(bufSize, size - off) without signed/unsigned wraparound: it returns 0
// when off >= size, so the unsigned subtraction never underflows.
func clampRead(bufSize, size, off uint64) uint64 {
	if off >= size {
		return 0
	}
	return min(bufSize, size-off)
}

// Write writes buf at off, creating or extending extents as needed and flushing each touched
// extent to the backend before the call returns.
func (c *Container) Write(ctx context.Context, off uint64, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(buf) == 0 {
		return nil
	}

	end := off + uint64(len(buf))
	for cursor := off; cursor < end; {
		index := indexOf(cursor)
		extentStart := uint64(index) * extent.Capacity
		withinExtent := cursor - extentStart
		chunk := min(end-cursor, extent.Capacity-withinExtent)

		if err := c.writeExtent(ctx, index, withinExtent, buf[cursor-off:cursor-off+chunk]); err != nil {
			return err
		}
		cursor += chunk
	}

	if end > c.size {
		c.size = end
	}
	return nil
}

func (c *Container) writeExtent(ctx context.Context, index uint32, within uint64, chunk []byte) error {
	id := c.extentId(index)
	alreadyPresent := int(index) < len(c.present) && c.present[index]

	var e extent.Extent
	if alreadyPresent {
		var present bool
		var err error
		e, present, err = c.cache.Find(ctx, id, c.pull)
		if err != nil {
			return fmt.Errorf("paging in extent %s: %w", id, err)
		}
		if !present {
			// Presence bit says it should exist but the backend lost it; recreate it fresh.
			e = c.cache.Put(id)
		}
	} else {
		e = c.cache.Put(id)
	}

	if err := e.Write(int(within), chunk); err != nil {
		return fmt.Errorf("writing extent %s: %w", id, err)
	}

	if err := c.flush(ctx, id, e); err != nil {
		if !alreadyPresent {
			// Newly created extent: drop it from the cache so a later read doesn't find a
			// half-written file the backend never received.
			_ = c.cache.Erase(id)
		}
		return fmt.Errorf("flushing extent %s: %w", id, err)
	}

	c.ensurePresentLocked(index)
	c.present[index] = true
	return nil
}

// Resize changes the container's logical size, trimming extents to match when shrinking. Growing
// only advances the logical size; extents for the newly-visible range materialize on first write.
func (c *Container) Resize(ctx context.Context, newSize uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if newSize >= c.size {
		c.size = newSize
		return nil
	}

	// keepUpTo is the index of the last extent that survives, or -1 when newSize is 0 and nothing
	// survives. Every present extent at a strictly higher index is erased and deleted.
	keepUpTo := -1
	if newSize > 0 {
		keepUpTo = int(lastIndex(newSize))
	}

	for index := keepUpTo + 1; index < len(c.present); index++ {
		if !c.present[index] {
			continue
		}
		id := c.extentId(uint32(index))
		if err := c.cache.Erase(id); err != nil {
			return fmt.Errorf("erasing extent %s during resize: %w", id, err)
		}
		if err := c.backend.Remove(ctx, c.namespace, id.String()); err != nil {
			return fmt.Errorf("deleting extent %s during resize: %w", id, err)
		}
	}
	if keepUpTo+1 < len(c.present) {
		c.present = c.present[:keepUpTo+1]
	}

	if newSize == 0 {
		c.present = nil
	} else if newSize%extent.Capacity != 0 && keepUpTo < len(c.present) && c.present[keepUpTo] {
		// The boundary extent survives but must be truncated to its remainder, unless newSize
		// lands exactly on a capacity boundary (in which case the extent is already full-sized).
		id := c.extentId(uint32(keepUpTo))
		e, present, err := c.cache.Find(ctx, id, c.pull)
		if err != nil {
			return fmt.Errorf("paging in boundary extent %s during resize: %w", id, err)
		}
		if present {
			remainder := int(newSize - uint64(keepUpTo)*extent.Capacity)
			if err := e.Resize(remainder); err != nil {
				return fmt.Errorf("truncating boundary extent %s during resize: %w", id, err)
			}
			if err := c.flush(ctx, id, e); err != nil {
				return fmt.Errorf("flushing boundary extent %s during resize: %w", id, err)
			}
		}
	}

	c.size = newSize
	return nil
}

func lastIndex(size uint64) uint32 {
	if size == 0 {
		return 0
	}
	return indexOf(size - 1)
}

// Unlink releases every present extent: erased from the cache and best-effort removed from the
// backend. A backend delete failure here is logged and ignored by the caller; the extent is
// considered leaked rather than blocking unlink.
func (c *Container) Unlink(ctx context.Context) []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releaseAll(ctx, true)
}

// DropFromCache behaves as Unlink but never touches the backend.
func (c *Container) DropFromCache(ctx context.Context) []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releaseAll(ctx, false)
}

func (c *Container) releaseAll(ctx context.Context, deleteFromBackend bool) []error {
	var errs []error
	for index, present := range c.present {
		if !present {
			continue
		}
		id := c.extentId(uint32(index))
		if err := c.cache.Erase(id); err != nil {
			errs = append(errs, fmt.Errorf("erasing extent %s: %w", id, err))
		}
		if deleteFromBackend {
			if err := c.backend.Remove(ctx, c.namespace, id.String()); err != nil {
				errs = append(errs, fmt.Errorf("deleting extent %s from backend: %w", id, err))
			}
		}
	}
	c.present = nil
	c.size = 0
	return errs
}

// Restart resyncs the container's state from the backend: it lists all objects whose name parses
// as an extent id belonging to this container, marks them present, and sets Size to
// (highest_index * Capacity) + size_of_highest_extent.
func (c *Container) Restart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	names, err := c.backend.ListObjects(ctx, c.namespace)
	if err != nil {
		return fmt.Errorf("listing backend objects for container %s: %w", c.id, err)
	}

	var highest uint32
	found := false
	present := map[uint32]bool{}
	for _, name := range names {
		id, parseErr := extent.Parse(name)
		if parseErr != nil || id.ContainerId != c.id {
			continue
		}
		present[id.OffsetIndex] = true
		if !found || id.OffsetIndex > highest {
			highest = id.OffsetIndex
			found = true
		}
	}

	if !found {
		c.present = nil
		c.size = 0
		return nil
	}

	bitmap := make([]bool, highest+1)
	for index := range present {
		bitmap[index] = true
	}

	size, err := c.backend.GetSize(ctx, c.namespace, c.extentId(highest).String())
	if err != nil {
		return fmt.Errorf("sizing highest extent for container %s: %w", c.id, err)
	}

	c.present = bitmap
	c.size = uint64(highest)*extent.Capacity + size
	return nil
}
