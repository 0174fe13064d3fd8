/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

// Package containermgr implements the per-node live map of ContainerId to Container, owning the
// shared Extent Cache and blob backend that every live Container pages through.
package containermgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openshift-kni/vdisk-registry/internal/backend"
	"github.com/openshift-kni/vdisk-registry/internal/container"
	"github.com/openshift-kni/vdisk-registry/internal/extentcache"
	"github.com/openshift-kni/vdisk-registry/internal/ids"
	"github.com/openshift-kni/vdisk-registry/internal/typederrors"
)

// Manager is the per-node live map ContainerId -> *Container. Dispatch operations by id; create
// and restart publish into the map, unlink removes from it before the underlying Container's own
// teardown runs.
type Manager struct {
	mu        sync.Mutex
	live      map[ids.ContainerId]*container.Container
	namespace ids.Namespace
	backend   backend.Backend
	cache     *extentcache.Cache
	logger    *slog.Logger
}

// New creates a Manager over the given namespace, backend and extent cache. All containers it
// creates or restarts share this single cache and backend.
func New(namespace ids.Namespace, be backend.Backend, cache *extentcache.Cache, logger *slog.Logger) *Manager {
	return &Manager{
		live:      map[ids.ContainerId]*container.Container{},
		namespace: namespace,
		backend:   be,
		cache:     cache,
		logger:    logger,
	}
}

// Create publishes a brand-new, empty container under id. It fails with AlreadyExistsError if id
// is already live.
func (m *Manager) Create(id ids.ContainerId) (*container.Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live[id]; ok {
		return nil, typederrors.NewAlreadyExistsError(nil, "container %q is already live", id)
	}
	c := container.New(id, m.namespace, m.backend, m.cache)
	m.live[id] = c
	return c, nil
}

// Get returns the live container for id, or NotFoundError if it is not live.
func (m *Manager) Get(id ids.ContainerId) (*container.Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.live[id]
	if !ok {
		return nil, typederrors.NewNotFoundError(nil, "container %q is not live", id)
	}
	return c, nil
}

// Read dispatches to the live container's Read.
func (m *Manager) Read(ctx context.Context, id ids.ContainerId, off uint64, buf []byte) (int, error) {
	c, err := m.Get(id)
	if err != nil {
		return 0, err
	}
	return c.Read(ctx, off, buf)
}

// Write dispatches to the live container's Write.
func (m *Manager) Write(ctx context.Context, id ids.ContainerId, off uint64, buf []byte) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	return c.Write(ctx, off, buf)
}

// Resize dispatches to the live container's Resize.
func (m *Manager) Resize(ctx context.Context, id ids.ContainerId, newSize uint64) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	return c.Resize(ctx, newSize)
}

// Size dispatches to the live container's Size.
func (m *Manager) Size(id ids.ContainerId) (uint64, error) {
	c, err := m.Get(id)
	if err != nil {
		return 0, err
	}
	return c.Size(), nil
}

// Unlink atomically removes id from the live map first, so the object disappears from the lookup
// space even if the underlying backend deletion partially fails, then runs the container's own
// Unlink. Errors from the extent teardown are logged, not surfaced: unlink always succeeds once
// the container was live.
func (m *Manager) Unlink(ctx context.Context, id ids.ContainerId) error {
	m.mu.Lock()
	c, ok := m.live[id]
	if !ok {
		m.mu.Unlock()
		return typederrors.NewNotFoundError(nil, "container %q is not live", id)
	}
	delete(m.live, id)
	m.mu.Unlock()

	for _, err := range c.Unlink(ctx) {
		m.logger.Warn("extent leaked during container unlink", "container_id", id, "error", err)
	}
	return nil
}

// DropFromCache removes id from the live map and drops its extents from the cache without
// touching the backend.
func (m *Manager) DropFromCache(ctx context.Context, id ids.ContainerId) error {
	m.mu.Lock()
	c, ok := m.live[id]
	if !ok {
		m.mu.Unlock()
		return typederrors.NewNotFoundError(nil, "container %q is not live", id)
	}
	delete(m.live, id)
	m.mu.Unlock()

	for _, err := range c.DropFromCache(ctx) {
		m.logger.Warn("error dropping extent from cache", "container_id", id, "error", err)
	}
	return nil
}

// Restart is idempotent: if id is already live this is a no-op. Otherwise an empty container is
// instantiated, resynced from the backend, and only then published into the map. Losing the race
// to a concurrent restarter is tolerated: the loser's resynced container is simply discarded.
func (m *Manager) Restart(ctx context.Context, id ids.ContainerId) error {
	m.mu.Lock()
	if _, ok := m.live[id]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	c := container.New(id, m.namespace, m.backend, m.cache)
	if err := c.Restart(ctx); err != nil {
		return fmt.Errorf("restarting container %q: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[id]; ok {
		return nil
	}
	m.live[id] = c
	return nil
}
