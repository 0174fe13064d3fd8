/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

package backend

import (
	"context"
	"sort"
	"sync"

	"github.com/openshift-kni/vdisk-registry/internal/ids"
	"github.com/openshift-kni/vdisk-registry/internal/typederrors"
)

// Memory is an in-process fake Backend used by Container and Container Manager tests.
type Memory struct {
	mu         sync.Mutex
	namespaces map[ids.Namespace]map[string][]byte
}

// NewMemory creates an empty fake backend with no namespaces.
func NewMemory() *Memory {
	return &Memory{namespaces: map[ids.Namespace]map[string][]byte{}}
}

func (m *Memory) NamespaceExists(ctx context.Context, ns ids.Namespace) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.namespaces[ns]
	return ok, nil
}

func (m *Memory) CreateNamespace(ctx context.Context, ns ids.Namespace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.namespaces[ns]; ok {
		return typederrors.NewAlreadyExistsError(nil, "namespace %q already exists", ns)
	}
	m.namespaces[ns] = map[string][]byte{}
	return nil
}

func (m *Memory) DeleteNamespace(ctx context.Context, ns ids.Namespace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, ns)
	return nil
}

func (m *Memory) Read(ctx context.Context, ns ids.Namespace, objectName string, latestVersionRequired bool) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	objects, ok := m.namespaces[ns]
	if !ok {
		return nil, ErrObjectDoesNotExist
	}
	data, ok := objects[objectName]
	if !ok {
		return nil, ErrObjectDoesNotExist
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) Write(ctx context.Context, ns ids.Namespace, objectName string, data []byte, overwrite bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	objects, ok := m.namespaces[ns]
	if !ok {
		objects = map[string][]byte{}
		m.namespaces[ns] = objects
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	objects[objectName] = stored
	return nil
}

func (m *Memory) Remove(ctx context.Context, ns ids.Namespace, objectName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if objects, ok := m.namespaces[ns]; ok {
		delete(objects, objectName)
	}
	return nil
}

func (m *Memory) ListObjects(ctx context.Context, ns ids.Namespace) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	objects, ok := m.namespaces[ns]
	if !ok {
		return nil, nil
	}
	names := make([]string, 0, len(objects))
	for name := range objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) GetSize(ctx context.Context, ns ids.Namespace, objectName string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	objects, ok := m.namespaces[ns]
	if !ok {
		return 0, ErrObjectDoesNotExist
	}
	data, ok := objects[objectName]
	if !ok {
		return 0, ErrObjectDoesNotExist
	}
	return uint64(len(data)), nil
}
