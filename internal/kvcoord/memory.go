/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

package kvcoord

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/openshift-kni/vdisk-registry/internal/typederrors"
)

// Memory is an in-process Coordinator backed by a guarded map. It gives upper layers (the Object
// Registry, Cached Object Registry, Scrub Manager) a fast, deterministic stand-in for the
// Postgres-backed Coordinator so their concurrency properties can be exercised without a database,
// the same way the reference client/fake-client split is used elsewhere in this codebase.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory Coordinator.
func NewMemory() *Memory {
	return &Memory{data: map[string][]byte{}}
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	if !ok {
		return nil, typederrors.NewNotFoundError(nil, "key %q not found", key)
	}
	return bytes.Clone(value), nil
}

func (m *Memory) Prefix(ctx context.Context, prefix string, max int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if max > 0 && len(keys) > max {
		keys = keys[:max]
	}
	entries := make([]Entry, len(keys))
	for i, k := range keys {
		entries[i] = Entry{Key: k, Value: bytes.Clone(m.data[k])}
	}
	return entries, nil
}

func (m *Memory) DeletePrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	return nil
}

func (m *Memory) RunSequence(ctx context.Context, description string, retryOnAssert bool, prepare func(seq *Sequence) error) error {
	attempts := 1
	if retryOnAssert {
		attempts = maxSequenceAttempts
	}

	var lastConflict error
	for attempt := 0; attempt < attempts; attempt++ {
		seq := &Sequence{}
		if err := prepare(seq); err != nil {
			return err
		}

		ok, err := m.apply(seq)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		lastConflict = typederrors.NewConflictingUpdateError(nil, "sequence %q: assertion failed", description)
		if !retryOnAssert {
			return lastConflict
		}
	}
	return lastConflict
}

// apply evaluates every assert under the single lock, and only if all hold, applies the
// mutations. This is what makes the sequence atomic with respect to other sequences and to
// single-key operations.
func (m *Memory) apply(seq *Sequence) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range seq.asserts {
		current, ok := m.data[a.key]
		if a.absent {
			if ok {
				return false, nil
			}
			continue
		}
		if !ok || !bytes.Equal(current, a.value) {
			return false, nil
		}
	}

	for _, mut := range seq.mutations {
		if mut.delete {
			delete(m.data, mut.key)
		} else {
			m.data[mut.key] = bytes.Clone(mut.value)
		}
	}
	return true, nil
}
