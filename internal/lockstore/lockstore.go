/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

// Package lockstore implements the Global Lock Store: a cluster-wide advisory lock record per
// namespace, held durably in the Key-Value Coordinator. Identity of the stored value is a
// cryptographic hash of its serialized form, so independent readers agree on a tag without ever
// comparing raw bytes.
package lockstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/openshift-kni/vdisk-registry/internal/ids"
	"github.com/openshift-kni/vdisk-registry/internal/kvcoord"
	"github.com/openshift-kni/vdisk-registry/internal/typederrors"
)

// Tag identifies the content of a stored lock by the hex-encoded SHA-256 of its serialized form.
type Tag string

// Store is a Global Lock Store scoped to one cluster. Each namespace has at most one stored lock
// value at a time.
type Store struct {
	kv        kvcoord.Coordinator
	clusterId ids.ClusterId
}

// New creates a Store over the given Coordinator for one cluster.
func New(kv kvcoord.Coordinator, clusterId ids.ClusterId) *Store {
	return &Store{kv: kv, clusterId: clusterId}
}

func (s *Store) key(ns ids.Namespace) string {
	return fmt.Sprintf("%s/locks/%s", s.clusterId, ns)
}

func tagOf(data []byte) Tag {
	sum := sha256.Sum256(data)
	return Tag(hex.EncodeToString(sum[:]))
}

// Exists reports whether a lock is currently stored for ns.
func (s *Store) Exists(ctx context.Context, ns ids.Namespace) (bool, error) {
	return s.kv.Exists(ctx, s.key(ns))
}

// Read returns the raw stored lock value for ns and its tag. NotFoundError if nothing is stored.
func (s *Store) Read(ctx context.Context, ns ids.Namespace) ([]byte, Tag, error) {
	value, err := s.kv.Get(ctx, s.key(ns))
	if err != nil {
		return nil, "", err
	}
	return value, tagOf(value), nil
}

// Write stores lock under ns. If prevTag is nil, the key must currently be absent. If prevTag is
// non-nil, the current value's tag must equal *prevTag, else LockHasChangedError is raised. On
// success, the tag of the newly written value is returned.
func (s *Store) Write(ctx context.Context, ns ids.Namespace, lock []byte, prevTag *Tag) (Tag, error) {
	key := s.key(ns)

	current, currentErr := s.kv.Get(ctx, key)
	currentExists := true
	if currentErr != nil {
		if !typederrors.IsNotFoundError(currentErr) {
			return "", currentErr
		}
		currentExists = false
	}

	if prevTag == nil {
		if currentExists {
			return "", typederrors.NewLockHasChangedError(nil, "lock for namespace %q already exists", ns)
		}
	} else {
		if !currentExists || tagOf(current) != *prevTag {
			return "", typederrors.NewLockHasChangedError(nil, "lock for namespace %q has changed", ns)
		}
	}

	newTag := tagOf(lock)
	err := s.kv.RunSequence(ctx, fmt.Sprintf("write lock %s", ns), false, func(seq *kvcoord.Sequence) error {
		if currentExists {
			seq.Assert(key, current)
		} else {
			seq.Assert(key, nil)
		}
		seq.Set(key, lock)
		return nil
	})
	if typederrors.IsConflictingUpdateError(err) {
		return "", typederrors.NewLockHasChangedError(err, "lock for namespace %q changed concurrently", ns)
	}
	if err != nil {
		return "", err
	}
	return newTag, nil
}

// Erase removes ns's stored lock, if any. Erasing an absent lock is not an error.
func (s *Store) Erase(ctx context.Context, ns ids.Namespace) error {
	return s.kv.DeletePrefix(ctx, s.key(ns))
}
