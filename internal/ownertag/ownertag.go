/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

// Package ownertag implements the Owner Tag Allocator: a single monotonically increasing counter,
// durable in the Key-Value Coordinator, that the Object Registry draws fresh owner tags from on
// every ownership-changing operation.
package ownertag

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/openshift-kni/vdisk-registry/internal/ids"
	"github.com/openshift-kni/vdisk-registry/internal/kvcoord"
	"github.com/openshift-kni/vdisk-registry/internal/typederrors"
)

// Allocator hands out fresh, never-zero OwnerTag values for one cluster.
type Allocator struct {
	kv  kvcoord.Coordinator
	key string
}

// NewAllocator creates an allocator backed by a single key under the given cluster's prefix.
func NewAllocator(kv kvcoord.Coordinator, clusterId ids.ClusterId) *Allocator {
	return &Allocator{
		kv:  kv,
		key: fmt.Sprintf("%s/owner-tag-counter", clusterId),
	}
}

// Allocate atomically increments the counter and returns the new value. Zero is never returned:
// wrap-around from the maximum uint64 value skips back to 1.
func (a *Allocator) Allocate(ctx context.Context) (ids.OwnerTag, error) {
	var next ids.OwnerTag
	err := a.kv.RunSequence(ctx, "allocate owner tag", true, func(seq *kvcoord.Sequence) error {
		current, err := a.read(ctx)
		if err != nil {
			return err
		}

		next = current + 1
		if next == ids.Unassigned {
			next = 1
		}

		if current == 0 {
			seq.Assert(a.key, nil)
		} else {
			seq.Assert(a.key, encode(current))
		}
		seq.Set(a.key, encode(next))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (a *Allocator) read(ctx context.Context) (ids.OwnerTag, error) {
	value, err := a.kv.Get(ctx, a.key)
	if err != nil {
		if typederrors.IsNotFoundError(err) {
			return 0, nil
		}
		return 0, err
	}
	return decode(value), nil
}

func encode(tag ids.OwnerTag) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(tag))
	return buf
}

func decode(buf []byte) ids.OwnerTag {
	if len(buf) != 8 {
		return 0
	}
	return ids.OwnerTag(binary.BigEndian.Uint64(buf))
}
