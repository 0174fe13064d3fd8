/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

// Package scrubtree implements the Scrub Tree Builder: given a parent volume and the snapshot a
// scrub reply was taken against, it computes the sub-tree of clones the reply must also be applied
// to, so the Scrub Manager can walk it top-down without re-deriving the snapshot lineage itself.
package scrubtree

import (
	"context"
	"fmt"

	"github.com/openshift-kni/vdisk-registry/internal/ids"
)

// Clone is one node of a computed scrub sub-tree: a clone id together with the clones descending
// from it that also carry the scrub reply's obligation.
type Clone struct {
	Id       ids.ObjectId
	Children []Clone
}

// SnapshotLister enumerates the live snapshots of a volume from oldest to newest.
type SnapshotLister func(ctx context.Context, parent ids.ObjectId) ([]ids.SnapshotName, error)

// DescendantLister returns the direct children of an object and, for each, the snapshot of the
// parent it was cloned from (empty iff the parent was a Template at clone time).
type DescendantLister func(ctx context.Context, parent ids.ObjectId) (map[ids.ObjectId]ids.SnapshotName, error)

// Build computes the sub-tree of clones a scrub reply taken against snapshot of parent must
// propagate to. A direct descendant is admitted iff its recorded snapshot is equal to or younger
// than snapshot, or it has no recorded snapshot (cloned from a Template). Once a descendant is
// admitted, its own entire descendant sub-tree is included unconditionally: no further snapshot
// filtering applies below the first level.
func Build(ctx context.Context, parent ids.ObjectId, snapshot ids.SnapshotName, listSnapshots SnapshotLister, listDescendants DescendantLister) ([]Clone, error) {
	eligible, err := eligibleSnapshots(ctx, parent, snapshot, listSnapshots)
	if err != nil {
		return nil, err
	}

	descendants, err := listDescendants(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("listing descendants of %q: %w", parent, err)
	}

	var tree []Clone
	for child, childSnap := range descendants {
		if childSnap != "" && !eligible[childSnap] {
			continue
		}
		subtree, err := collectAll(ctx, child, listDescendants)
		if err != nil {
			return nil, err
		}
		tree = append(tree, subtree)
	}
	return tree, nil
}

// eligibleSnapshots returns the set of snapshots of parent that are equal to or younger than
// target, per the oldest-to-newest ordering SnapshotLister returns.
func eligibleSnapshots(ctx context.Context, parent ids.ObjectId, target ids.SnapshotName, listSnapshots SnapshotLister) (map[ids.SnapshotName]bool, error) {
	snaps, err := listSnapshots(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots of %q: %w", parent, err)
	}

	index := -1
	for i, s := range snaps {
		if s == target {
			index = i
			break
		}
	}
	if index == -1 {
		return nil, fmt.Errorf("snapshot %q not found among %q's snapshots", target, parent)
	}

	eligible := make(map[ids.SnapshotName]bool, len(snaps)-index)
	for _, s := range snaps[index:] {
		eligible[s] = true
	}
	return eligible, nil
}

// collectAll recurses into id's entire descendant tree with no snapshot filter: every descendant
// at every nested level is admitted.
func collectAll(ctx context.Context, id ids.ObjectId, listDescendants DescendantLister) (Clone, error) {
	descendants, err := listDescendants(ctx, id)
	if err != nil {
		return Clone{}, fmt.Errorf("listing descendants of %q: %w", id, err)
	}

	node := Clone{Id: id}
	for child := range descendants {
		childNode, err := collectAll(ctx, child, listDescendants)
		if err != nil {
			return Clone{}, err
		}
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}
