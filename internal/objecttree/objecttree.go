/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

// Package objecttree defines the small value types that describe an object's kind and its
// clone-tree edges: ObjectType, ObjectTreeConfig and the durably serialized ObjectRegistration.
package objecttree

import (
	"github.com/openshift-kni/vdisk-registry/internal/ids"
)

// ObjectType is the closed variant set of kinds an object in the registry can have.
type ObjectType int

const (
	File ObjectType = iota
	Volume
	Template
)

func (t ObjectType) String() string {
	switch t {
	case File:
		return "File"
	case Volume:
		return "Volume"
	case Template:
		return "Template"
	default:
		return "Unknown"
	}
}

// FocConfigMode selects how an object's first-class-object configuration is managed.
type FocConfigMode int

const (
	Automatic FocConfigMode = iota
	Manual
)

func (m FocConfigMode) String() string {
	switch m {
	case Automatic:
		return "Automatic"
	case Manual:
		return "Manual"
	default:
		return "Unknown"
	}
}

// Descendant is one entry of an ObjectTreeConfig's descendants map: a direct child together with
// the snapshot of the parent it was cloned from. Snapshot is empty iff the parent is a Template.
type Descendant struct {
	Child    ids.ObjectId
	Snapshot ids.SnapshotName
}

// HasSnapshot reports whether the descendant was cloned from a specific snapshot of the parent, as
// opposed to being cloned directly from a Template (no snapshot).
func (d Descendant) HasSnapshot() bool {
	return d.Snapshot != ""
}

// ObjectTreeConfig is an immutable value object describing an object's kind and the edges of the
// clone tree that touch it.
type ObjectTreeConfig struct {
	ObjectType ObjectType

	// ParentVolume is present iff the object is a clone, and names its immediate parent.
	ParentVolume    ids.ObjectId
	HasParentVolume bool

	// Descendants holds one entry per direct child, keyed by the child's object id.
	Descendants map[ids.ObjectId]ids.SnapshotName
}

// NewObjectTreeConfig builds a config with an empty descendants map, ready to have entries added.
func NewObjectTreeConfig(objectType ObjectType) ObjectTreeConfig {
	return ObjectTreeConfig{
		ObjectType:  objectType,
		Descendants: map[ids.ObjectId]ids.SnapshotName{},
	}
}

// WithParent returns a copy of the config with ParentVolume set.
func (c ObjectTreeConfig) WithParent(parent ids.ObjectId) ObjectTreeConfig {
	c.ParentVolume = parent
	c.HasParentVolume = true
	return c
}

// WithDescendant returns a copy of the config with one more entry added to Descendants. An empty
// snapshot means the child was cloned from a Template.
func (c ObjectTreeConfig) WithDescendant(child ids.ObjectId, snapshot ids.SnapshotName) ObjectTreeConfig {
	next := make(map[ids.ObjectId]ids.SnapshotName, len(c.Descendants)+1)
	for k, v := range c.Descendants {
		next[k] = v
	}
	next[child] = snapshot
	c.Descendants = next
	return c
}

// WithoutDescendant returns a copy of the config with the given child removed from Descendants.
func (c ObjectTreeConfig) WithoutDescendant(child ids.ObjectId) ObjectTreeConfig {
	next := make(map[ids.ObjectId]ids.SnapshotName, len(c.Descendants))
	for k, v := range c.Descendants {
		if k != child {
			next[k] = v
		}
	}
	c.Descendants = next
	return c
}

// IsLeaf reports whether the object has no descendants.
func (c ObjectTreeConfig) IsLeaf() bool {
	return len(c.Descendants) == 0
}

// ObjectRegistration is the durably serialized record held by the Object Registry for each
// registered object.
type ObjectRegistration struct {
	ObjectId      ids.ObjectId
	NodeId        ids.NodeId
	Namespace     ids.Namespace
	TreeConfig    ObjectTreeConfig
	OwnerTag      ids.OwnerTag
	FocConfigMode FocConfigMode
}

// NeedsOwnerTagUpgrade reports whether this registration was read back with a legacy, unassigned
// owner tag and should be upgraded in place on first observation by its owning node.
func (r ObjectRegistration) NeedsOwnerTagUpgrade(localNode ids.NodeId) bool {
	return r.NodeId == localNode && r.OwnerTag == ids.Unassigned
}
