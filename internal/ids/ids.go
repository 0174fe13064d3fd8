/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

// Package ids defines the strongly-typed identifiers shared by every layer of the registry.
// Each identifier is a newtype over string so that a ContainerId can never be passed where a
// NodeId is expected, even though both are opaque strings on the wire.
package ids

// ClusterId identifies the cluster that a KVC connection and an Object Registry belong to. It is
// the root path segment for every key stored in the coordinator.
type ClusterId string

// NodeId identifies a single cluster node. Object registrations record the NodeId that currently
// owns an object.
type NodeId string

// ObjectId identifies a managed object: a file, a volume, or a template.
type ObjectId string

// ContainerId identifies a Container, the byte-addressable storage unit backing a volume or file.
type ContainerId string

// Namespace is the backend storage namespace an object's extents are written under.
type Namespace string

// SnapshotName identifies a snapshot of a volume.
type SnapshotName string

// OwnerTag fences stale owners: it strictly increases on every ownership-changing registry
// mutation. The zero value means "unassigned" (a legacy registration that predates owner tags).
type OwnerTag uint64

// Unassigned is the reserved OwnerTag value meaning "legacy, not yet upgraded".
const Unassigned OwnerTag = 0

// String implementations keep these usable directly as map keys and in log fields.
func (c ClusterId) String() string    { return string(c) }
func (n NodeId) String() string       { return string(n) }
func (o ObjectId) String() string     { return string(o) }
func (c ContainerId) String() string  { return string(c) }
func (n Namespace) String() string    { return string(n) }
func (s SnapshotName) String() string { return string(s) }
