/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

// Package registry implements the Object Registry: the cluster-replicated directory of managed
// objects, their owning node, their backend namespace, and their position in the clone tree. Every
// mutation is a single call to the Key-Value Coordinator's RunSequence, with asserts chosen so
// that concurrent mutations serialize correctly.
package registry

import (
	"context"
	"fmt"

	"github.com/openshift-kni/vdisk-registry/internal/ids"
	"github.com/openshift-kni/vdisk-registry/internal/kvcoord"
	"github.com/openshift-kni/vdisk-registry/internal/objecttree"
	"github.com/openshift-kni/vdisk-registry/internal/ownertag"
	"github.com/openshift-kni/vdisk-registry/internal/typederrors"
)

// Registry is the durable, cluster-replicated Object Registry for one cluster.
type Registry struct {
	kv        kvcoord.Coordinator
	clusterId ids.ClusterId
	owners    *ownertag.Allocator
}

// New creates a Registry over the given Coordinator for one cluster, drawing fresh owner tags from
// its own Owner Tag Allocator keyed under the same cluster prefix.
func New(kv kvcoord.Coordinator, clusterId ids.ClusterId) *Registry {
	return &Registry{kv: kv, clusterId: clusterId, owners: ownertag.NewAllocator(kv, clusterId)}
}

func (r *Registry) key(id ids.ObjectId) string {
	return fmt.Sprintf("%s/registrations/%s", r.clusterId, id)
}

// Find returns the current registration for id, upgrading a legacy (owner_tag == 0) registration
// in place if it is owned by localNode before returning it.
func (r *Registry) Find(ctx context.Context, id ids.ObjectId, localNode ids.NodeId) (objecttree.ObjectRegistration, error) {
	reg, err := r.read(ctx, id)
	if err != nil {
		return objecttree.ObjectRegistration{}, err
	}
	if reg.NeedsOwnerTagUpgrade(localNode) {
		upgraded, upgradeErr := r.upgradeOwnerTagIfLegacy(ctx, id, reg)
		if upgradeErr == nil {
			return upgraded, nil
		}
		// Losing the race is acceptable; the reply we already have is still valid to return.
	}
	return reg, nil
}

// List returns every registration whose key falls under this cluster's registrations prefix.
func (r *Registry) List(ctx context.Context) ([]objecttree.ObjectRegistration, error) {
	prefix := fmt.Sprintf("%s/registrations/", r.clusterId)
	entries, err := r.kv.Prefix(ctx, prefix, 0)
	if err != nil {
		return nil, fmt.Errorf("listing registrations: %w", err)
	}
	out := make([]objecttree.ObjectRegistration, 0, len(entries))
	for _, e := range entries {
		reg, decodeErr := objecttree.Unmarshal(e.Value)
		if decodeErr != nil {
			return nil, fmt.Errorf("decoding registration at %q: %w", e.Key, decodeErr)
		}
		out = append(out, reg)
	}
	return out, nil
}

func (r *Registry) read(ctx context.Context, id ids.ObjectId) (objecttree.ObjectRegistration, error) {
	value, err := r.kv.Get(ctx, r.key(id))
	if err != nil {
		if typederrors.IsNotFoundError(err) {
			return objecttree.ObjectRegistration{}, typederrors.NewNotRegisteredError(err, "object %q is not registered", id)
		}
		return objecttree.ObjectRegistration{}, err
	}
	reg, err := objecttree.Unmarshal(value)
	if err != nil {
		return objecttree.ObjectRegistration{}, fmt.Errorf("decoding registration for %q: %w", id, err)
	}
	return reg, nil
}

// RegisterBaseVolume creates a fresh root Volume registration with no parent. AlreadyRegisteredError
// if the id is already registered.
func (r *Registry) RegisterBaseVolume(ctx context.Context, id ids.ObjectId, node ids.NodeId, namespace ids.Namespace) error {
	return r.registerRoot(ctx, id, node, namespace, objecttree.Volume)
}

// RegisterFile creates a fresh File registration with no parent and no descendants.
func (r *Registry) RegisterFile(ctx context.Context, id ids.ObjectId, node ids.NodeId, namespace ids.Namespace) error {
	return r.registerRoot(ctx, id, node, namespace, objecttree.File)
}

func (r *Registry) registerRoot(ctx context.Context, id ids.ObjectId, node ids.NodeId, namespace ids.Namespace, kind objecttree.ObjectType) error {
	key := r.key(id)
	err := r.kv.RunSequence(ctx, fmt.Sprintf("register %s", id), false, func(seq *kvcoord.Sequence) error {
		tag, allocErr := r.owners.Allocate(ctx)
		if allocErr != nil {
			return allocErr
		}
		reg := objecttree.ObjectRegistration{
			ObjectId:   id,
			NodeId:     node,
			Namespace:  namespace,
			TreeConfig: objecttree.NewObjectTreeConfig(kind),
			OwnerTag:   tag,
		}
		data, marshalErr := objecttree.Marshal(reg)
		if marshalErr != nil {
			return marshalErr
		}
		seq.Assert(key, nil)
		seq.Set(key, data)
		return nil
	})
	if typederrors.IsConflictingUpdateError(err) {
		return typederrors.NewAlreadyRegisteredError(err, "object %q is already registered", id)
	}
	return err
}

// RegisterClone creates a new Volume registration as a clone of parent, recording snapshot (empty
// iff parent is a Template) in the parent's descendants, and links the clone's own parent_volume.
// The parent must be a Volume (snapshot required) or a Template (snapshot forbidden); it can never
// be a File.
func (r *Registry) RegisterClone(ctx context.Context, id ids.ObjectId, node ids.NodeId, namespace ids.Namespace, parent ids.ObjectId, snapshot ids.SnapshotName) error {
	return r.registerCloneSequence(ctx, id, node, namespace, parent, snapshot, false)
}

// ConvertBaseToClone rewrites an existing base registration (id) into a clone of parent, replacing
// its prior tree config. The object must already be registered; its prior value is asserted and
// overwritten atomically alongside the parent's descendants update.
func (r *Registry) ConvertBaseToClone(ctx context.Context, id ids.ObjectId, node ids.NodeId, namespace ids.Namespace, parent ids.ObjectId, snapshot ids.SnapshotName) error {
	return r.registerCloneSequence(ctx, id, node, namespace, parent, snapshot, true)
}

func (r *Registry) registerCloneSequence(ctx context.Context, id ids.ObjectId, node ids.NodeId, namespace ids.Namespace, parent ids.ObjectId, snapshot ids.SnapshotName, convert bool) error {
	parentKey := r.key(parent)
	cloneKey := r.key(id)

	err := r.kv.RunSequence(ctx, fmt.Sprintf("register clone %s of %s", id, parent), true, func(seq *kvcoord.Sequence) error {
		parentBuf, err := r.kv.Get(ctx, parentKey)
		if err != nil {
			if typederrors.IsNotFoundError(err) {
				return typederrors.NewNotRegisteredError(err, "parent %q is not registered", parent)
			}
			return err
		}
		parentReg, err := objecttree.Unmarshal(parentBuf)
		if err != nil {
			return fmt.Errorf("decoding parent %q: %w", parent, err)
		}

		if err := validateCloneParent(parentReg.TreeConfig.ObjectType, snapshot); err != nil {
			return err
		}
		if _, exists := parentReg.TreeConfig.Descendants[id]; exists {
			return typederrors.NewAlreadyRegisteredError(nil, "object %q is already a child of %q", id, parent)
		}

		var oldCloneBuf []byte
		if convert {
			oldCloneBuf, err = r.kv.Get(ctx, cloneKey)
			if err != nil {
				return fmt.Errorf("reading existing registration for %q: %w", id, err)
			}
			seq.Assert(cloneKey, oldCloneBuf)
			seq.Delete(cloneKey)
		} else {
			seq.Assert(cloneKey, nil)
		}

		tag, err := r.owners.Allocate(ctx)
		if err != nil {
			return err
		}

		newParentReg := parentReg
		newParentReg.TreeConfig = parentReg.TreeConfig.WithDescendant(id, snapshot)
		newParentData, err := objecttree.Marshal(newParentReg)
		if err != nil {
			return err
		}

		cloneReg := objecttree.ObjectRegistration{
			ObjectId:   id,
			NodeId:     node,
			Namespace:  namespace,
			TreeConfig: objecttree.NewObjectTreeConfig(objecttree.Volume).WithParent(parent),
			OwnerTag:   tag,
		}
		cloneData, err := objecttree.Marshal(cloneReg)
		if err != nil {
			return err
		}

		seq.Assert(parentKey, parentBuf)
		seq.Set(parentKey, newParentData)
		seq.Set(cloneKey, cloneData)
		return nil
	})
	if typederrors.IsConflictingUpdateError(err) {
		return typederrors.NewAlreadyRegisteredError(err, "conflicting clone registration for %q", id)
	}
	return err
}

func validateCloneParent(parentType objecttree.ObjectType, snapshot ids.SnapshotName) error {
	switch parentType {
	case objecttree.File:
		return typederrors.NewInvalidOperationError(nil, "a File cannot be a clone parent")
	case objecttree.Volume:
		if snapshot == "" {
			return typederrors.NewInvalidOperationError(nil, "cloning a Volume requires a snapshot")
		}
	case objecttree.Template:
		if snapshot != "" {
			return typederrors.NewInvalidOperationError(nil, "cloning a Template must not specify a snapshot")
		}
	default:
		return typederrors.NewInconsistencyError(nil, "parent has unknown object type %v", parentType)
	}
	return nil
}

// Unregister removes id's registration. It fails with WrongOwnerError if caller is not the
// recorded owner, and InvalidOperationError if the object still has descendants. If the object has
// a parent, the parent's descendants entry for id is removed atomically in the same sequence.
func (r *Registry) Unregister(ctx context.Context, id ids.ObjectId, caller ids.NodeId) error {
	err := r.kv.RunSequence(ctx, fmt.Sprintf("unregister %s", id), true, func(seq *kvcoord.Sequence) error {
		selfBuf, err := r.kv.Get(ctx, r.key(id))
		if err != nil {
			if typederrors.IsNotFoundError(err) {
				return typederrors.NewNotRegisteredError(err, "object %q is not registered", id)
			}
			return err
		}
		selfReg, err := objecttree.Unmarshal(selfBuf)
		if err != nil {
			return fmt.Errorf("decoding registration for %q: %w", id, err)
		}
		if selfReg.NodeId != caller {
			return typederrors.NewWrongOwnerError(nil, "node %q does not own object %q", caller, id)
		}
		if !selfReg.TreeConfig.IsLeaf() {
			return typederrors.NewInvalidOperationError(nil, "object %q still has descendants", id)
		}

		if !selfReg.TreeConfig.HasParentVolume {
			seq.Assert(r.key(id), selfBuf)
			seq.Delete(r.key(id))
			return nil
		}

		parentKey := r.key(selfReg.TreeConfig.ParentVolume)
		parentBuf, err := r.kv.Get(ctx, parentKey)
		if err != nil {
			if typederrors.IsNotFoundError(err) {
				return typederrors.NewInconsistencyError(err, "parent %q of %q is missing", selfReg.TreeConfig.ParentVolume, id)
			}
			return err
		}
		parentReg, err := objecttree.Unmarshal(parentBuf)
		if err != nil {
			return fmt.Errorf("decoding parent %q: %w", selfReg.TreeConfig.ParentVolume, err)
		}
		if parentReg.TreeConfig.ObjectType != objecttree.Volume && parentReg.TreeConfig.ObjectType != objecttree.Template {
			return typederrors.NewInconsistencyError(nil, "parent %q has unexpected type %v", selfReg.TreeConfig.ParentVolume, parentReg.TreeConfig.ObjectType)
		}
		if _, ok := parentReg.TreeConfig.Descendants[id]; !ok {
			return typederrors.NewConflictingUpdateError(nil, "parent %q no longer lists %q as a descendant", selfReg.TreeConfig.ParentVolume, id)
		}

		newParentReg := parentReg
		newParentReg.TreeConfig = parentReg.TreeConfig.WithoutDescendant(id)
		newParentData, err := objecttree.Marshal(newParentReg)
		if err != nil {
			return err
		}

		seq.Assert(parentKey, parentBuf)
		seq.Set(parentKey, newParentData)
		seq.Assert(r.key(id), selfBuf)
		seq.Delete(r.key(id))
		return nil
	})
	return err
}

// Migrate reassigns id's ownership from `from` to `to`, allocating a fresh owner tag. It does not
// retry on assertion conflict: a concurrent migration raises ConflictingUpdateError.
func (r *Registry) Migrate(ctx context.Context, id ids.ObjectId, from, to ids.NodeId) error {
	key := r.key(id)
	err := r.kv.RunSequence(ctx, fmt.Sprintf("migrate %s", id), false, func(seq *kvcoord.Sequence) error {
		oldBuf, err := r.kv.Get(ctx, key)
		if err != nil {
			if typederrors.IsNotFoundError(err) {
				return typederrors.NewNotRegisteredError(err, "object %q is not registered", id)
			}
			return err
		}
		oldReg, err := objecttree.Unmarshal(oldBuf)
		if err != nil {
			return fmt.Errorf("decoding registration for %q: %w", id, err)
		}
		if oldReg.NodeId != from {
			return typederrors.NewWrongOwnerError(nil, "object %q is not owned by %q", id, from)
		}

		tag, err := r.owners.Allocate(ctx)
		if err != nil {
			return err
		}
		newReg := oldReg
		newReg.NodeId = to
		newReg.OwnerTag = tag
		newData, err := objecttree.Marshal(newReg)
		if err != nil {
			return err
		}

		seq.Assert(key, oldBuf)
		seq.Set(key, newData)
		return nil
	})
	return err
}

// SetAsTemplate rewrites id's object type to Template. It requires the caller to own the object,
// the object to have no descendants, and — if the object is itself a clone — its parent to already
// be a Template.
func (r *Registry) SetAsTemplate(ctx context.Context, id ids.ObjectId, caller ids.NodeId) error {
	key := r.key(id)
	return r.kv.RunSequence(ctx, fmt.Sprintf("set as template %s", id), true, func(seq *kvcoord.Sequence) error {
		buf, err := r.kv.Get(ctx, key)
		if err != nil {
			if typederrors.IsNotFoundError(err) {
				return typederrors.NewNotRegisteredError(err, "object %q is not registered", id)
			}
			return err
		}
		reg, err := objecttree.Unmarshal(buf)
		if err != nil {
			return fmt.Errorf("decoding registration for %q: %w", id, err)
		}
		if reg.NodeId != caller {
			return typederrors.NewWrongOwnerError(nil, "node %q does not own object %q", caller, id)
		}
		if reg.TreeConfig.ObjectType == objecttree.Template {
			return nil
		}

		if reg.TreeConfig.HasParentVolume {
			parentBuf, err := r.kv.Get(ctx, r.key(reg.TreeConfig.ParentVolume))
			if err != nil {
				return fmt.Errorf("reading parent %q: %w", reg.TreeConfig.ParentVolume, err)
			}
			parentReg, err := objecttree.Unmarshal(parentBuf)
			if err != nil {
				return fmt.Errorf("decoding parent %q: %w", reg.TreeConfig.ParentVolume, err)
			}
			if parentReg.TreeConfig.ObjectType != objecttree.Template {
				return typederrors.NewInvalidOperationError(nil, "parent %q of %q is not a Template", reg.TreeConfig.ParentVolume, id)
			}
		}

		newReg := reg
		newReg.TreeConfig.ObjectType = objecttree.Template
		newData, err := objecttree.Marshal(newReg)
		if err != nil {
			return err
		}
		seq.Assert(key, buf)
		seq.Set(key, newData)
		return nil
	})
}

// SetFocConfigMode changes id's FOC config mode. Ownership-gated; no other field changes.
func (r *Registry) SetFocConfigMode(ctx context.Context, id ids.ObjectId, caller ids.NodeId, mode objecttree.FocConfigMode) error {
	key := r.key(id)
	return r.kv.RunSequence(ctx, fmt.Sprintf("set foc config mode %s", id), true, func(seq *kvcoord.Sequence) error {
		buf, err := r.kv.Get(ctx, key)
		if err != nil {
			if typederrors.IsNotFoundError(err) {
				return typederrors.NewNotRegisteredError(err, "object %q is not registered", id)
			}
			return err
		}
		reg, err := objecttree.Unmarshal(buf)
		if err != nil {
			return fmt.Errorf("decoding registration for %q: %w", id, err)
		}
		if reg.NodeId != caller {
			return typederrors.NewWrongOwnerError(nil, "node %q does not own object %q", caller, id)
		}
		if reg.FocConfigMode == mode {
			return nil
		}
		newReg := reg
		newReg.FocConfigMode = mode
		newData, err := objecttree.Marshal(newReg)
		if err != nil {
			return err
		}
		seq.Assert(key, buf)
		seq.Set(key, newData)
		return nil
	})
}

// WipeOut best-effort purges id's registration key. It is not consistency-preserving: no parent
// linkage is updated and no ownership check is performed. Used to clean up residue.
func (r *Registry) WipeOut(ctx context.Context, id ids.ObjectId) error {
	return r.kv.DeletePrefix(ctx, r.key(id))
}

// upgradeOwnerTagIfLegacy assigns a fresh owner tag to a legacy (owner_tag == 0) registration owned
// by localNode, via a single-key compare-and-swap. Losing the race is not an error: the caller
// already has a valid (if stale) registration to use.
func (r *Registry) upgradeOwnerTagIfLegacy(ctx context.Context, id ids.ObjectId, reg objecttree.ObjectRegistration) (objecttree.ObjectRegistration, error) {
	key := r.key(id)
	// Assert against the stored bytes: a legacy record was written by an older wire version, so
	// re-marshalling reg would never match them.
	oldBuf, err := r.kv.Get(ctx, key)
	if err != nil {
		return objecttree.ObjectRegistration{}, err
	}
	current, err := objecttree.Unmarshal(oldBuf)
	if err != nil {
		return objecttree.ObjectRegistration{}, err
	}
	if !current.NeedsOwnerTagUpgrade(reg.NodeId) {
		return objecttree.ObjectRegistration{}, typederrors.NewConflictingUpdateError(nil, "registration for %q changed before its owner tag was upgraded", id)
	}
	reg = current

	var upgraded objecttree.ObjectRegistration
	err = r.kv.RunSequence(ctx, fmt.Sprintf("upgrade owner tag %s", id), false, func(seq *kvcoord.Sequence) error {
		tag, allocErr := r.owners.Allocate(ctx)
		if allocErr != nil {
			return allocErr
		}
		upgraded = reg
		upgraded.OwnerTag = tag
		newBuf, marshalErr := objecttree.Marshal(upgraded)
		if marshalErr != nil {
			return marshalErr
		}
		seq.Assert(key, oldBuf)
		seq.Set(key, newBuf)
		return nil
	})
	if err != nil {
		return objecttree.ObjectRegistration{}, err
	}
	return upgraded, nil
}
