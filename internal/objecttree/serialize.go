/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

package objecttree

import (
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/openshift-kni/vdisk-registry/internal/ids"
)

// currentRegistrationVersion is the version written by Marshal. Readers must accept versions back
// to minRegistrationVersion; writers always produce currentRegistrationVersion.
const (
	minRegistrationVersion     = 2
	currentRegistrationVersion = 4
)

// wireDescendant is the on-wire shape of one ObjectTreeConfig descendants entry.
type wireDescendant struct {
	Child    string `msgpack:"child"`
	Snapshot string `msgpack:"snapshot,omitempty"`
}

// wireRegistration is the versioned on-wire shape of an ObjectRegistration. Field order matches
// the documented layout: namespace, object_id, node_id, tree_config, owner_tag, foc_config_mode.
type wireRegistration struct {
	Version       int              `msgpack:"version"`
	Namespace     string           `msgpack:"namespace"`
	ObjectId      string           `msgpack:"object_id"`
	NodeId        string           `msgpack:"node_id"`
	ObjectType    int              `msgpack:"object_type"`
	ParentVolume  string           `msgpack:"parent_volume,omitempty"`
	HasParent     bool             `msgpack:"has_parent"`
	Descendants   []wireDescendant `msgpack:"descendants"`
	OwnerTag      uint64           `msgpack:"owner_tag,omitempty"`
	FocConfigMode int              `msgpack:"foc_config_mode,omitempty"`
}

// Marshal serializes a registration using the current wire version.
func Marshal(reg ObjectRegistration) ([]byte, error) {
	w := wireRegistration{
		Version:       currentRegistrationVersion,
		Namespace:     string(reg.Namespace),
		ObjectId:      string(reg.ObjectId),
		NodeId:        string(reg.NodeId),
		ObjectType:    int(reg.TreeConfig.ObjectType),
		HasParent:     reg.TreeConfig.HasParentVolume,
		OwnerTag:      uint64(reg.OwnerTag),
		FocConfigMode: int(reg.FocConfigMode),
	}
	if reg.TreeConfig.HasParentVolume {
		w.ParentVolume = string(reg.TreeConfig.ParentVolume)
	}
	for child, snapshot := range reg.TreeConfig.Descendants {
		w.Descendants = append(w.Descendants, wireDescendant{
			Child:    string(child),
			Snapshot: string(snapshot),
		})
	}
	// Keep the encoding deterministic: the registry compares serialized registrations byte-wise
	// when asserting a compare-and-swap, so equal registrations must marshal to equal bytes.
	sort.Slice(w.Descendants, func(i, j int) bool {
		return w.Descendants[i].Child < w.Descendants[j].Child
	})
	return msgpack.Marshal(&w)
}

// Unmarshal parses a registration written by any supported version. Fields absent in older
// versions default per the documented rules: owner_tag=0 ("upgrade me"), foc_config_mode=Automatic.
func Unmarshal(data []byte) (ObjectRegistration, error) {
	var w wireRegistration
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return ObjectRegistration{}, fmt.Errorf("decoding registration: %w", err)
	}
	if w.Version < minRegistrationVersion || w.Version > currentRegistrationVersion {
		return ObjectRegistration{}, fmt.Errorf("unsupported registration version %d", w.Version)
	}

	tree := ObjectTreeConfig{
		ObjectType:  ObjectType(w.ObjectType),
		Descendants: map[ids.ObjectId]ids.SnapshotName{},
	}
	if w.HasParent {
		tree.ParentVolume = ids.ObjectId(w.ParentVolume)
		tree.HasParentVolume = true
	}
	for _, d := range w.Descendants {
		tree.Descendants[ids.ObjectId(d.Child)] = ids.SnapshotName(d.Snapshot)
	}

	return ObjectRegistration{
		ObjectId:      ids.ObjectId(w.ObjectId),
		NodeId:        ids.NodeId(w.NodeId),
		Namespace:     ids.Namespace(w.Namespace),
		TreeConfig:    tree,
		OwnerTag:      ids.OwnerTag(w.OwnerTag),
		FocConfigMode: FocConfigMode(w.FocConfigMode),
	}, nil
}
