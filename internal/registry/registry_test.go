/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

package registry

import (
	"context"

	. "github.com/onsi/ginkgo/v2/dsl/core"
	. "github.com/onsi/gomega"

	"github.com/openshift-kni/vdisk-registry/internal/ids"
	"github.com/openshift-kni/vdisk-registry/internal/kvcoord"
	"github.com/openshift-kni/vdisk-registry/internal/objecttree"
	"github.com/openshift-kni/vdisk-registry/internal/typederrors"
)

var _ = Describe("Object Registry", func() {
	var (
		ctx       context.Context
		reg       *Registry
		nodeA     ids.NodeId
		nodeB     ids.NodeId
		clusterId ids.ClusterId
	)

	BeforeEach(func() {
		ctx = context.Background()
		clusterId = ids.ClusterId("cluster-1")
		reg = New(kvcoord.NewMemory(), clusterId)
		nodeA = ids.NodeId("node-a")
		nodeB = ids.NodeId("node-b")
	})

	It("round-trips register/unregister back to the not-registered state", func() {
		id := ids.ObjectId("vol-1")
		_, err := reg.Find(ctx, id, nodeA)
		Expect(typederrors.IsNotRegisteredError(err)).To(BeTrue())

		Expect(reg.RegisterBaseVolume(ctx, id, nodeA, ids.Namespace("ns"))).To(Succeed())
		found, err := reg.Find(ctx, id, nodeA)
		Expect(err).ToNot(HaveOccurred())
		Expect(found.NodeId).To(Equal(nodeA))
		Expect(found.TreeConfig.ObjectType).To(Equal(objecttree.Volume))
		Expect(found.TreeConfig.IsLeaf()).To(BeTrue())

		Expect(reg.Unregister(ctx, id, nodeA)).To(Succeed())
		_, err = reg.Find(ctx, id, nodeA)
		Expect(typederrors.IsNotRegisteredError(err)).To(BeTrue())
	})

	It("refuses to register the same id twice", func() {
		id := ids.ObjectId("vol-1")
		Expect(reg.RegisterBaseVolume(ctx, id, nodeA, ids.Namespace("ns"))).To(Succeed())
		err := reg.RegisterBaseVolume(ctx, id, nodeB, ids.Namespace("ns"))
		Expect(typederrors.IsAlreadyRegisteredError(err)).To(BeTrue())
	})

	It("Migrate reassigns ownership and strictly increases the owner tag", func() {
		id := ids.ObjectId("vol-1")
		Expect(reg.RegisterBaseVolume(ctx, id, nodeA, ids.Namespace("ns"))).To(Succeed())
		before, err := reg.Find(ctx, id, nodeA)
		Expect(err).ToNot(HaveOccurred())

		Expect(reg.Migrate(ctx, id, nodeA, nodeB)).To(Succeed())

		after, err := reg.Find(ctx, id, nodeB)
		Expect(err).ToNot(HaveOccurred())
		Expect(after.NodeId).To(Equal(nodeB))
		Expect(after.OwnerTag).To(BeNumerically(">", before.OwnerTag))
	})

	It("Migrate fails with WrongOwnerError if `from` does not currently own the object", func() {
		id := ids.ObjectId("vol-1")
		Expect(reg.RegisterBaseVolume(ctx, id, nodeA, ids.Namespace("ns"))).To(Succeed())
		err := reg.Migrate(ctx, id, nodeB, nodeA)
		Expect(typederrors.IsWrongOwnerError(err)).To(BeTrue())
	})

	It("validates the clone parent's type and snapshot requirement", func() {
		file := ids.ObjectId("file-1")
		Expect(reg.RegisterFile(ctx, file, nodeA, ids.Namespace("ns"))).To(Succeed())
		err := reg.RegisterClone(ctx, ids.ObjectId("clone-1"), nodeA, ids.Namespace("ns"), file, "snap")
		Expect(typederrors.IsInvalidOperationError(err)).To(BeTrue())

		volume := ids.ObjectId("vol-1")
		Expect(reg.RegisterBaseVolume(ctx, volume, nodeA, ids.Namespace("ns"))).To(Succeed())
		err = reg.RegisterClone(ctx, ids.ObjectId("clone-2"), nodeA, ids.Namespace("ns"), volume, "")
		Expect(typederrors.IsInvalidOperationError(err)).To(BeTrue())

		Expect(reg.SetAsTemplate(ctx, volume, nodeA)).To(Succeed())
		err = reg.RegisterClone(ctx, ids.ObjectId("clone-3"), nodeA, ids.Namespace("ns"), volume, "snap")
		Expect(typederrors.IsInvalidOperationError(err)).To(BeTrue())

		Expect(reg.RegisterClone(ctx, ids.ObjectId("clone-4"), nodeA, ids.Namespace("ns"), volume, "")).To(Succeed())
	})

	It("registers a clone and records it on the parent's descendants", func() {
		parent := ids.ObjectId("vol-1")
		clone := ids.ObjectId("clone-1")
		Expect(reg.RegisterBaseVolume(ctx, parent, nodeA, ids.Namespace("ns"))).To(Succeed())
		Expect(reg.RegisterClone(ctx, clone, nodeA, ids.Namespace("ns"), parent, "snap")).To(Succeed())

		parentReg, err := reg.Find(ctx, parent, nodeA)
		Expect(err).ToNot(HaveOccurred())
		Expect(parentReg.TreeConfig.IsLeaf()).To(BeFalse())
		Expect(parentReg.TreeConfig.Descendants).To(HaveKeyWithValue(clone, ids.SnapshotName("snap")))

		cloneReg, err := reg.Find(ctx, clone, nodeA)
		Expect(err).ToNot(HaveOccurred())
		Expect(cloneReg.TreeConfig.HasParentVolume).To(BeTrue())
		Expect(cloneReg.TreeConfig.ParentVolume).To(Equal(parent))
	})

	It("Unregister fails while the object still has descendants", func() {
		parent := ids.ObjectId("vol-1")
		clone := ids.ObjectId("clone-1")
		Expect(reg.RegisterBaseVolume(ctx, parent, nodeA, ids.Namespace("ns"))).To(Succeed())
		Expect(reg.RegisterClone(ctx, clone, nodeA, ids.Namespace("ns"), parent, "snap")).To(Succeed())

		err := reg.Unregister(ctx, parent, nodeA)
		Expect(typederrors.IsInvalidOperationError(err)).To(BeTrue())
	})

	It("Unregister removes the clone from the parent's descendants", func() {
		parent := ids.ObjectId("vol-1")
		clone := ids.ObjectId("clone-1")
		Expect(reg.RegisterBaseVolume(ctx, parent, nodeA, ids.Namespace("ns"))).To(Succeed())
		Expect(reg.RegisterClone(ctx, clone, nodeA, ids.Namespace("ns"), parent, "snap")).To(Succeed())

		Expect(reg.Unregister(ctx, clone, nodeA)).To(Succeed())

		parentReg, err := reg.Find(ctx, parent, nodeA)
		Expect(err).ToNot(HaveOccurred())
		Expect(parentReg.TreeConfig.IsLeaf()).To(BeTrue())
	})

	It("Unregister fails with WrongOwnerError for a non-owning caller", func() {
		id := ids.ObjectId("vol-1")
		Expect(reg.RegisterBaseVolume(ctx, id, nodeA, ids.Namespace("ns"))).To(Succeed())
		err := reg.Unregister(ctx, id, nodeB)
		Expect(typederrors.IsWrongOwnerError(err)).To(BeTrue())
	})

	It("SetAsTemplate requires a Template parent for a clone", func() {
		parent := ids.ObjectId("vol-1")
		clone := ids.ObjectId("clone-1")
		Expect(reg.RegisterBaseVolume(ctx, parent, nodeA, ids.Namespace("ns"))).To(Succeed())
		Expect(reg.RegisterClone(ctx, clone, nodeA, ids.Namespace("ns"), parent, "snap")).To(Succeed())

		err := reg.SetAsTemplate(ctx, clone, nodeA)
		Expect(typederrors.IsInvalidOperationError(err)).To(BeTrue())

		Expect(reg.SetAsTemplate(ctx, parent, nodeA)).To(Succeed())
	})

	It("SetFocConfigMode changes only the config mode field", func() {
		id := ids.ObjectId("vol-1")
		Expect(reg.RegisterBaseVolume(ctx, id, nodeA, ids.Namespace("ns"))).To(Succeed())
		before, err := reg.Find(ctx, id, nodeA)
		Expect(err).ToNot(HaveOccurred())

		Expect(reg.SetFocConfigMode(ctx, id, nodeA, objecttree.Manual)).To(Succeed())

		after, err := reg.Find(ctx, id, nodeA)
		Expect(err).ToNot(HaveOccurred())
		Expect(after.FocConfigMode).To(Equal(objecttree.Manual))
		Expect(after.NodeId).To(Equal(before.NodeId))
		Expect(after.OwnerTag).To(Equal(before.OwnerTag))
	})

	It("ConvertBaseToClone rewrites a root registration in place as a clone", func() {
		parent := ids.ObjectId("vol-1")
		id := ids.ObjectId("vol-2")
		Expect(reg.RegisterBaseVolume(ctx, parent, nodeA, ids.Namespace("ns"))).To(Succeed())
		Expect(reg.RegisterBaseVolume(ctx, id, nodeA, ids.Namespace("ns"))).To(Succeed())

		Expect(reg.ConvertBaseToClone(ctx, id, nodeA, ids.Namespace("ns"), parent, "snap")).To(Succeed())

		converted, err := reg.Find(ctx, id, nodeA)
		Expect(err).ToNot(HaveOccurred())
		Expect(converted.TreeConfig.HasParentVolume).To(BeTrue())
		Expect(converted.TreeConfig.ParentVolume).To(Equal(parent))
	})

	It("List returns every registered object", func() {
		Expect(reg.RegisterBaseVolume(ctx, ids.ObjectId("vol-1"), nodeA, ids.Namespace("ns"))).To(Succeed())
		Expect(reg.RegisterBaseVolume(ctx, ids.ObjectId("vol-2"), nodeA, ids.Namespace("ns"))).To(Succeed())

		all, err := reg.List(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(all).To(HaveLen(2))
	})

	It("WipeOut best-effort purges a registration without touching parent linkage", func() {
		id := ids.ObjectId("vol-1")
		Expect(reg.RegisterBaseVolume(ctx, id, nodeA, ids.Namespace("ns"))).To(Succeed())
		Expect(reg.WipeOut(ctx, id)).To(Succeed())

		_, err := reg.Find(ctx, id, nodeA)
		Expect(typederrors.IsNotRegisteredError(err)).To(BeTrue())
	})

	It("serializes concurrent clone registrations against the same parent", func() {
		parent := ids.ObjectId("vol-1")
		Expect(reg.RegisterBaseVolume(ctx, parent, nodeA, ids.Namespace("ns"))).To(Succeed())

		const n = 8
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			i := i
			go func() {
				errs <- reg.RegisterClone(ctx, ids.ObjectId(ids.ObjectId(string(rune('a'+i)))), nodeA, ids.Namespace("ns"), parent, "snap")
			}()
		}
		for i := 0; i < n; i++ {
			Expect(<-errs).ToNot(HaveOccurred())
		}

		parentReg, err := reg.Find(ctx, parent, nodeA)
		Expect(err).ToNot(HaveOccurred())
		Expect(parentReg.TreeConfig.Descendants).To(HaveLen(n))
	})
})
