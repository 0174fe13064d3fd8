/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

package cachedregistry

import (
	"context"

	. "github.com/onsi/ginkgo/v2/dsl/core"
	. "github.com/onsi/gomega"

	"github.com/openshift-kni/vdisk-registry/internal/ids"
	"github.com/openshift-kni/vdisk-registry/internal/kvcoord"
	"github.com/openshift-kni/vdisk-registry/internal/registry"
	"github.com/openshift-kni/vdisk-registry/internal/typederrors"
)

var _ = Describe("Cached Object Registry", func() {
	var (
		ctx      context.Context
		reg      *registry.Registry
		cache    *Cache
		nodeA    ids.NodeId
		nodeB    ids.NodeId
		objectId ids.ObjectId
	)

	BeforeEach(func() {
		ctx = context.Background()
		reg = registry.New(kvcoord.NewMemory(), ids.ClusterId("cluster-1"))
		cache = New(reg, ids.NodeId("local"), 8)
		nodeA = ids.NodeId("node-a")
		nodeB = ids.NodeId("node-b")
		objectId = ids.ObjectId("vol-1")
	})

	It("Populates the cache on a cold Find and serves a hit afterwards", func() {
		Expect(reg.RegisterBaseVolume(ctx, objectId, nodeA, ids.Namespace("ns"))).To(Succeed())

		found, err := cache.Find(ctx, objectId, false)
		Expect(err).ToNot(HaveOccurred())
		Expect(found.NodeId).To(Equal(nodeA))

		// A direct out-of-band change to the registry is invisible on a cache hit...
		Expect(reg.Migrate(ctx, objectId, nodeA, nodeB)).To(Succeed())
		stale, err := cache.Find(ctx, objectId, false)
		Expect(err).ToNot(HaveOccurred())
		Expect(stale.NodeId).To(Equal(nodeA))

		// ...but ignoreCache forces a fresh read and refreshes the entry.
		fresh, err := cache.Find(ctx, objectId, true)
		Expect(err).ToNot(HaveOccurred())
		Expect(fresh.NodeId).To(Equal(nodeB))

		again, err := cache.Find(ctx, objectId, false)
		Expect(err).ToNot(HaveOccurred())
		Expect(again.NodeId).To(Equal(nodeB))
	})

	It("Write-through RegisterBaseVolume populates the cache without a subsequent read", func() {
		Expect(cache.RegisterBaseVolume(ctx, objectId, nodeA, ids.Namespace("ns"))).To(Succeed())

		found, err := cache.Find(ctx, objectId, false)
		Expect(err).ToNot(HaveOccurred())
		Expect(found.NodeId).To(Equal(nodeA))

		// it really did write through: a second registry reader sees it too.
		direct, err := reg.Find(ctx, objectId, nodeA)
		Expect(err).ToNot(HaveOccurred())
		Expect(direct.NodeId).To(Equal(nodeA))
	})

	It("Migrate updates the owner tag and cached NodeId", func() {
		Expect(cache.RegisterBaseVolume(ctx, objectId, nodeA, ids.Namespace("ns"))).To(Succeed())
		before, err := cache.Find(ctx, objectId, false)
		Expect(err).ToNot(HaveOccurred())

		Expect(cache.Migrate(ctx, objectId, nodeA, nodeB)).To(Succeed())

		after, err := cache.Find(ctx, objectId, false)
		Expect(err).ToNot(HaveOccurred())
		Expect(after.NodeId).To(Equal(nodeB))
		Expect(after.OwnerTag).To(BeNumerically(">", before.OwnerTag))
	})

	It("Evicts the stale entry and re-raises on a write-through failure with ObjectNotRegistered", func() {
		Expect(cache.RegisterBaseVolume(ctx, objectId, nodeA, ids.Namespace("ns"))).To(Succeed())
		_, err := cache.Find(ctx, objectId, false)
		Expect(err).ToNot(HaveOccurred())

		// unregister out from under the cache directly via the registry
		Expect(reg.Unregister(ctx, objectId, nodeA)).To(Succeed())

		err = cache.Migrate(ctx, objectId, nodeA, nodeB)
		Expect(typederrors.IsNotRegisteredError(err)).To(BeTrue())

		// the stale entry must be evicted: the next Find is a genuine cold miss
		_, err = cache.Find(ctx, objectId, false)
		Expect(typederrors.IsNotRegisteredError(err)).To(BeTrue())
	})

	It("Unregister drops both the object's entry and, if present, its parent's entry", func() {
		Expect(cache.RegisterBaseVolume(ctx, ids.ObjectId("parent"), nodeA, ids.Namespace("ns"))).To(Succeed())
		Expect(cache.RegisterClone(ctx, objectId, nodeA, ids.Namespace("ns"), ids.ObjectId("parent"), ids.SnapshotName("snap"))).To(Succeed())

		_, err := cache.Find(ctx, ids.ObjectId("parent"), false)
		Expect(err).ToNot(HaveOccurred())

		Expect(cache.Unregister(ctx, objectId, nodeA)).To(Succeed())

		_, err = cache.Find(ctx, objectId, false)
		Expect(typederrors.IsNotRegisteredError(err)).To(BeTrue())

		// the parent entry was dropped too, so this Find is forced to go read-through
		parent, err := cache.Find(ctx, ids.ObjectId("parent"), false)
		Expect(err).ToNot(HaveOccurred())
		Expect(parent.TreeConfig.IsLeaf()).To(BeTrue())
	})

	It("DropCache clears every entry and DropEntryFromCache clears only one", func() {
		Expect(cache.RegisterBaseVolume(ctx, objectId, nodeA, ids.Namespace("ns"))).To(Succeed())
		Expect(cache.RegisterBaseVolume(ctx, ids.ObjectId("vol-2"), nodeA, ids.Namespace("ns"))).To(Succeed())

		cache.DropEntryFromCache(objectId)
		Expect(cache.entries).ToNot(HaveKey(objectId))
		Expect(cache.entries).To(HaveKey(ids.ObjectId("vol-2")))

		cache.DropCache()
		Expect(cache.entries).To(BeEmpty())
	})

	It("Evicts the least recently used entry once capacity is exceeded", func() {
		small := New(reg, ids.NodeId("local"), 2)
		for _, id := range []ids.ObjectId{"a", "b", "c"} {
			Expect(small.RegisterBaseVolume(ctx, id, nodeA, ids.Namespace("ns"))).To(Succeed())
		}
		Expect(small.entries).To(HaveLen(2))
		Expect(small.entries).ToNot(HaveKey(ids.ObjectId("a")))
	})
})
