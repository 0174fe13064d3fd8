/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

package container

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2/dsl/core"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/openshift-kni/vdisk-registry/internal/backend"
	"github.com/openshift-kni/vdisk-registry/internal/extent"
	"github.com/openshift-kni/vdisk-registry/internal/extentcache"
	"github.com/openshift-kni/vdisk-registry/internal/ids"
)

func newTestContainer() *Container {
	cache, err := extentcache.New(GinkgoT().TempDir(), 16)
	Expect(err).ToNot(HaveOccurred())
	be := backend.NewMemory()
	return New(ids.ContainerId("c1"), ids.Namespace("ns1"), be, cache)
}

var _ = Describe("Container", func() {
	ctx := context.Background()

	It("reads zero from a fresh container", func() {
		c := newTestContainer()
		buf := make([]byte, 4096)
		n, err := c.Read(ctx, 0, buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(0))
		for _, b := range buf {
			Expect(b).To(Equal(byte(0)))
		}
	})

	It("touches extents 0, 1, and 2 on a 3 MiB write", func() {
		c := newTestContainer()
		data := make([]byte, 3*extent.Capacity)
		for i := range data {
			data[i] = byte(i)
		}

		Expect(c.Write(ctx, 0, data)).To(Succeed())
		Expect(c.Size()).To(Equal(uint64(3 * extent.Capacity)))
		Expect(c.present).To(Equal([]bool{true, true, true}))

		out := make([]byte, len(data))
		n, err := c.Read(ctx, 0, out)
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(len(data)))
		Expect(out).To(Equal(data))
	})

	It("shrinks to 1536 KiB leaving extents 0 and 1, truncating extent 1 to 512 KiB", func() {
		c := newTestContainer()
		data := make([]byte, 3*extent.Capacity)
		Expect(c.Write(ctx, 0, data)).To(Succeed())

		newSize := uint64(1536 * 1024)
		Expect(c.Resize(ctx, newSize)).To(Succeed())

		Expect(c.Size()).To(Equal(newSize))
		Expect(c.present).To(Equal([]bool{true, true}))

		names, err := c.backend.ListObjects(ctx, c.namespace)
		Expect(err).ToNot(HaveOccurred())
		Expect(names).To(HaveLen(2))

		size, err := c.backend.GetSize(ctx, c.namespace, c.extentId(1).String())
		Expect(err).ToNot(HaveOccurred())
		Expect(size).To(Equal(uint64(512 * 1024)))
	})

	It("resizing to zero drops every extent", func() {
		c := newTestContainer()
		data := make([]byte, extent.Capacity+10)
		Expect(c.Write(ctx, 0, data)).To(Succeed())

		Expect(c.Resize(ctx, 0)).To(Succeed())
		Expect(c.Size()).To(Equal(uint64(0)))
		Expect(c.present).To(BeEmpty())

		names, err := c.backend.ListObjects(ctx, c.namespace)
		Expect(err).ToNot(HaveOccurred())
		Expect(names).To(BeEmpty())
	})

	It("resizing to an exact capacity boundary does not truncate the boundary extent", func() {
		c := newTestContainer()
		data := make([]byte, 2*extent.Capacity)
		Expect(c.Write(ctx, 0, data)).To(Succeed())

		Expect(c.Resize(ctx, extent.Capacity)).To(Succeed())
		Expect(c.present).To(Equal([]bool{true}))

		size, err := c.backend.GetSize(ctx, c.namespace, c.extentId(0).String())
		Expect(err).ToNot(HaveOccurred())
		Expect(size).To(Equal(uint64(extent.Capacity)))
	})

	It("growing only advances the logical size without touching extents", func() {
		c := newTestContainer()
		Expect(c.Write(ctx, 0, []byte("hi"))).To(Succeed())

		Expect(c.Resize(ctx, uint64(extent.Capacity)*2)).To(Succeed())
		Expect(c.Size()).To(Equal(uint64(extent.Capacity) * 2))
		Expect(c.present).To(Equal([]bool{true}))

		buf := make([]byte, 4)
		n, err := c.Read(ctx, uint64(extent.Capacity)+10, buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(4))
		Expect(buf).To(Equal([]byte{0, 0, 0, 0}))
	})

	It("never reads past Size() even when the buffer is larger", func() {
		c := newTestContainer()
		Expect(c.Write(ctx, 0, []byte("hello"))).To(Succeed())

		buf := make([]byte, 4096)
		n, err := c.Read(ctx, 0, buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(5))
		Expect(buf[:5]).To(Equal([]byte("hello")))
	})

	It("Unlink removes every extent from both cache and backend", func() {
		c := newTestContainer()
		data := make([]byte, 2*extent.Capacity)
		Expect(c.Write(ctx, 0, data)).To(Succeed())

		errs := c.Unlink(ctx)
		Expect(errs).To(BeEmpty())

		names, err := c.backend.ListObjects(ctx, c.namespace)
		Expect(err).ToNot(HaveOccurred())
		Expect(names).To(BeEmpty())
		Expect(c.Size()).To(Equal(uint64(0)))
	})

	It("DropFromCache leaves the backend untouched", func() {
		c := newTestContainer()
		data := make([]byte, extent.Capacity)
		Expect(c.Write(ctx, 0, data)).To(Succeed())

		errs := c.DropFromCache(ctx)
		Expect(errs).To(BeEmpty())

		names, err := c.backend.ListObjects(ctx, c.namespace)
		Expect(err).ToNot(HaveOccurred())
		Expect(names).To(HaveLen(1))
	})

	It("drops a newly created extent when its first flush fails, keeping it absent", func() {
		ctrl := gomock.NewController(GinkgoT())
		be := backend.NewMockBackend(ctrl)
		cache, err := extentcache.New(GinkgoT().TempDir(), 16)
		Expect(err).ToNot(HaveOccurred())
		c := New(ids.ContainerId("c1"), ids.Namespace("ns1"), be, cache)

		gomock.InOrder(
			be.EXPECT().Write(gomock.Any(), ids.Namespace("ns1"), c.extentId(0).String(), gomock.Any(), true).
				Return(errors.New("backend down")),
			be.EXPECT().Write(gomock.Any(), ids.Namespace("ns1"), c.extentId(0).String(), gomock.Any(), true).
				Return(nil),
		)

		Expect(c.Write(ctx, 0, []byte("hello"))).ToNot(Succeed())
		Expect(c.present).To(BeEmpty())
		Expect(c.Size()).To(Equal(uint64(0)))

		// once the backend recovers, the same write goes through cleanly
		Expect(c.Write(ctx, 0, []byte("hello"))).To(Succeed())
		Expect(c.present).To(Equal([]bool{true}))
		Expect(c.Size()).To(Equal(uint64(5)))
	})

	It("keeps an existing extent present when a later flush fails", func() {
		ctrl := gomock.NewController(GinkgoT())
		be := backend.NewMockBackend(ctrl)
		cache, err := extentcache.New(GinkgoT().TempDir(), 16)
		Expect(err).ToNot(HaveOccurred())
		c := New(ids.ContainerId("c1"), ids.Namespace("ns1"), be, cache)

		gomock.InOrder(
			be.EXPECT().Write(gomock.Any(), ids.Namespace("ns1"), c.extentId(0).String(), gomock.Any(), true).
				Return(nil),
			be.EXPECT().Write(gomock.Any(), ids.Namespace("ns1"), c.extentId(0).String(), gomock.Any(), true).
				Return(errors.New("backend down")),
		)

		Expect(c.Write(ctx, 0, []byte("hello"))).To(Succeed())
		Expect(c.Write(ctx, 0, []byte("world"))).ToNot(Succeed())

		// the extent stays present and locally readable despite the failed flush
		Expect(c.present).To(Equal([]bool{true}))
		buf := make([]byte, 5)
		n, err := c.Read(ctx, 0, buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(5))
		Expect(buf).To(Equal([]byte("world")))
	})

	It("Restart resyncs presence and size from the backend", func() {
		c := newTestContainer()
		data := make([]byte, 2*extent.Capacity+100)
		Expect(c.Write(ctx, 0, data)).To(Succeed())

		fresh := New(ids.ContainerId("c1"), ids.Namespace("ns1"), c.backend, c.cache)
		Expect(fresh.Restart(ctx)).To(Succeed())

		Expect(fresh.Size()).To(Equal(uint64(2*extent.Capacity + 100)))
		Expect(fresh.present).To(Equal([]bool{true, true, true}))
	})

	It("Restart on an empty backend yields an empty container", func() {
		c := newTestContainer()
		Expect(c.Restart(ctx)).To(Succeed())
		Expect(c.Size()).To(Equal(uint64(0)))
		Expect(c.present).To(BeEmpty())
	})
})
