/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

package containermgr

import (
	"context"
	"io"
	"log/slog"

	. "github.com/onsi/ginkgo/v2/dsl/core"
	. "github.com/onsi/gomega"

	"github.com/openshift-kni/vdisk-registry/internal/backend"
	"github.com/openshift-kni/vdisk-registry/internal/extentcache"
	"github.com/openshift-kni/vdisk-registry/internal/ids"
	"github.com/openshift-kni/vdisk-registry/internal/typederrors"
)

func newTestManager() *Manager {
	cache, err := extentcache.New(GinkgoT().TempDir(), 16)
	Expect(err).ToNot(HaveOccurred())
	be := backend.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(ids.Namespace("ns1"), be, cache, logger)
}

var _ = Describe("Container Manager", func() {
	ctx := context.Background()

	It("creates a container and exposes it for read/write", func() {
		m := newTestManager()
		c, err := m.Create(ids.ContainerId("c1"))
		Expect(err).ToNot(HaveOccurred())
		Expect(c.Id()).To(Equal(ids.ContainerId("c1")))

		Expect(m.Write(ctx, ids.ContainerId("c1"), 0, []byte("hello"))).To(Succeed())
		buf := make([]byte, 5)
		n, err := m.Read(ctx, ids.ContainerId("c1"), 0, buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(5))
		Expect(buf).To(Equal([]byte("hello")))
	})

	It("rejects a duplicate create", func() {
		m := newTestManager()
		_, err := m.Create(ids.ContainerId("c1"))
		Expect(err).ToNot(HaveOccurred())

		_, err = m.Create(ids.ContainerId("c1"))
		Expect(typederrors.IsAlreadyExistsError(err)).To(BeTrue())
	})

	It("reports ObjectNotFound for an absent id", func() {
		m := newTestManager()
		_, err := m.Get(ids.ContainerId("missing"))
		Expect(typederrors.IsNotFoundError(err)).To(BeTrue())

		err = m.Resize(ctx, ids.ContainerId("missing"), 10)
		Expect(typederrors.IsNotFoundError(err)).To(BeTrue())
	})

	It("unlink removes the mapping before the backend teardown completes", func() {
		m := newTestManager()
		_, err := m.Create(ids.ContainerId("c1"))
		Expect(err).ToNot(HaveOccurred())
		Expect(m.Write(ctx, ids.ContainerId("c1"), 0, []byte("data"))).To(Succeed())

		Expect(m.Unlink(ctx, ids.ContainerId("c1"))).To(Succeed())

		_, err = m.Get(ids.ContainerId("c1"))
		Expect(typederrors.IsNotFoundError(err)).To(BeTrue())
	})

	It("restart is a no-op when the container is already live", func() {
		m := newTestManager()
		c, err := m.Create(ids.ContainerId("c1"))
		Expect(err).ToNot(HaveOccurred())
		Expect(m.Write(ctx, ids.ContainerId("c1"), 0, []byte("data"))).To(Succeed())

		Expect(m.Restart(ctx, ids.ContainerId("c1"))).To(Succeed())

		again, err := m.Get(ids.ContainerId("c1"))
		Expect(err).ToNot(HaveOccurred())
		Expect(again).To(BeIdenticalTo(c))
	})

	It("restart on an absent id publishes a resynced container", func() {
		m := newTestManager()
		c, err := m.Create(ids.ContainerId("c1"))
		Expect(err).ToNot(HaveOccurred())
		Expect(m.Write(ctx, ids.ContainerId("c1"), 0, []byte("data"))).To(Succeed())
		Expect(m.DropFromCache(ctx, ids.ContainerId("c1"))).To(Succeed())
		_ = c

		Expect(m.Restart(ctx, ids.ContainerId("c1"))).To(Succeed())

		size, err := m.Size(ids.ContainerId("c1"))
		Expect(err).ToNot(HaveOccurred())
		Expect(size).To(Equal(uint64(4)))
	})
})
