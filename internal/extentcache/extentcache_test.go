/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

package extentcache

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2/dsl/core"
	. "github.com/onsi/gomega"

	"github.com/openshift-kni/vdisk-registry/internal/extent"
	"github.com/openshift-kni/vdisk-registry/internal/ids"
)

var _ = Describe("Cache", func() {
	It("Rejects a non-positive capacity", func() {
		_, err := New(GinkgoT().TempDir(), 0)
		Expect(err).To(HaveOccurred())
	})

	It("Pulls an extent once and caches the result", func() {
		c, err := New(GinkgoT().TempDir(), 4)
		Expect(err).ToNot(HaveOccurred())

		id := extent.Id{ContainerId: ids.ContainerId("c1"), OffsetIndex: 0}
		var calls int32
		pull := func(ctx context.Context, id extent.Id, path string) (bool, error) {
			atomic.AddInt32(&calls, 1)
			return true, os.WriteFile(path, []byte("data"), 0644)
		}

		e1, present, err := c.Find(context.Background(), id, pull)
		Expect(err).ToNot(HaveOccurred())
		Expect(present).To(BeTrue())

		e2, present, err := c.Find(context.Background(), id, pull)
		Expect(err).ToNot(HaveOccurred())
		Expect(present).To(BeTrue())
		Expect(e2.Path).To(Equal(e1.Path))
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
	})

	It("Guarantees at most one concurrent pull per key", func() {
		c, err := New(GinkgoT().TempDir(), 4)
		Expect(err).ToNot(HaveOccurred())

		id := extent.Id{ContainerId: ids.ContainerId("c1"), OffsetIndex: 0}
		var calls int32
		release := make(chan struct{})
		pull := func(ctx context.Context, id extent.Id, path string) (bool, error) {
			atomic.AddInt32(&calls, 1)
			<-release
			return true, os.WriteFile(path, []byte("data"), 0644)
		}

		const concurrency = 10
		var wg sync.WaitGroup
		wg.Add(concurrency)
		for i := 0; i < concurrency; i++ {
			go func() {
				defer wg.Done()
				_, _, err := c.Find(context.Background(), id, pull)
				Expect(err).ToNot(HaveOccurred())
			}()
		}

		close(release)
		wg.Wait()
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
	})

	It("Reports absence without caching a pull that finds nothing", func() {
		c, err := New(GinkgoT().TempDir(), 4)
		Expect(err).ToNot(HaveOccurred())

		id := extent.Id{ContainerId: ids.ContainerId("c1"), OffsetIndex: 0}
		_, present, err := c.Find(context.Background(), id, func(ctx context.Context, id extent.Id, path string) (bool, error) {
			return false, nil
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(present).To(BeFalse())
	})

	It("Evicts the least recently used entry and deletes its file", func() {
		c, err := New(GinkgoT().TempDir(), 2)
		Expect(err).ToNot(HaveOccurred())

		mk := func(i uint32) extent.Id {
			return extent.Id{ContainerId: ids.ContainerId("c1"), OffsetIndex: i}
		}
		pull := func(ctx context.Context, id extent.Id, path string) (bool, error) {
			return true, os.WriteFile(path, []byte("data"), 0644)
		}

		e0, _, err := c.Find(context.Background(), mk(0), pull)
		Expect(err).ToNot(HaveOccurred())
		_, _, err = c.Find(context.Background(), mk(1), pull)
		Expect(err).ToNot(HaveOccurred())
		_, _, err = c.Find(context.Background(), mk(2), pull)
		Expect(err).ToNot(HaveOccurred())

		_, err = os.Stat(e0.Path)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("Erase removes the mapping and the backing file", func() {
		c, err := New(GinkgoT().TempDir(), 4)
		Expect(err).ToNot(HaveOccurred())

		id := extent.Id{ContainerId: ids.ContainerId("c1"), OffsetIndex: 0}
		e, _, err := c.Find(context.Background(), id, func(ctx context.Context, id extent.Id, path string) (bool, error) {
			return true, os.WriteFile(path, []byte("data"), 0644)
		})
		Expect(err).ToNot(HaveOccurred())

		Expect(c.Erase(id)).To(Succeed())
		_, err = os.Stat(e.Path)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("Shrinking capacity evicts immediately", func() {
		c, err := New(GinkgoT().TempDir(), 4)
		Expect(err).ToNot(HaveOccurred())

		pull := func(ctx context.Context, id extent.Id, path string) (bool, error) {
			return true, os.WriteFile(path, []byte("data"), 0644)
		}
		mk := func(i uint32) extent.Id {
			return extent.Id{ContainerId: ids.ContainerId("c1"), OffsetIndex: i}
		}
		for i := uint32(0); i < 3; i++ {
			_, _, err := c.Find(context.Background(), mk(i), pull)
			Expect(err).ToNot(HaveOccurred())
		}

		Expect(c.SetCapacity(1)).To(Succeed())
		Expect(c.order.Len()).To(Equal(1))
	})
})
