/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

package kvcoord

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	. "github.com/onsi/ginkgo/v2/dsl/core"
	. "github.com/onsi/gomega"

	"github.com/openshift-kni/vdisk-registry/internal/typederrors"
)

var _ = Describe("Memory coordinator", func() {
	var (
		ctx context.Context
		kv  *Memory
	)

	BeforeEach(func() {
		ctx = context.Background()
		kv = NewMemory()
	})

	It("Reports absence and presence", func() {
		ok, err := kv.Exists(ctx, "a")
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeFalse())

		Expect(kv.RunSequence(ctx, "set a", false, func(seq *Sequence) error {
			seq.Assert("a", nil)
			seq.Set("a", []byte("1"))
			return nil
		})).To(Succeed())

		ok, err = kv.Exists(ctx, "a")
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("Returns NotFoundError for a missing key", func() {
		_, err := kv.Get(ctx, "missing")
		Expect(typederrors.IsNotFoundError(err)).To(BeTrue())
	})

	It("Lists by prefix in key order", func() {
		Expect(kv.RunSequence(ctx, "seed", false, func(seq *Sequence) error {
			seq.Set("ns/b", []byte("2"))
			seq.Set("ns/a", []byte("1"))
			seq.Set("other/c", []byte("3"))
			return nil
		})).To(Succeed())

		entries, err := kv.Prefix(ctx, "ns/", 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(entries).To(HaveLen(2))
		Expect(entries[0].Key).To(Equal("ns/a"))
		Expect(entries[1].Key).To(Equal("ns/b"))
	})

	It("Deletes everything under a prefix", func() {
		Expect(kv.RunSequence(ctx, "seed", false, func(seq *Sequence) error {
			seq.Set("ns/a", []byte("1"))
			seq.Set("ns/b", []byte("2"))
			seq.Set("other/c", []byte("3"))
			return nil
		})).To(Succeed())

		Expect(kv.DeletePrefix(ctx, "ns/")).To(Succeed())

		entries, err := kv.Prefix(ctx, "", 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Key).To(Equal("other/c"))
	})

	It("Fails a sequence whose assert no longer holds, without retry", func() {
		Expect(kv.RunSequence(ctx, "set a", false, func(seq *Sequence) error {
			seq.Assert("a", nil)
			seq.Set("a", []byte("1"))
			return nil
		})).To(Succeed())

		err := kv.RunSequence(ctx, "stale update", false, func(seq *Sequence) error {
			seq.Assert("a", []byte("0"))
			seq.Set("a", []byte("2"))
			return nil
		})
		Expect(typederrors.IsConflictingUpdateError(err)).To(BeTrue())

		value, err := kv.Get(ctx, "a")
		Expect(err).ToNot(HaveOccurred())
		Expect(value).To(Equal([]byte("1")))
	})

	It("Converges a read-modify-write counter under concurrent writers when retrying on assert", func() {
		const writers = 50

		var wg sync.WaitGroup
		wg.Add(writers)
		for i := 0; i < writers; i++ {
			go func() {
				defer wg.Done()
				err := kv.RunSequence(ctx, "increment", true, func(seq *Sequence) error {
					current, err := kv.Get(ctx, "counter")
					var value int
					if err != nil {
						if !typederrors.IsNotFoundError(err) {
							return err
						}
						seq.Assert("counter", nil)
					} else {
						value, err = strconv.Atoi(string(current))
						if err != nil {
							return err
						}
						seq.Assert("counter", current)
					}
					seq.Set("counter", []byte(strconv.Itoa(value+1)))
					return nil
				})
				Expect(err).ToNot(HaveOccurred())
			}()
		}
		wg.Wait()

		final, err := kv.Get(ctx, "counter")
		Expect(err).ToNot(HaveOccurred())
		Expect(string(final)).To(Equal(fmt.Sprintf("%d", writers)))
	})
})
