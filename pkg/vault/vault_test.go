package vault_test

import (
	"context"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/amach-health/cumdach/pkg/healthdata"
	"github.com/amach-health/cumdach/pkg/identity"
	"github.com/amach-health/cumdach/pkg/tagging"
	"github.com/amach-health/cumdach/pkg/vault"
	"github.com/amach-health/cumdach/pkg/vault/inmemory"
)

const owner = "0x00112233445566778899aabbccddeeff00112233"

func testKey(fill byte) identity.EncryptionKey {
	var material [32]byte
	for i := range material {
		material[i] = fill
	}
	return identity.NewEncryptionKey(material, identity.SourceSignature)
}

func testTag(fill byte) *tagging.Tag {
	var secret [32]byte
	for i := range secret {
		secret[i] = fill
	}
	gen, err := tagging.NewGenerator(identity.UserSecret{Owner: owner, Secret: secret})
	Expect(err).NotTo(HaveOccurred())

	tag, err := gen.Generate(healthdata.CategoryHeartRate)
	Expect(err).NotTo(HaveOccurred())

	return &tag
}

// tickingClock hands out strictly increasing timestamps so stored objects
// get distinct upload times and keys.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickingClock(start time.Time) *tickingClock {
	return &tickingClock{now: start}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

var _ = Describe("Vault", func() {
	var (
		ctx     context.Context
		backend *inmemory.Backend
		v       *vault.Vault
		key     identity.EncryptionKey
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend = inmemory.NewBackend("health-vault")
		key = testKey(0xA7)

		var err error
		v, err = vault.New(backend,
			vault.WithRetry(3, time.Millisecond),
			vault.WithClock(newTickingClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)).Now),
		)
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects a nil backend", func() {
		_, err := vault.New(nil)
		Expect(err).To(MatchError(vault.ErrInvalidArgument))
	})

	Describe("Store", func() {
		It("returns a complete reference after the backend confirms", func() {
			ref, err := v.Store(ctx, []byte("heart rate export"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
				Metadata: map[string]string{"device": "watch"},
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(ref.URI).To(HavePrefix("mem://health-vault/owners/" + owner + "/apple-health/"))
			Expect(ref.ContentHash).To(HavePrefix("sha256:"))
			Expect(ref.Size).To(BeNumerically(">", 0))
			Expect(ref.Owner).To(Equal(owner))
			Expect(ref.DataType).To(Equal(healthdata.DataTypeAppleHealth))
			Expect(ref.UploadedAt.IsZero()).To(BeFalse())
			Expect(ref.Metadata).To(HaveKeyWithValue("device", "watch"))
			Expect(backend.Len()).To(Equal(1))
		})

		It("hashes deterministically for identical payload and key", func() {
			first, err := v.Store(ctx, []byte("same bytes"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
			})
			Expect(err).NotTo(HaveOccurred())

			second, err := v.Store(ctx, []byte("same bytes"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(second.ContentHash).To(Equal(first.ContentHash))
			Expect(second.URI).NotTo(Equal(first.URI))
		})

		It("hashes differently for different payloads or keys", func() {
			base, err := v.Store(ctx, []byte("payload one"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
			})
			Expect(err).NotTo(HaveOccurred())

			otherPayload, err := v.Store(ctx, []byte("payload two"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
			})
			Expect(err).NotTo(HaveOccurred())

			otherKey, err := v.Store(ctx, []byte("payload one"), owner, testKey(0xB2), vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(otherPayload.ContentHash).NotTo(Equal(base.ContentHash))
			Expect(otherKey.ContentHash).NotTo(Equal(base.ContentHash))
		})

		DescribeTable("rejecting invalid input",
			func(payload []byte, who string, dataType healthdata.DataType) {
				_, err := v.Store(ctx, payload, who, key, vault.StoreOptions{DataType: dataType})
				Expect(err).To(MatchError(vault.ErrInvalidArgument))
			},
			Entry("empty owner", []byte("x"), "", healthdata.DataTypeAppleHealth),
			Entry("empty data type", []byte("x"), owner, healthdata.DataType("")),
			Entry("empty payload", []byte(nil), owner, healthdata.DataTypeAppleHealth),
		)

		It("rejects a zero key", func() {
			_, err := v.Store(ctx, []byte("x"), owner, identity.EncryptionKey{}, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
			})
			Expect(err).To(MatchError(vault.ErrInvalidArgument))
		})

		It("returns no reference when the backend never confirms", func() {
			backend.FailNextPuts(10)

			_, err := v.Store(ctx, []byte("x"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
			})
			Expect(err).To(MatchError(vault.ErrBackendUnavailable))
			Expect(backend.Len()).To(BeZero())
		})
	})

	Describe("Retrieve", func() {
		var ref vault.Reference

		BeforeEach(func() {
			var err error
			ref, err = v.Store(ctx, []byte("glucose readings"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("round-trips and verifies", func() {
			res, err := v.Retrieve(ctx, ref.URI, key)
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Data).To(Equal([]byte("glucose readings")))
			Expect(res.Verified).To(BeTrue())
			Expect(res.ContentHash).To(Equal(ref.ContentHash))
			Expect(res.Reference.URI).To(Equal(ref.URI))
		})

		It("verifies against a caller-supplied hash", func() {
			res, err := v.Retrieve(ctx, ref.URI, key, vault.WithExpectedHash(ref.ContentHash))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Verified).To(BeTrue())
		})

		It("detects out-of-band tampering", func() {
			_, _, tamperKey, err := vault.ParseURI(ref.URI)
			Expect(err).NotTo(HaveOccurred())

			Expect(backend.Tamper(tamperKey, func(data []byte) {
				data[len(data)-1] ^= 0xFF
			})).To(BeTrue())

			res, err := v.Retrieve(ctx, ref.URI, key, vault.WithExpectedHash(ref.ContentHash))
			Expect(err).To(MatchError(vault.ErrIntegrityMismatch))
			Expect(res.Verified).To(BeFalse())
		})

		It("detects tampering even without a caller-supplied hash", func() {
			_, _, tamperKey, err := vault.ParseURI(ref.URI)
			Expect(err).NotTo(HaveOccurred())

			backend.Tamper(tamperKey, func(data []byte) {
				data[0] ^= 0x01
			})

			_, err = v.Retrieve(ctx, ref.URI, key)
			Expect(err).To(MatchError(vault.ErrIntegrityMismatch))
		})

		It("fails closed on a wrong key", func() {
			_, err := v.Retrieve(ctx, ref.URI, testKey(0xEE))
			Expect(err).To(MatchError(vault.ErrIntegrityMismatch))
		})

		It("maps a missing object to ErrNotFound", func() {
			_, err := v.Retrieve(ctx, "mem://health-vault/owners/"+owner+"/apple-health/0-missing", key)
			Expect(err).To(MatchError(vault.ErrNotFound))
		})

		It("rejects a URI for another backend", func() {
			_, err := v.Retrieve(ctx, "s3://other-bucket/some/key", key)
			Expect(err).To(MatchError(vault.ErrInvalidArgument))
		})

		It("retries transient backend failures", func() {
			backend.FailNextGets(2)

			res, err := v.Retrieve(ctx, ref.URI, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Verified).To(BeTrue())
		})

		It("gives up after bounded attempts", func() {
			backend.FailNextGets(3)

			_, err := v.Retrieve(ctx, ref.URI, key)
			Expect(err).To(MatchError(vault.ErrBackendUnavailable))
		})
	})

	Describe("retry policy", func() {
		It("retries unavailability until success", func() {
			backend.FailNextPuts(2)

			_, err := v.Store(ctx, []byte("x"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(backend.PutCalls()).To(Equal(3))
		})

		It("never retries quota failures", func() {
			backend.SetQuota(8)

			_, err := v.Store(ctx, []byte("a payload larger than the quota"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
			})
			Expect(err).To(MatchError(vault.ErrQuotaExceeded))
			Expect(backend.PutCalls()).To(Equal(1))
		})

		It("stops when the context is cancelled", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			backend.FailNextPuts(10)

			_, err := v.Store(cancelled, []byte("x"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
			})
			Expect(err).To(HaveOccurred())
			Expect(backend.Len()).To(BeZero())
		})
	})

	Describe("Update", func() {
		It("supersedes under the same logical coordinates", func() {
			tag := testTag(0x44)

			prev, err := v.Store(ctx, []byte("v1"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeInsight,
				Tag:      tag,
				Durable:  true,
				Metadata: map[string]string{"week": "23"},
			})
			Expect(err).NotTo(HaveOccurred())

			next, err := v.Update(ctx, prev, []byte("v2"), key)
			Expect(err).NotTo(HaveOccurred())

			Expect(next.URI).NotTo(Equal(prev.URI))
			Expect(next.Owner).To(Equal(prev.Owner))
			Expect(next.DataType).To(Equal(prev.DataType))
			Expect(next.Tag).To(Equal(prev.Tag))
			Expect(next.Durable).To(BeTrue())
			Expect(next.Metadata).To(HaveKeyWithValue("week", "23"))

			// The superseded object stays until pruning collects it.
			exists, err := v.Exists(ctx, prev.URI)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())
		})

		It("rejects a reference without coordinates", func() {
			_, err := v.Update(ctx, vault.Reference{}, []byte("x"), key)
			Expect(err).To(MatchError(vault.ErrInvalidArgument))
		})
	})

	Describe("List", func() {
		var tagged *tagging.Tag

		BeforeEach(func() {
			tagged = testTag(0x55)

			_, err := v.Store(ctx, []byte("export-1"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
				Tag:      tagged,
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = v.Store(ctx, []byte("export-2"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = v.Store(ctx, []byte("weekly insight"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeInsight,
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = v.Store(ctx, []byte("other owner's data"), "0xfeed", key, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("scopes to the owner", func() {
			refs, err := v.List(ctx, owner, vault.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(refs).To(HaveLen(3))
			for _, ref := range refs {
				Expect(ref.Owner).To(Equal(owner))
			}
		})

		It("filters by data type", func() {
			refs, err := v.List(ctx, owner, vault.Filter{DataType: healthdata.DataTypeInsight})
			Expect(err).NotTo(HaveOccurred())
			Expect(refs).To(HaveLen(1))
			Expect(refs[0].DataType).To(Equal(healthdata.DataTypeInsight))
		})

		It("filters by opaque tag", func() {
			refs, err := v.List(ctx, owner, vault.Filter{Tag: tagged})
			Expect(err).NotTo(HaveOccurred())
			Expect(refs).To(HaveLen(1))
			Expect(refs[0].Tag).To(Equal(tagged.Hex()))
		})

		It("returns newest first", func() {
			refs, err := v.List(ctx, owner, vault.Filter{})
			Expect(err).NotTo(HaveOccurred())

			for i := 1; i < len(refs); i++ {
				Expect(refs[i-1].UploadedAt.After(refs[i].UploadedAt)).To(BeTrue())
			}
		})

		It("rejects an empty owner", func() {
			_, err := v.List(ctx, "", vault.Filter{})
			Expect(err).To(MatchError(vault.ErrInvalidArgument))
		})
	})

	Describe("Exists and Delete", func() {
		It("reports existence and honors deletion", func() {
			ref, err := v.Store(ctx, []byte("ephemeral"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
			})
			Expect(err).NotTo(HaveOccurred())

			exists, err := v.Exists(ctx, ref.URI)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())

			Expect(v.Delete(ctx, ref.URI)).To(Succeed())

			exists, err = v.Exists(ctx, ref.URI)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})

		It("surfaces deleting a missing object", func() {
			err := v.Delete(ctx, "mem://health-vault/owners/"+owner+"/apple-health/0-missing")
			Expect(err).To(MatchError(vault.ErrNotFound))
		})
	})

	Describe("VerifyIntegrity", func() {
		var ref vault.Reference

		BeforeEach(func() {
			var err error
			ref, err = v.Store(ctx, []byte("audit me"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeAggregateSnapshot,
				Durable:  true,
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("passes for intact objects without needing a key", func() {
			Expect(v.VerifyIntegrity(ctx, ref.URI, ref.ContentHash)).To(Succeed())
		})

		It("fails after corruption", func() {
			_, _, objKey, err := vault.ParseURI(ref.URI)
			Expect(err).NotTo(HaveOccurred())

			backend.Tamper(objKey, func(data []byte) {
				data[3] ^= 0x80
			})

			Expect(v.VerifyIntegrity(ctx, ref.URI, ref.ContentHash)).To(MatchError(vault.ErrIntegrityMismatch))
		})

		It("requires an expected hash", func() {
			Expect(v.VerifyIntegrity(ctx, ref.URI, "")).To(MatchError(vault.ErrInvalidArgument))
		})
	})

	Describe("metadata cache", func() {
		BeforeEach(func() {
			var err error
			v, err = vault.New(backend,
				vault.WithRetry(3, time.Millisecond),
				vault.WithMetadataCache(16, time.Minute),
			)
			Expect(err).NotTo(HaveOccurred())
		})

		It("answers repeat existence checks without the backend", func() {
			ref, err := v.Store(ctx, []byte("cached"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
			})
			Expect(err).NotTo(HaveOccurred())

			for range 3 {
				exists, err := v.Exists(ctx, ref.URI)
				Expect(err).NotTo(HaveOccurred())
				Expect(exists).To(BeTrue())
			}

			Expect(backend.HeadCalls()).To(BeZero())
		})

		It("invalidates on delete", func() {
			ref, err := v.Store(ctx, []byte("cached"), owner, key, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(v.Delete(ctx, ref.URI)).To(Succeed())

			exists, err := v.Exists(ctx, ref.URI)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})
	})
})

var _ = Describe("HashBytes", func() {
	It("prefixes the algorithm and stays stable", func() {
		hash := vault.HashBytes([]byte("bytes"))
		Expect(strings.HasPrefix(hash, "sha256:")).To(BeTrue())
		Expect(vault.HashBytes([]byte("bytes"))).To(Equal(hash))
		Expect(vault.HashBytes([]byte("other"))).NotTo(Equal(hash))
	})
})
