package sqlite_test

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/amach-health/cumdach/pkg/healthdata"
	"github.com/amach-health/cumdach/pkg/identity"
	"github.com/amach-health/cumdach/pkg/vault"
	"github.com/amach-health/cumdach/pkg/vault/sqlite"
)

func sampleObject(key string, uploadedAt time.Time) ([]byte, vault.Object) {
	data := []byte("sealed payload for " + key)

	return data, vault.Object{
		Key:         key,
		Size:        int64(len(data)),
		UploadedAt:  uploadedAt,
		Owner:       "0xabc",
		DataType:    healthdata.DataTypeAppleHealth,
		Tag:         "deadbeef",
		ContentHash: vault.HashBytes(data),
		Durable:     true,
		Metadata:    map[string]string{"device": "watch"},
	}
}

var _ = Describe("Backend", func() {
	var (
		ctx     context.Context
		backend *sqlite.Backend
		dbPath  string
	)

	BeforeEach(func() {
		ctx = context.Background()
		dbPath = filepath.Join(GinkgoT().TempDir(), "vault.db")

		var err error
		backend, err = sqlite.NewBackend(ctx, dbPath)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(backend.Close)
	})

	It("derives the bucket from the filename", func() {
		Expect(backend.Bucket()).To(Equal("vault"))
		Expect(backend.Scheme()).To(Equal("sqlite"))
	})

	It("rejects an empty path", func() {
		_, err := sqlite.NewBackend(ctx, "")
		Expect(err).To(MatchError(vault.ErrInvalidArgument))
	})

	It("round-trips an object with all its metadata", func() {
		uploadedAt := time.Date(2025, 6, 1, 12, 0, 0, 42, time.UTC)
		data, obj := sampleObject("owners/0xabc/apple-health/1-aa", uploadedAt)

		Expect(backend.Put(ctx, obj.Key, data, obj)).To(Succeed())

		got, gotObj, err := backend.Get(ctx, obj.Key)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(data))
		Expect(gotObj.Owner).To(Equal(obj.Owner))
		Expect(gotObj.DataType).To(Equal(obj.DataType))
		Expect(gotObj.Tag).To(Equal(obj.Tag))
		Expect(gotObj.ContentHash).To(Equal(obj.ContentHash))
		Expect(gotObj.Size).To(Equal(obj.Size))
		Expect(gotObj.Durable).To(BeTrue())
		Expect(gotObj.Metadata).To(HaveKeyWithValue("device", "watch"))
		Expect(gotObj.UploadedAt).To(Equal(uploadedAt))
	})

	It("heads without fetching the payload", func() {
		data, obj := sampleObject("owners/0xabc/apple-health/2-bb", time.Now().UTC())
		Expect(backend.Put(ctx, obj.Key, data, obj)).To(Succeed())

		gotObj, err := backend.Head(ctx, obj.Key)
		Expect(err).NotTo(HaveOccurred())
		Expect(gotObj.ContentHash).To(Equal(obj.ContentHash))
		Expect(gotObj.Size).To(Equal(obj.Size))
	})

	It("maps missing keys to ErrNotFound", func() {
		_, _, err := backend.Get(ctx, "owners/nobody/apple-health/0-zz")
		Expect(err).To(MatchError(vault.ErrNotFound))

		_, err = backend.Head(ctx, "owners/nobody/apple-health/0-zz")
		Expect(err).To(MatchError(vault.ErrNotFound))
	})

	It("overwrites on re-put of the same key", func() {
		data, obj := sampleObject("owners/0xabc/apple-health/3-cc", time.Now().UTC())

		Expect(backend.Put(ctx, obj.Key, data, obj)).To(Succeed())
		Expect(backend.Put(ctx, obj.Key, data, obj)).To(Succeed())

		objects, err := backend.List(ctx, "owners/0xabc/")
		Expect(err).NotTo(HaveOccurred())
		Expect(objects).To(HaveLen(1))
	})

	Describe("List", func() {
		BeforeEach(func() {
			now := time.Now().UTC()
			for _, key := range []string{
				"owners/0xabc/apple-health/1-aa",
				"owners/0xabc/insight/2-bb",
				"owners/0xdef/apple-health/3-cc",
			} {
				data, obj := sampleObject(key, now)
				Expect(backend.Put(ctx, key, data, obj)).To(Succeed())
			}
		})

		It("scopes by prefix", func() {
			objects, err := backend.List(ctx, "owners/0xabc/")
			Expect(err).NotTo(HaveOccurred())
			Expect(objects).To(HaveLen(2))

			objects, err = backend.List(ctx, "owners/0xabc/insight/")
			Expect(err).NotTo(HaveOccurred())
			Expect(objects).To(HaveLen(1))
			Expect(objects[0].Key).To(Equal("owners/0xabc/insight/2-bb"))
		})

		It("returns nothing for an unknown prefix", func() {
			objects, err := backend.List(ctx, "owners/0x999/")
			Expect(err).NotTo(HaveOccurred())
			Expect(objects).To(BeEmpty())
		})

		It("treats LIKE metacharacters in the prefix literally", func() {
			data, obj := sampleObject("owners/a_b/apple-health/4-dd", time.Now().UTC())
			Expect(backend.Put(ctx, obj.Key, data, obj)).To(Succeed())
			data, obj = sampleObject("owners/axb/apple-health/5-ee", time.Now().UTC())
			Expect(backend.Put(ctx, obj.Key, data, obj)).To(Succeed())

			objects, err := backend.List(ctx, "owners/a_b/")
			Expect(err).NotTo(HaveOccurred())
			Expect(objects).To(HaveLen(1))
			Expect(objects[0].Key).To(Equal("owners/a_b/apple-health/4-dd"))
		})
	})

	It("deletes once and reports the second attempt", func() {
		data, obj := sampleObject("owners/0xabc/apple-health/6-ff", time.Now().UTC())
		Expect(backend.Put(ctx, obj.Key, data, obj)).To(Succeed())

		Expect(backend.Delete(ctx, obj.Key)).To(Succeed())
		Expect(backend.Delete(ctx, obj.Key)).To(MatchError(vault.ErrNotFound))
	})

	It("persists across reopen", func() {
		data, obj := sampleObject("owners/0xabc/apple-health/7-gg", time.Now().UTC())
		Expect(backend.Put(ctx, obj.Key, data, obj)).To(Succeed())
		Expect(backend.Close()).To(Succeed())

		reopened, err := sqlite.NewBackend(ctx, dbPath)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(reopened.Close)

		got, _, err := reopened.Get(ctx, obj.Key)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(data))
	})

	It("serves a vault end to end", func() {
		v, err := vault.New(backend)
		Expect(err).NotTo(HaveOccurred())

		var material [32]byte
		for i := range material {
			material[i] = 0x5C
		}
		key := identity.NewEncryptionKey(material, identity.SourceSignature)

		ref, err := v.Store(ctx, []byte("sqlite-backed payload"), "0xabc", key, vault.StoreOptions{
			DataType: healthdata.DataTypeAppleHealth,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(ref.URI).To(HavePrefix("sqlite://vault/"))

		res, err := v.Retrieve(ctx, ref.URI, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Data).To(Equal([]byte("sqlite-backed payload")))
		Expect(res.Verified).To(BeTrue())
	})
})
