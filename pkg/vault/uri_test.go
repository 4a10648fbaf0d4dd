package vault_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/amach-health/cumdach/pkg/vault"
)

var _ = Describe("ParseURI", func() {
	It("splits scheme, bucket, and key", func() {
		scheme, bucket, key, err := vault.ParseURI("s3://health-vault/owners/0xab/apple-health/17-abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(scheme).To(Equal("s3"))
		Expect(bucket).To(Equal("health-vault"))
		Expect(key).To(Equal("owners/0xab/apple-health/17-abc"))
	})

	It("round-trips through FormatURI", func() {
		uri := vault.FormatURI("mem", "local", "owners/0xab/insight/1-ff")

		scheme, bucket, key, err := vault.ParseURI(uri)
		Expect(err).NotTo(HaveOccurred())
		Expect(vault.FormatURI(scheme, bucket, key)).To(Equal(uri))
	})

	DescribeTable("rejecting malformed URIs",
		func(uri string) {
			_, _, _, err := vault.ParseURI(uri)
			Expect(err).To(MatchError(vault.ErrInvalidArgument))
		},
		Entry("empty", ""),
		Entry("no scheme", "bucket/key"),
		Entry("empty scheme", "://bucket/key"),
		Entry("no key", "s3://bucket"),
		Entry("empty bucket", "s3:///key"),
		Entry("empty key", "s3://bucket/"),
	)
})
