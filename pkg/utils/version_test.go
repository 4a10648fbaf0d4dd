package utils

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Revision", func() {
	It("prefers the linker-stamped commit", func() {
		orig := Commit
		Commit = "abc1234"
		defer func() { Commit = orig }()

		Expect(Revision()).To(Equal("abc1234"))
	})

	It("falls back to embedded build info", func() {
		orig := Commit
		Commit = ""
		defer func() { Commit = orig }()

		Expect(Revision()).NotTo(BeEmpty())
	})
})
