package cumdachcmder_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	cumdachcmder "github.com/amach-health/cumdach/cmd/cumdach"
)

var _ = Describe("NewCumdachCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := cumdachcmder.NewCumdachCmd()
		Expect(cmd.Use).To(Equal("cumdach"))
	})

	It("registers every subcommand", func() {
		cmd := cumdachcmder.NewCumdachCmd()

		names := make([]string, 0, len(cmd.Commands()))
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}

		Expect(names).To(ContainElements(
			"init", "config", "store", "get", "list",
			"prune", "rotate", "tag", "version",
		))
	})

	It("exposes the global debug and config-dir flags", func() {
		cmd := cumdachcmder.NewCumdachCmd()

		debug := cmd.PersistentFlags().Lookup("debug")
		Expect(debug).NotTo(BeNil())
		Expect(debug.Shorthand).To(Equal("d"))
		Expect(debug.DefValue).To(Equal("false"))

		Expect(cmd.PersistentFlags().Lookup("config-dir")).NotTo(BeNil())
	})
})

var _ = Describe("Root command execution", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "cumdach-root-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("threads --config-dir down to subcommands", func() {
		override := filepath.Join(tmpDir, "state")

		cmd := cumdachcmder.NewCumdachCmd()
		cmd.SetArgs([]string{"init", "--config-dir", override})
		Expect(cmd.Execute()).To(Succeed())

		Expect(filepath.Join(override, "config.toml")).To(BeARegularFile())
		Expect(filepath.Join(override, "identity.key")).To(BeARegularFile())
	})

	It("runs the version subcommand", func() {
		cmd := cumdachcmder.NewCumdachCmd()
		cmd.SetArgs([]string{"version"})
		Expect(cmd.Execute()).To(Succeed())
	})
})
