package prunecmder_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	prunecmder "github.com/amach-health/cumdach/cmd/cumdach/prune"
	"github.com/amach-health/cumdach/pkg/healthdata"
	"github.com/amach-health/cumdach/pkg/identity"
	"github.com/amach-health/cumdach/pkg/localdb"
	"github.com/amach-health/cumdach/pkg/vault"
	"github.com/amach-health/cumdach/pkg/vault/sqlite"
)

var _ = Describe("NewPruneCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := prunecmder.NewPruneCmd()
		Expect(cmd.Use).To(Equal("prune"))
	})

	It("rejects any arguments", func() {
		cmd := prunecmder.NewPruneCmd()
		Expect(cmd.Args(cmd, []string{"extra"})).To(HaveOccurred())
	})

	It("has max-age, type, and dry-run flags", func() {
		cmd := prunecmder.NewPruneCmd()
		Expect(cmd.Flags().Lookup("max-age")).NotTo(BeNil())
		Expect(cmd.Flags().Lookup("type")).NotTo(BeNil())

		f := cmd.Flags().Lookup("dry-run")
		Expect(f).NotTo(BeNil())
		Expect(f.DefValue).To(Equal("false"))
	})
})

var _ = Describe("Prune command execution", func() {
	var (
		tmpDir  string
		origDir string
		dir     string
		signer  *identity.KeyfileSigner
		ctx     context.Context
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "cumdach-prune-test-*")
		Expect(err).NotTo(HaveOccurred())

		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(tmpDir)).To(Succeed())

		dir = filepath.Join(tmpDir, ".cumdach")
		Expect(os.MkdirAll(dir, 0o755)).To(Succeed())

		signer, err = identity.GenerateKeyfile(filepath.Join(dir, "identity.key"), "")
		Expect(err).NotTo(HaveOccurred())

		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(os.Chdir(origDir)).To(Succeed())
		os.RemoveAll(tmpDir)
	})

	// seedDuplicate stores the same payload twice so the older copy is a
	// pruning candidate regardless of age.
	seedDuplicate := func() {
		db, err := localdb.Open(filepath.Join(dir, "cumdach.db"))
		ExpectWithOffset(1, err).NotTo(HaveOccurred())

		key, err := identity.NewDeriver(signer, db).EncryptionKey(ctx)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		ExpectWithOffset(1, db.Close()).To(Succeed())

		backend, err := sqlite.NewBackend(ctx, filepath.Join(dir, "vault.db"))
		ExpectWithOffset(1, err).NotTo(HaveOccurred())

		v, err := vault.New(backend)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())

		payload := []byte(`{"samples":[{"category":"steps","count":9001}]}`)
		for range 2 {
			_, err = v.Store(ctx, payload, signer.Address(), key, vault.StoreOptions{
				DataType: healthdata.DataTypeAppleHealth,
			})
			ExpectWithOffset(1, err).NotTo(HaveOccurred())
		}

		ExpectWithOffset(1, backend.Close()).To(Succeed())
	}

	countObjects := func() int {
		backend, err := sqlite.NewBackend(ctx, filepath.Join(dir, "vault.db"))
		ExpectWithOffset(1, err).NotTo(HaveOccurred())

		v, err := vault.New(backend)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())

		refs, err := v.List(ctx, signer.Address(), vault.Filter{})
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		ExpectWithOffset(1, backend.Close()).To(Succeed())

		return len(refs)
	}

	execute := func(args ...string) error {
		cmd := prunecmder.NewPruneCmd()
		cmd.SetArgs(append([]string{}, args...))
		return cmd.Execute()
	}

	It("rejects an unparseable --max-age", func() {
		err := execute("--max-age", "soon")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("invalid --max-age"))
	})

	It("leaves the vault untouched with --dry-run", func() {
		seedDuplicate()

		Expect(execute("--dry-run")).To(Succeed())
		Expect(countObjects()).To(Equal(2))
	})

	It("removes the duplicate and keeps the newest copy", func() {
		seedDuplicate()

		Expect(execute()).To(Succeed())
		Expect(countObjects()).To(Equal(1))
	})

	It("appends a structured run log", func() {
		seedDuplicate()

		Expect(execute()).To(Succeed())

		matches, err := filepath.Glob(filepath.Join(dir, "logs", "prune-*.jsonl"))
		Expect(err).NotTo(HaveOccurred())
		Expect(matches).To(HaveLen(1))

		data, err := os.ReadFile(matches[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("prune run finished"))
	})

	It("runs cleanly against an empty vault", func() {
		Expect(execute()).To(Succeed())
	})
})
