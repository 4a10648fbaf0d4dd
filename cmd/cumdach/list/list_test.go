package listcmder_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	listcmder "github.com/amach-health/cumdach/cmd/cumdach/list"
	"github.com/amach-health/cumdach/pkg/healthdata"
	"github.com/amach-health/cumdach/pkg/identity"
	"github.com/amach-health/cumdach/pkg/localdb"
	"github.com/amach-health/cumdach/pkg/vault"
	"github.com/amach-health/cumdach/pkg/vault/sqlite"
)

var _ = Describe("NewListCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := listcmder.NewListCmd()
		Expect(cmd.Use).To(Equal("list"))
	})

	It("rejects any arguments", func() {
		cmd := listcmder.NewListCmd()
		Expect(cmd.Args(cmd, []string{"extra"})).To(HaveOccurred())
	})

	It("has type and category flags", func() {
		cmd := listcmder.NewListCmd()
		Expect(cmd.Flags().Lookup("type")).NotTo(BeNil())
		Expect(cmd.Flags().Lookup("category")).NotTo(BeNil())
	})
})

var _ = Describe("List command execution", func() {
	var (
		tmpDir  string
		origDir string
		dir     string
		signer  *identity.KeyfileSigner
		ctx     context.Context
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "cumdach-list-test-*")
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

	seed := func(dataType healthdata.DataType) {
		db, err := localdb.Open(filepath.Join(dir, "cumdach.db"))
		ExpectWithOffset(1, err).NotTo(HaveOccurred())

		key, err := identity.NewDeriver(signer, db).EncryptionKey(ctx)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		ExpectWithOffset(1, db.Close()).To(Succeed())

		backend, err := sqlite.NewBackend(ctx, filepath.Join(dir, "vault.db"))
		ExpectWithOffset(1, err).NotTo(HaveOccurred())

		v, err := vault.New(backend)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())

		_, err = v.Store(ctx, []byte(`{"seed":"`+string(dataType)+`"}`), signer.Address(), key, vault.StoreOptions{
			DataType: dataType,
		})
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		ExpectWithOffset(1, backend.Close()).To(Succeed())
	}

	execute := func(args ...string) error {
		cmd := listcmder.NewListCmd()
		cmd.SetArgs(append([]string{}, args...))
		return cmd.Execute()
	}

	It("runs cleanly against an empty vault", func() {
		Expect(execute()).To(Succeed())
	})

	It("lists stored objects", func() {
		seed(healthdata.DataTypeAppleHealth)
		seed(healthdata.DataTypeInsight)

		Expect(execute()).To(Succeed())
	})

	It("narrows by --type", func() {
		seed(healthdata.DataTypeAppleHealth)

		Expect(execute("--type", "insight")).To(Succeed())
	})

	It("derives the tag filter for --category", func() {
		seed(healthdata.DataTypeAppleHealth)

		Expect(execute("--category", "heart-rate")).To(Succeed())

		// The derivation minted and persisted the tag secret.
		db, err := localdb.Open(filepath.Join(dir, "cumdach.db"))
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = db.Close() }()

		secret, err := db.LoadSecret(ctx, signer.Address())
		Expect(err).NotTo(HaveOccurred())
		Expect(secret.IsZero()).To(BeFalse())
	})
})
