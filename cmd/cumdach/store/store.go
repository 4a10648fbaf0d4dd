// Package storecmder provides the `cumdach store` CLI command.
package storecmder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/amach-health/cumdach/cmd/cumdach/appenv"
	"github.com/amach-health/cumdach/pkg/cliui"
	"github.com/amach-health/cumdach/pkg/healthdata"
	"github.com/amach-health/cumdach/pkg/tagging"
	"github.com/amach-health/cumdach/pkg/utils"
	"github.com/amach-health/cumdach/pkg/vault"
)

const storeLongDesc string = `Encrypt a file and store it in the configured vault.

The payload is sealed with a key derived from your signing identity and
addressed by the hash of its ciphertext; the returned URI is how you get
it back. With --category the object also carries an opaque tag derived
from your tag secret, so later listings can filter by category without
the storage provider learning what the category is.

Examples:
  cumdach store export.json
  cumdach store export.json --category heart-rate
  cumdach store summary.json --type insight --meta source=phone
  cumdach store baseline.json --durable`

const storeShortDesc string = "Encrypt and store a file in the vault"

type storeCommander struct {
	dataType  string
	category  string
	durable   bool
	meta      []string
	configDir string
	debug     bool
}

// NewStoreCmd creates the store cobra command.
func NewStoreCmd() *cobra.Command {
	cmder := &storeCommander{}

	cmd := &cobra.Command{
		Use:   "store <file>",
		Short: storeShortDesc,
		Long:  storeLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			return cmder.run(cmd.Context(), args[0])
		},
	}

	cmd.Flags().StringVarP(&cmder.dataType, "type", "t", string(healthdata.DataTypeAppleHealth), "Data type partition for the object")
	cmd.Flags().StringVarP(&cmder.category, "category", "c", "", "Category to tag the object with")
	cmd.Flags().BoolVar(&cmder.durable, "durable", false, "Exempt the object from pruning")
	cmd.Flags().StringArrayVar(&cmder.meta, "meta", nil, "Attach plaintext metadata (key=value, repeatable)")

	return cmd
}

func (c *storeCommander) run(ctx context.Context, file string) error {
	metadata, err := parseMeta(c.meta)
	if err != nil {
		return err
	}

	payload, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", file, err)
	}

	env, err := appenv.Load(c.configDir, c.debug)
	if err != nil {
		return err
	}

	signer, err := env.OpenSigner()
	if err != nil {
		return err
	}

	db, err := env.OpenDB()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	deriver, err := env.NewDeriver(signer, db)
	if err != nil {
		return err
	}

	key, err := deriver.EncryptionKey(ctx)
	if err != nil {
		return fmt.Errorf("deriving encryption key: %w", err)
	}
	defer key.Zero()

	opts := vault.StoreOptions{
		DataType: healthdata.DataType(c.dataType),
		Metadata: metadata,
		Durable:  c.durable,
	}

	if c.category != "" {
		secret, err := deriver.UserSecret(ctx)
		if err != nil {
			return fmt.Errorf("deriving tag secret: %w", err)
		}

		gen, err := tagging.NewGenerator(secret)
		if err != nil {
			return err
		}

		tag, err := gen.Generate(healthdata.Category(c.category))
		if err != nil {
			return err
		}
		opts.Tag = &tag
	}

	v, cleanup, err := env.OpenVault(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	var ref vault.Reference
	if err := cliui.Step(os.Stdout, fmt.Sprintf("Storing %s", filepath.Base(file)), func() error {
		var storeErr error
		ref, storeErr = v.Store(ctx, payload, signer.Address(), key, opts)
		return storeErr
	}); err != nil {
		return err
	}

	fmt.Printf("\n  %s %s\n", cliui.KeyStyle.Render("URI:"), cliui.HashStyle.Render(ref.URI))
	fmt.Printf("  %s %s\n", cliui.KeyStyle.Render("Hash:"), cliui.ValueStyle.Render(ref.ContentHash))
	fmt.Printf("  %s %s\n", cliui.KeyStyle.Render("Size:"), cliui.ValueStyle.Render(humanize.Bytes(uint64(ref.Size))))
	if ref.Tag != "" {
		fmt.Printf("  %s %s\n", cliui.KeyStyle.Render("Tag:"), cliui.DimStyle.Render(utils.Truncate(ref.Tag, 16)))
	}
	if ref.Durable {
		fmt.Printf("  %s\n", cliui.DimStyle.Render("Durable: exempt from pruning"))
	}
	fmt.Println()

	return nil
}

func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q: want key=value", pair)
		}
		meta[k] = v
	}

	return meta, nil
}
