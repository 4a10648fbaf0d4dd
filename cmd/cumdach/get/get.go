// Package getcmder provides the `cumdach get` CLI command.
package getcmder

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/amach-health/cumdach/cmd/cumdach/appenv"
	"github.com/amach-health/cumdach/pkg/cliui"
	"github.com/amach-health/cumdach/pkg/utils"
	"github.com/amach-health/cumdach/pkg/vault"
)

const getLongDesc string = `Fetch a stored object, verify it, and decrypt it.

The object's bytes are rehashed on the way out and checked against the
hash embedded in its name before anything is decrypted; a tampered or
corrupted object never reaches plaintext. Pass --expect-hash when you
recorded the content hash elsewhere and want the fetch pinned to it.

Without --out the decrypted payload goes to stdout (diagnostics stay on
stderr), so output can be piped:
  cumdach get vault://sqlite/health-vault/ab12… | jq .

Examples:
  cumdach get vault://sqlite/health-vault/ab12… --out export.json
  cumdach get vault://s3/my-bucket/ab12… --expect-hash sha256:ab12…`

const getShortDesc string = "Fetch, verify, and decrypt a stored object"

type getCommander struct {
	expectHash string
	out        string
	configDir  string
	debug      bool
}

// NewGetCmd creates the get cobra command.
func NewGetCmd() *cobra.Command {
	cmder := &getCommander{}

	cmd := &cobra.Command{
		Use:   "get <uri>",
		Short: getShortDesc,
		Long:  getLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			return cmder.run(cmd.Context(), args[0])
		},
	}

	cmd.Flags().StringVar(&cmder.expectHash, "expect-hash", "", "Fail unless the stored content hash matches")
	cmd.Flags().StringVarP(&cmder.out, "out", "o", "", "Write the decrypted payload to a file instead of stdout")

	return cmd
}

func (c *getCommander) run(ctx context.Context, uri string) error {
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

	v, cleanup, err := env.OpenVault(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	var opts []vault.RetrieveOption
	if c.expectHash != "" {
		opts = append(opts, vault.WithExpectedHash(c.expectHash))
	}

	result, err := v.Retrieve(ctx, uri, key, opts...)
	if err != nil {
		return err
	}

	if c.out != "" {
		if err := os.WriteFile(c.out, result.Data, 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", c.out, err)
		}

		fmt.Printf("  %s Wrote %s %s\n", cliui.SuccessMark, c.out,
			cliui.DimStyle.Render(fmt.Sprintf("(%s, verified %s)",
				humanize.Bytes(uint64(len(result.Data))),
				utils.Truncate(result.ContentHash, 18))))
		return nil
	}

	// Payload on stdout, verification note on stderr: `get | jq` works.
	fmt.Fprintf(os.Stderr, "  %s Verified %s\n", cliui.SuccessMark,
		utils.Truncate(result.ContentHash, 18))

	_, err = os.Stdout.Write(result.Data)
	return err
}
