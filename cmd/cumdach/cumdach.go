// Package cumdachcmder
package cumdachcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/amach-health/cumdach/cmd/cumdach/config"
	getcmder "github.com/amach-health/cumdach/cmd/cumdach/get"
	initcmder "github.com/amach-health/cumdach/cmd/cumdach/init"
	listcmder "github.com/amach-health/cumdach/cmd/cumdach/list"
	prunecmder "github.com/amach-health/cumdach/cmd/cumdach/prune"
	rotatecmder "github.com/amach-health/cumdach/cmd/cumdach/rotate"
	storecmder "github.com/amach-health/cumdach/cmd/cumdach/store"
	tagcmder "github.com/amach-health/cumdach/cmd/cumdach/tag"
	versioncmder "github.com/amach-health/cumdach/cmd/version"
)

const cumdachLongDesc string = `Cumdach keeps health data encrypted under your own keys.

Payloads are sealed with a key derived from your signing identity,
addressed by the hash of their ciphertext, and labeled with opaque tags
the storage provider cannot read anything into.

Typical flow:
  cumdach init                           Create .cumdach/ and a signing keyfile
  cumdach store export.json -c steps     Encrypt and upload a file
  cumdach list                           Show what is stored
  cumdach get <uri> --out export.json    Fetch, verify, and decrypt`

const cumdachShortDesc string = "Cumdach - encrypted health data vault"

func NewCumdachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cumdach",
		Short: cumdachShortDesc,
		Long:  cumdachLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Path to the .cumdach directory (default: ./.cumdach, then ~/.cumdach)")

	// Add subcommands
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(storecmder.NewStoreCmd())
	cmd.AddCommand(getcmder.NewGetCmd())
	cmd.AddCommand(listcmder.NewListCmd())
	cmd.AddCommand(prunecmder.NewPruneCmd())
	cmd.AddCommand(rotatecmder.NewRotateCmd())
	cmd.AddCommand(tagcmder.NewTagCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
