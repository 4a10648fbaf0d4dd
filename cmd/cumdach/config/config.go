// Package configcmder provides the config command for managing persistent
// cumdach configuration stored in the .cumdach/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent cumdach configuration.

Configuration is stored as config.toml in the .cumdach/ directory and
provides default values for command flags. CLI flags always take
precedence over config file values, and CUMDACH_* environment variables
sit between the two.

Keys use dotted notation matching the TOML section structure:
  storage.backend, storage.sqlite_path,
  storage.s3.bucket, storage.s3.region, storage.s3.endpoint,
  storage.s3.access_key_id, storage.s3.path_style,
  identity.keyfile, identity.allow_fallback,
  cache.max_entries, cache.max_age, prune.max_age

Use subcommands to get, set, or list configuration values:
  cumdach config set <key> <value>    Set a configuration value
  cumdach config get <key>            Get a configuration value
  cumdach config list                 List all configuration values

Examples:
  cumdach config set storage.backend s3
  cumdach config set storage.s3.bucket my-health-vault
  cumdach config get prune.max_age
  cumdach config list`

const configShortDesc string = "Manage persistent cumdach configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
