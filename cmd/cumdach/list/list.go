// Package listcmder provides the `cumdach list` CLI command.
package listcmder

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/amach-health/cumdach/cmd/cumdach/appenv"
	"github.com/amach-health/cumdach/pkg/cliui"
	"github.com/amach-health/cumdach/pkg/healthdata"
	"github.com/amach-health/cumdach/pkg/tagging"
	"github.com/amach-health/cumdach/pkg/vault"
)

const listLongDesc string = `List stored objects, newest first.

Only reference metadata is read; nothing is fetched or decrypted. With
--category the listing is narrowed by the opaque tag your secret derives
for that category, which is how filtering works without the storage
provider learning the category.

Examples:
  cumdach list
  cumdach list --type insight
  cumdach list --category heart-rate`

const listShortDesc string = "List stored objects"

type listCommander struct {
	dataType  string
	category  string
	configDir string
	debug     bool
}

// NewListCmd creates the list cobra command.
func NewListCmd() *cobra.Command {
	cmder := &listCommander{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cmder.dataType, "type", "t", "", "Only objects of this data type")
	cmd.Flags().StringVarP(&cmder.category, "category", "c", "", "Only objects tagged with this category")

	return cmd
}

func (c *listCommander) run(ctx context.Context) error {
	env, err := appenv.Load(c.configDir, c.debug)
	if err != nil {
		return err
	}

	signer, err := env.OpenSigner()
	if err != nil {
		return err
	}

	filter := vault.Filter{DataType: healthdata.DataType(c.dataType)}

	if c.category != "" {
		db, err := env.OpenDB()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		deriver, err := env.NewDeriver(signer, db)
		if err != nil {
			return err
		}

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
		filter.Tag = &tag
	}

	v, cleanup, err := env.OpenVault(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	refs, err := v.List(ctx, signer.Address(), filter)
	if err != nil {
		return err
	}

	if len(refs) == 0 {
		fmt.Printf("  %s Nothing stored yet.\n", cliui.DimStyle.Render("●"))
		return nil
	}

	fmt.Printf("\n  %s\n\n", cliui.HeaderStyle.Render(fmt.Sprintf("%d stored object(s)", len(refs))))

	for _, ref := range refs {
		durable := ""
		if ref.Durable {
			durable = cliui.WarnStyle.Render(" durable")
		}

		fmt.Printf("  %s  %s %s%s\n",
			cliui.DimStyle.Render(ref.UploadedAt.Local().Format("2006-01-02 15:04")),
			cliui.NameStyle.Render(fmt.Sprintf("%-18s", ref.DataType)),
			cliui.ValueStyle.Render(fmt.Sprintf("%8s", humanize.Bytes(uint64(ref.Size)))),
			durable,
		)
		fmt.Printf("      %s\n", cliui.HashStyle.Render(ref.URI))
	}

	fmt.Println()
	return nil
}
