// Package tagcmder provides the `cumdach tag` CLI command.
package tagcmder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/amach-health/cumdach/cmd/cumdach/appenv"
	"github.com/amach-health/cumdach/pkg/healthdata"
	"github.com/amach-health/cumdach/pkg/tagging"
)

const tagLongDesc string = `Print the opaque tag your secret derives for a category.

Tags are deterministic: the same category always yields the same tag
until the secret is rotated. The plain form prints the tag hex, --month
narrows it to a calendar month, and --share emits a JSON grant that lets
someone query one category without learning your secret or any other
category's tag.

Examples:
  cumdach tag heart-rate
  cumdach tag sleep --month 2026-07
  cumdach tag steps --share > steps-grant.json`

const tagShortDesc string = "Derive the opaque tag for a category"

type tagCommander struct {
	month     string
	share     bool
	configDir string
	debug     bool
}

// NewTagCmd creates the tag cobra command.
func NewTagCmd() *cobra.Command {
	cmder := &tagCommander{}

	cmd := &cobra.Command{
		Use:   "tag <category>",
		Short: tagShortDesc,
		Long:  tagLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			return cmder.run(cmd.Context(), args[0])
		},
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return categoryNames(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
	}

	cmd.Flags().StringVar(&cmder.month, "month", "", "Derive the month-bound tag (YYYY-MM)")
	cmd.Flags().BoolVar(&cmder.share, "share", false, "Emit a shareable JSON grant for the category")

	return cmd
}

func (c *tagCommander) run(ctx context.Context, category string) error {
	if c.share && c.month != "" {
		return errors.New("cannot combine --share with --month")
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

	secret, err := deriver.UserSecret(ctx)
	if err != nil {
		return fmt.Errorf("deriving tag secret: %w", err)
	}

	gen, err := tagging.NewGenerator(secret)
	if err != nil {
		return err
	}

	if c.share {
		shared, err := gen.Share(healthdata.Category(category))
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(shared, "", "  ")
		if err != nil {
			return err
		}

		fmt.Println(string(out))
		return nil
	}

	var tag tagging.Tag
	if c.month != "" {
		ts, err := time.Parse("2006-01", c.month)
		if err != nil {
			return fmt.Errorf("invalid --month %q: want YYYY-MM", c.month)
		}

		tag, err = gen.TimeBound(healthdata.Category(category), ts)
		if err != nil {
			return err
		}
		fmt.Println(tag.Hex())
		return nil
	}

	tag, err = gen.Generate(healthdata.Category(category))
	if err != nil {
		return err
	}

	fmt.Println(tag.Hex())
	return nil
}

func categoryNames() []string {
	known := healthdata.KnownCategories()

	names := make([]string, 0, len(known))
	for _, category := range known {
		names = append(names, string(category))
	}

	return names
}
