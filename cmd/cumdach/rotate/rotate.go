// Package rotatecmder provides the `cumdach rotate` CLI command.
package rotatecmder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amach-health/cumdach/cmd/cumdach/appenv"
	"github.com/amach-health/cumdach/pkg/cliui"
	"github.com/amach-health/cumdach/pkg/dotdir"
)

const rotateLongDesc string = `Rotate the tag secret.

Re-derives the tag secret under a fresh nonce and records the rotation in
.cumdach/rotation.json. The nonce is not secret; keeping it on disk is
what lets the rotated secret be re-derived if the local state database is
ever lost.

Rotation invalidates every tag issued before it: shared tags stop
matching and category filters only find objects stored afterwards.
Stored objects themselves stay retrievable, since the encryption key
derivation is untouched.

Examples:
  cumdach rotate
  cumdach rotate --yes`

const rotateShortDesc string = "Rotate the tag secret"

type rotateCommander struct {
	yes       bool
	configDir string
	debug     bool
}

// NewRotateCmd creates the rotate cobra command.
func NewRotateCmd() *cobra.Command {
	cmder := &rotateCommander{}

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: rotateShortDesc,
		Long:  rotateLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			return cmder.run(cmd.Context(), cmd.InOrStdin())
		},
	}

	cmd.Flags().BoolVarP(&cmder.yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func (c *rotateCommander) run(ctx context.Context, in io.Reader) error {
	if !c.yes {
		ok, err := confirm(in)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
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

	secret, nonce, err := deriver.Rotate(ctx, "")
	if err != nil {
		return fmt.Errorf("rotating tag secret: %w", err)
	}

	state := &dotdir.RotationState{
		Owner:     secret.Owner,
		Nonce:     nonce,
		RotatedAt: secret.CreatedAt,
	}
	if err := dotdir.NewManager().SaveRotation(state, env.Dir); err != nil {
		return fmt.Errorf("recording rotation: %w", err)
	}

	fmt.Printf("\n  %s Rotated tag secret for %s\n", cliui.SuccessMark, cliui.NameStyle.Render(secret.Owner))
	fmt.Printf("  %s\n\n", cliui.DimStyle.Render("Tags issued before this rotation no longer match."))
	return nil
}

func confirm(in io.Reader) (bool, error) {
	fmt.Printf("\n  %s\n\n", cliui.WarnStyle.Render("Rotating the tag secret invalidates every previously issued tag."))
	fmt.Println("  Shared tags stop matching, and category filters only find objects")
	fmt.Println("  stored after the rotation. Stored objects stay retrievable.")
	fmt.Print("\n  Type \"yes\" to continue: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		fmt.Println()
		return false, nil
	}

	return strings.TrimSpace(line) == "yes", nil
}
