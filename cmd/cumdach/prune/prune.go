// Package prunecmder provides the `cumdach prune` CLI command.
package prunecmder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/amach-health/cumdach/cmd/cumdach/appenv"
	"github.com/amach-health/cumdach/pkg/cliui"
	"github.com/amach-health/cumdach/pkg/dotdir"
	"github.com/amach-health/cumdach/pkg/healthdata"
	"github.com/amach-health/cumdach/pkg/logger"
	"github.com/amach-health/cumdach/pkg/prune"
	"github.com/amach-health/cumdach/pkg/vault"
)

const pruneLongDesc string = `Remove stored objects past the retention window, plus duplicates.

Selection works on reference metadata alone: the newest object of each
(owner, data type) partition is always kept, durable objects are always
kept, older copies of identical content are duplicates, and anything else
older than --max-age is stale. Nothing is decrypted.

Destructive runs append a structured record to .cumdach/logs/ so there is
an audit trail of what was removed and why. Use --dry-run first to see
what a run would take.

Examples:
  cumdach prune --dry-run
  cumdach prune
  cumdach prune --max-age 720h --type apple-health`

const pruneShortDesc string = "Remove stale and duplicate stored objects"

type pruneCommander struct {
	maxAge    string
	dataType  string
	dryRun    bool
	configDir string
	debug     bool
}

// NewPruneCmd creates the prune cobra command.
func NewPruneCmd() *cobra.Command {
	cmder := &pruneCommander{}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: pruneShortDesc,
		Long:  pruneLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&cmder.maxAge, "max-age", "", "Retention window (default from prune.max_age config)")
	cmd.Flags().StringVarP(&cmder.dataType, "type", "t", "", "Only prune objects of this data type")
	cmd.Flags().BoolVar(&cmder.dryRun, "dry-run", false, "Show what would be removed without deleting")

	return cmd
}

func (c *pruneCommander) run(ctx context.Context) error {
	env, err := appenv.Load(c.configDir, c.debug)
	if err != nil {
		return err
	}

	maxAgeStr := c.maxAge
	if maxAgeStr == "" {
		maxAgeStr = env.Viper.GetString("prune.max_age")
	}

	maxAge, err := time.ParseDuration(maxAgeStr)
	if err != nil {
		return fmt.Errorf("invalid --max-age %q: %w", maxAgeStr, err)
	}

	// Destructive runs leave a structured record under .cumdach/logs/
	// alongside the console output.
	if !c.dryRun {
		logFile, err := openRunLog(env.Dir)
		if err != nil {
			return err
		}
		defer func() { _ = logFile.Close() }()

		env.Log = logger.Multi(
			env.Log,
			logger.New(logger.WithJSON(true), logger.WithDebug(c.debug), logger.WithWriter(logFile)),
		)
	}

	signer, err := env.OpenSigner()
	if err != nil {
		return err
	}

	v, cleanup, err := env.OpenVault(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	filter := vault.Filter{DataType: healthdata.DataType(c.dataType)}

	refs, err := v.List(ctx, signer.Address(), filter)
	if err != nil {
		return err
	}

	policy := prune.Policy{MaxAge: maxAge}

	if c.dryRun {
		fmt.Printf("  %s Dry run mode — no changes will be written\n\n", cliui.DimStyle.Render("●"))
		printCandidates(refs, policy)
		return nil
	}

	var result prune.Result
	if err := cliui.Step(os.Stdout, "Pruning stored objects", func() error {
		result = prune.Run(ctx, refs, policy, v.Delete)
		return nil
	}); err != nil {
		return err
	}

	env.Log.Info("prune run finished",
		"run_id", result.RunID,
		"scanned", result.Scanned,
		"deleted", result.Deleted,
		"duplicates", result.DuplicatesRemoved,
		"stale", result.StaleRemoved,
		"bytes_freed", result.BytesFreed,
		"failed", len(result.Errors),
	)

	fmt.Printf("\n  %s %s\n\n", cliui.SuccessMark, result.Summary())

	if len(result.Errors) > 0 {
		for _, itemErr := range result.Errors {
			fmt.Printf("  %s %s\n", cliui.FailMark, itemErr.Error())
		}
		fmt.Println()
		return fmt.Errorf("%d deletion(s) failed", len(result.Errors))
	}

	return nil
}

func printCandidates(refs []vault.Reference, policy prune.Policy) {
	candidates := prune.SelectCandidates(refs, policy)

	if len(candidates) == 0 {
		fmt.Printf("  %s Nothing to prune (scanned %d).\n", cliui.DimStyle.Render("●"), len(refs))
		return
	}

	fmt.Printf("  %s\n\n", cliui.HeaderStyle.Render(
		fmt.Sprintf("%d of %d would be removed", len(candidates), len(refs))))

	for _, cand := range candidates {
		fmt.Printf("  %s %s %s\n",
			cliui.WarnStyle.Render(fmt.Sprintf("%-9s", cand.Reason)),
			cliui.HashStyle.Render(cand.Reference.URI),
			cliui.DimStyle.Render(humanize.Bytes(uint64(cand.Reference.Size))),
		)
	}

	fmt.Println()
}

// openRunLog opens (appending) the day's prune log under .cumdach/logs/.
func openRunLog(dir string) (*os.File, error) {
	logDir, err := dotdir.NewManager().LogsDir(dir)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("prune-%s.jsonl", time.Now().UTC().Format("2006-01-02"))

	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}

	return f, nil
}
