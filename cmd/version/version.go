// Package versioncmder provides the `cumdach version` CLI command.
package versioncmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amach-health/cumdach/pkg/utils"
)

const versionShortDesc string = "Print version and build information"

// NewVersionCmd creates the version cobra command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: versionShortDesc,
		Long:  "Print the cumdach version, the commit it was built from, and the build date.",
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Printf("cumdach %s\n", utils.Version)
			fmt.Printf("  commit: %s\n", utils.Revision())
			if utils.BuildDate != "" {
				fmt.Printf("  built:  %s\n", utils.BuildDate)
			}
			return nil
		},
	}
}
