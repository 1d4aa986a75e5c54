package cmd

import (
	"context"
	"fmt"

	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/engine"
	"github.com/driftpkg/drift/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewRemoveCmd creates the remove command
func NewRemoveCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		force bool
		yes   bool
	)

	cmd := &cobra.Command{
		Use:     "remove <package>...",
		Aliases: []string{"uninstall", "rm"},
		Short:   "Remove installed packages",
		Long: `Remove installed packages: the active symlink, desktop integration and
the store record. The downloaded artifact is kept while another installed
package references the same checksum. Pinned packages refuse removal
without --force.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			if !yes {
				ok, err := ui.ConfirmPrompt(fmt.Sprintf("Remove %d package(s)?", len(args)))
				if err != nil {
					return err
				}
				if !ok {
					ui.PrintInfo("aborted")
					return nil
				}
			}

			d, err := openDeps(ctx, cfg, log)
			if err != nil {
				ui.PrintError("%v", err)
				return err
			}
			defer d.close()

			report := d.engine.Remove(ctx, args, engine.RemoveOptions{Force: force})
			return printReport(report)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "remove pinned packages too")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}
