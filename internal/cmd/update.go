package cmd

import (
	"context"

	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewUpdateCmd creates the update command
func NewUpdateCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [package]...",
		Short: "Update installed packages",
		Long: `Re-resolve installed packages against the registry and install those
whose checksum changed. Without arguments every installed package is
updated, except pinned ones; naming a pinned package updates it anyway.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			d, err := openDeps(ctx, cfg, log)
			if err != nil {
				ui.PrintError("%v", err)
				return err
			}
			defer d.close()

			report := d.engine.Update(ctx, args)
			if len(report.Items) == 0 {
				ui.PrintInfo("nothing to update")
				return nil
			}
			return printReport(report)
		},
	}

	return cmd
}
