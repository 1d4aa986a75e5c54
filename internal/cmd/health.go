package cmd

import (
	"context"
	"fmt"

	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/health"
	"github.com/driftpkg/drift/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewHealthCmd creates the health command
func NewHealthCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check store and symlink consistency",
		Long: `Detect drift between the installed-package store and the filesystem:
orphaned symlinks, missing artifacts and missing family links. With
--repair, unambiguous issues are fixed automatically.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			checker := health.NewChecker(cfg, d.installed, log)
			issues, err := checker.Check(ctx)
			if err != nil {
				ui.PrintError("health check failed: %v", err)
				return err
			}

			if len(issues) == 0 {
				ui.PrintSuccess("no issues found")
				return nil
			}

			for _, issue := range issues {
				where := issue.Link
				if where == "" {
					where = issue.Target
				}
				ui.PrintWarning("%s: %s (%s)", issue.Kind, where, issue.Repair)
			}

			if repair {
				fixed, err := checker.Repair(ctx, issues)
				if err != nil {
					ui.PrintError("repair failed: %v", err)
					return err
				}
				ui.PrintSuccess("repaired %d of %d issues", fixed, len(issues))
				if fixed == len(issues) {
					return nil
				}
			}

			return fmt.Errorf("%d issues detected", len(issues))
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "fix unambiguous issues automatically")

	return cmd
}
