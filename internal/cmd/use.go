package cmd

import (
	"context"

	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewUseCmd creates the use command
func NewUseCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <variant>",
		Short: "Switch a family's active variant",
		Long: `Repoint a family's active symlink at an already-installed variant,
e.g. "drift use firefox-nightly". No download happens; both variants stay
in the artifact store.`,
		Args: cobra.ExactArgs(1),
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

			inst, err := d.engine.Use(ctx, args[0])
			if err != nil {
				ui.PrintError("%v", err)
				return err
			}

			ui.PrintSuccess("%s now active for %s", inst.PkgName, inst.LinkName())
			return nil
		},
	}

	return cmd
}
