package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/core"
	"github.com/driftpkg/drift/internal/engine"
	"github.com/driftpkg/drift/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewInstallCmd creates the install command
func NewInstallCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		force bool
		yes   bool
	)

	cmd := &cobra.Command{
		Use:   "install <package>...",
		Short: "Install packages",
		Long: `Install one or more packages. Queries accept qualifiers:
  name             bare package name
  family/name      disambiguate by family
  name@repo        disambiguate by repository
  name#collection  disambiguate by collection

Installing an already-installed package with an unchanged checksum is a no-op.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			log.Info().Strs("queries", args).Bool("force", force).Msg("starting install")

			d, err := openDeps(ctx, cfg, log)
			if err != nil {
				ui.PrintError("%v", err)
				return err
			}
			defer d.close()

			queries := make([]string, len(args))
			for i, q := range args {
				queries[i] = disambiguate(ctx, d, q, yes)
			}

			report := d.engine.Install(ctx, queries, engine.InstallOptions{Force: force})
			return printReport(report)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "reinstall even when the identical checksum is recorded")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "never prompt; ambiguous queries fail instead")

	return cmd
}

// disambiguate offers an interactive pick when a query matches packages in
// several repositories. Any prompt failure (non-TTY, ctrl-c) leaves the
// query as-is so the engine reports the ambiguity.
func disambiguate(ctx context.Context, d *deps, query string, yes bool) string {
	if yes {
		return query
	}
	_, err := d.resolver.Resolve(ctx, query)
	var ambErr *core.AmbiguousError
	if !errors.As(err, &ambErr) || ambErr.Qualified {
		return query
	}

	items := make([]string, len(ambErr.Candidates))
	for i, c := range ambErr.Candidates {
		items[i] = fmt.Sprintf("%s/%s@%s#%s", c.Family, c.PkgName, c.RepoName, c.Collection)
	}
	_, picked, err := ui.SelectPrompt(fmt.Sprintf("%s is ambiguous, pick one", query), items)
	if err != nil {
		return query
	}
	return picked
}
