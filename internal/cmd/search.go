package cmd

import (
	"context"

	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/ui"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewSearchCmd creates the search command
func NewSearchCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search the registry",
		Long:  `Fuzzy, case-insensitive search over package names, families and descriptions. Result count is capped by the search_limit setting.`,
		Args:  cobra.ExactArgs(1),
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

			matches, err := d.resolver.Search(ctx, args[0])
			if err != nil {
				ui.PrintError("search failed: %v", err)
				return err
			}
			if len(matches) == 0 {
				ui.PrintInfo("no packages match %q", args[0])
				return nil
			}

			table := tablewriter.NewTable(cmd.OutOrStdout(),
				tablewriter.WithHeader([]string{"Package", "Kind", "Version", "Repo", "Description"}),
				tablewriter.WithAlignment(tw.MakeAlign(5, tw.AlignLeft)),
				tablewriter.WithSymbols(tw.NewSymbols(tw.StyleNone)),
			)
			for _, pkg := range matches {
				desc := pkg.Description
				if len(desc) > 60 {
					desc = desc[:57] + "..."
				}
				table.Append(pkg.FullName(), ui.ColorizeKind(pkg.Pkg), pkg.Version, pkg.RepoName, desc)
			}
			table.Render()

			if len(matches) == cfg.SearchLimit {
				ui.PrintInfo("showing first %d matches (search_limit)", cfg.SearchLimit)
			}
			return nil
		},
	}

	return cmd
}
