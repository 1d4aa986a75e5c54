package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/core"
	"github.com/driftpkg/drift/internal/fsops"
	"github.com/driftpkg/drift/internal/ui"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewListCmd creates the list command
func NewListCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		jsonOutput bool
		filterKind string
		sortBy     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		Long:  `List installed packages with their kind, version and pin/disable state.`,
		Args:  cobra.NoArgs,
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

			installed, err := d.installed.All(ctx)
			if err != nil {
				ui.PrintError("failed to list packages: %v", err)
				return fmt.Errorf("list installed: %w", err)
			}

			filtered := filterByKind(installed, filterKind)
			sortInstalled(filtered, sortBy)

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(filtered)
			}

			if len(filtered) == 0 {
				if filterKind != "" {
					ui.PrintWarning("No packages of kind %q installed", filterKind)
				} else {
					ui.PrintInfo("No packages installed")
				}
				return nil
			}

			ui.PrintHeader("Installed Packages")
			printInstalledTable(cmd, cfg, filtered)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().StringVar(&filterKind, "kind", "", "filter by artifact kind (binary, appimage, flatimage)")
	cmd.Flags().StringVar(&sortBy, "sort", "name", "sort by: name, kind, date")

	return cmd
}

func filterByKind(installed []core.InstalledPackage, kind string) []core.InstalledPackage {
	if kind == "" {
		return installed
	}
	filtered := make([]core.InstalledPackage, 0, len(installed))
	for _, inst := range installed {
		if strings.EqualFold(inst.Pkg, kind) {
			filtered = append(filtered, inst)
		}
	}
	return filtered
}

func sortInstalled(installed []core.InstalledPackage, sortBy string) {
	switch strings.ToLower(sortBy) {
	case "kind":
		sort.Slice(installed, func(i, j int) bool {
			if installed[i].Pkg == installed[j].Pkg {
				return installed[i].FullName() < installed[j].FullName()
			}
			return installed[i].Pkg < installed[j].Pkg
		})
	case "date":
		sort.Slice(installed, func(i, j int) bool {
			return installed[i].InstalledDate.After(installed[j].InstalledDate)
		})
	default:
		sort.Slice(installed, func(i, j int) bool {
			return installed[i].FullName() < installed[j].FullName()
		})
	}
}

func printInstalledTable(cmd *cobra.Command, cfg *config.Config, installed []core.InstalledPackage) {
	table := tablewriter.NewTable(cmd.OutOrStdout(),
		tablewriter.WithHeader([]string{"Package", "Kind", "Version", "Repo", "State"}),
		tablewriter.WithAlignment(tw.MakeAlign(5, tw.AlignLeft)),
		tablewriter.WithSymbols(tw.NewSymbols(tw.StyleNone)),
	)

	linker := fsops.OSLinker{}
	for _, inst := range installed {
		version := inst.Version
		if version == "" {
			version = "-"
		}

		var state []string
		link := filepath.Join(cfg.Paths.Bin, inst.LinkName())
		if fsops.ActiveTarget(linker, link) == inst.InstalledPath {
			state = append(state, "active")
		}
		if inst.Pinned {
			state = append(state, "pinned")
		}
		if inst.Disabled {
			state = append(state, "disabled")
		}

		table.Append(
			inst.FullName(),
			ui.ColorizeKind(inst.Pkg),
			version,
			inst.RepoName,
			strings.Join(state, ","),
		)
	}

	table.Render()
}
