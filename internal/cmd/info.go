package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/core"
	"github.com/driftpkg/drift/internal/sandbox"
	"github.com/driftpkg/drift/internal/ui"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewInfoCmd creates the info command
func NewInfoCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <package>",
		Short: "Show package details",
		Long:  `Show the resolved registry entry for a package plus its installed state, pin and sandbox rule when installed.`,
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

			pkg, err := d.resolver.Resolve(ctx, args[0])
			if err != nil {
				ui.PrintError("%v", err)
				return err
			}

			ui.PrintHeader(pkg.FullName())
			ui.PrintKeyValue("Kind", ui.ColorizeKind(pkg.Pkg))
			ui.PrintKeyValue("Version", orDash(pkg.Version))
			ui.PrintKeyValue("Repository", fmt.Sprintf("%s#%s", pkg.RepoName, pkg.Collection))
			ui.PrintKeyValue("Description", orDash(pkg.Description))
			if pkg.Size > 0 {
				ui.PrintKeyValue("Size", humanize.Bytes(uint64(pkg.Size)))
			}
			ui.PrintKeyValue("Checksum", orDash(pkg.Checksum))
			ui.PrintKeyValue("URL", pkg.DownloadURL)
			if pkg.BuildDate != "" {
				ui.PrintKeyValue("Built", pkg.BuildDate)
			}
			if pkg.Note != "" {
				ui.PrintKeyValue("Note", pkg.Note)
			}

			inst, err := d.installed.Lookup(ctx, pkg.Family, pkg.PkgName)
			if err != nil {
				if errors.Is(err, core.ErrNotInstalled) {
					ui.PrintInfo("not installed")
					return nil
				}
				return err
			}

			ui.PrintHeader("Installed")
			ui.PrintKeyValue("Path", inst.InstalledPath)
			ui.PrintKeyValue("Installed", inst.InstalledDate.Format("2006-01-02 15:04"))
			ui.PrintKeyValue("Checksum", inst.Checksum)
			if inst.Checksum != pkg.Checksum {
				ui.PrintWarning("an update is available")
			}
			if inst.Pinned {
				ui.PrintKeyValue("Pinned", "yes")
			}
			if inst.Disabled {
				ui.PrintKeyValue("Disabled", "yes")
			}

			// Effective policy: package rule over repo default over global.
			rule, _ := d.installed.SandboxRule(ctx, pkg.Family, pkg.PkgName)
			policy := sandbox.Materialize(rule, cfg.RepositorySandbox(inst.RepoName), cfg.Sandbox)
			ui.PrintKeyValue("Sandbox", fmt.Sprintf("fs_read=%v fs_write=%v net=%t",
				policy.FSRead, policy.FSWrite, policy.Net))
			return nil
		},
	}

	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
