package cmd

import (
	"fmt"
	"strings"

	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewConfigCmd creates the config command
func NewConfigCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var generate bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or generate configuration",
		Long:  `Show the effective configuration. With --generate, write a commented default config file and exit.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if generate {
				path, err := config.DefaultConfigPath()
				if err != nil {
					ui.PrintError("%v", err)
					return err
				}
				if err := config.WriteDefault(path); err != nil {
					ui.PrintError("%v", err)
					return err
				}
				ui.PrintSuccess("wrote %s", path)
				return nil
			}

			ui.PrintHeader("Paths")
			ui.PrintKeyValue("Root", cfg.Paths.Root)
			ui.PrintKeyValue("Bin", cfg.Paths.Bin)
			ui.PrintKeyValue("Packages", cfg.Paths.Packages)
			ui.PrintKeyValue("Registry DB", cfg.Paths.RegistryDB)
			ui.PrintKeyValue("Installed DB", cfg.Paths.InstalledDB)

			ui.PrintHeader("Settings")
			ui.PrintKeyValue("Parallel", fmt.Sprintf("%t", cfg.Parallel))
			ui.PrintKeyValue("Parallel limit", fmt.Sprintf("%d", cfg.ParallelLimit))
			ui.PrintKeyValue("Search limit", fmt.Sprintf("%d", cfg.SearchLimit))

			ui.PrintHeader("Sandbox defaults")
			ui.PrintKeyValue("FS read", strings.Join(cfg.Sandbox.FSRead, ", "))
			ui.PrintKeyValue("FS write", strings.Join(cfg.Sandbox.FSWrite, ", "))
			ui.PrintKeyValue("Net", fmt.Sprintf("%t", cfg.Sandbox.Net))

			ui.PrintHeader("Repositories")
			for _, repo := range cfg.Repositories {
				state := "enabled"
				if repo.Disabled {
					state = "disabled"
				}
				ui.PrintKeyValue(repo.Name, fmt.Sprintf("%s (%s)", repo.URL, state))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&generate, "generate", false, "write a default config file")

	return cmd
}
