package cmd

import (
	"github.com/driftpkg/drift/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd(cfg *config.Config, log *zerolog.Logger, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "drift",
		Short:        "Portable package manager",
		Long:         `Install, update and switch between portable Linux artifacts: static binaries, AppImages and FlatImages from registry repositories.`,
		SilenceUsage: true,
	}

	// --profile is consumed before config load; declared here so it shows in
	// help and passes flag parsing.
	cmd.PersistentFlags().String("profile", "", "named install root profile")

	// Add subcommands
	cmd.AddCommand(NewSyncCmd(cfg, log))
	cmd.AddCommand(NewInstallCmd(cfg, log))
	cmd.AddCommand(NewUpdateCmd(cfg, log))
	cmd.AddCommand(NewRemoveCmd(cfg, log))
	cmd.AddCommand(NewUseCmd(cfg, log))
	cmd.AddCommand(NewPinCmd(cfg, log))
	cmd.AddCommand(NewUnpinCmd(cfg, log))
	cmd.AddCommand(NewListCmd(cfg, log))
	cmd.AddCommand(NewSearchCmd(cfg, log))
	cmd.AddCommand(NewInfoCmd(cfg, log))
	cmd.AddCommand(NewHealthCmd(cfg, log))
	cmd.AddCommand(NewConfigCmd(cfg, log))
	cmd.AddCommand(NewVersionCmd(version))

	return cmd
}
