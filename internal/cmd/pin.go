package cmd

import (
	"context"

	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewPinCmd creates the pin command
func NewPinCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin <package>...",
		Short: "Pin packages at their installed version",
		Long:  `Pinned packages are excluded from batch updates. They can still be updated by naming them explicitly.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPinned(cmd, cfg, log, args, true)
		},
	}

	return cmd
}

// NewUnpinCmd creates the unpin command
func NewUnpinCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unpin <package>...",
		Short: "Unpin packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPinned(cmd, cfg, log, args, false)
		},
	}

	return cmd
}

func setPinned(cmd *cobra.Command, cfg *config.Config, log *zerolog.Logger, queries []string, pinned bool) error {
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

	for _, q := range queries {
		inst, err := d.engine.Pin(ctx, q, pinned)
		if err != nil {
			ui.PrintError("%s: %v", q, err)
			return err
		}
		if pinned {
			ui.PrintSuccess("pinned %s at %s", inst.FullName(), orDash(inst.Version))
		} else {
			ui.PrintSuccess("unpinned %s", inst.FullName())
		}
	}
	return nil
}
