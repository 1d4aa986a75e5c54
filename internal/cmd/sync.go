package cmd

import (
	"context"
	"fmt"

	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/registry"
	"github.com/driftpkg/drift/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewSyncCmd creates the sync command
func NewSyncCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh registry metadata from all repositories",
		Long:  `Fetch each enabled repository's metadata document and atomically replace its package rows. A failing repository never blocks the others.`,
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

			syncer := registry.NewSyncer(cfg, d.registry, registry.NewFetcher(log), log)
			report, err := syncer.Sync(ctx)
			if err != nil {
				ui.PrintError("sync failed: %v", err)
				return err
			}

			for _, repo := range report.Repos {
				switch repo.Status {
				case registry.SyncUpdated:
					ui.PrintSuccess("%s: %d packages", repo.Repo, repo.Packages)
				case registry.SyncUnchanged:
					ui.PrintInfo("%s: unchanged", repo.Repo)
				case registry.SyncFailed:
					ui.PrintError("%s: %v", repo.Repo, repo.Err)
				}
			}

			if report.Failed() {
				return fmt.Errorf("one or more repositories failed to sync")
			}
			return nil
		},
	}

	return cmd
}
