package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/driftpkg/drift/internal/config"
	"github.com/rs/zerolog"
)

// SyncStatus is the outcome of syncing one repository.
type SyncStatus string

const (
	SyncUpdated   SyncStatus = "updated"
	SyncUnchanged SyncStatus = "unchanged"
	SyncFailed    SyncStatus = "failed"
)

// RepoSync is the per-repository entry of a SyncReport.
type RepoSync struct {
	Repo     string
	Status   SyncStatus
	Packages int
	Err      error
}

// SyncReport summarizes a sync run across all enabled repositories.
type SyncReport struct {
	Repos []RepoSync
}

// Failed reports whether any repository failed to sync.
func (r *SyncReport) Failed() bool {
	for _, repo := range r.Repos {
		if repo.Status == SyncFailed {
			return true
		}
	}
	return false
}

// Syncer refreshes the registry store from remote metadata endpoints.
type Syncer struct {
	cfg     *config.Config
	store   *Store
	fetcher *Fetcher
	log     *zerolog.Logger
}

// NewSyncer creates a syncer over the given store.
func NewSyncer(cfg *config.Config, store *Store, fetcher *Fetcher, log *zerolog.Logger) *Syncer {
	return &Syncer{cfg: cfg, store: store, fetcher: fetcher, log: log}
}

// Sync refreshes every enabled repository. One repository's failure never
// aborts the others; the report records each outcome. Syncing twice against
// unchanged remote data leaves the row-set untouched and reports unchanged.
func (s *Syncer) Sync(ctx context.Context) (*SyncReport, error) {
	report := &SyncReport{}

	for _, repo := range s.cfg.EnabledRepositories() {
		entry := s.syncOne(ctx, repo)
		if entry.Err != nil {
			s.log.Warn().Err(entry.Err).Str("repo", repo.Name).Msg("repository sync failed")
		} else {
			s.log.Info().Str("repo", repo.Name).Str("status", string(entry.Status)).
				Int("packages", entry.Packages).Msg("repository synced")
		}
		report.Repos = append(report.Repos, entry)

		if ctx.Err() != nil {
			break
		}
	}
	return report, nil
}

func (s *Syncer) syncOne(ctx context.Context, repo config.Repository) RepoSync {
	raw, err := s.fetcher.FetchMetadata(ctx, repo)
	if err != nil {
		return RepoSync{Repo: repo.Name, Status: SyncFailed, Err: err}
	}

	sum := sha256.Sum256(raw)
	digest := hex.EncodeToString(sum[:])

	prev, err := s.store.RepositoryDigest(ctx, repo.Name)
	if err != nil {
		return RepoSync{Repo: repo.Name, Status: SyncFailed, Err: err}
	}
	if prev == digest {
		return RepoSync{Repo: repo.Name, Status: SyncUnchanged}
	}

	pkgs, provides, err := ParseMetadata(repo.Name, raw)
	if err != nil {
		return RepoSync{Repo: repo.Name, Status: SyncFailed, Err: fmt.Errorf("repository %s: %w", repo.Name, err)}
	}

	if err := s.store.ReplaceRepository(ctx, repo.Name, repo.URL, digest, pkgs, provides); err != nil {
		return RepoSync{Repo: repo.Name, Status: SyncFailed, Err: err}
	}
	return RepoSync{Repo: repo.Name, Status: SyncUpdated, Packages: len(pkgs)}
}
