// Package engine orchestrates installs, updates, removals and variant
// switches. It owns the atomicity guarantees: a package is either fully
// installed (staged, activated, recorded) or untouched, never half-linked.
package engine

import (
	"context"

	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/core"
	"github.com/driftpkg/drift/internal/download"
	"github.com/driftpkg/drift/internal/fsops"
	"github.com/driftpkg/drift/internal/integrate"
	"github.com/driftpkg/drift/internal/resolver"
	"github.com/driftpkg/drift/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Fetcher is the download side the engine drives. *download.Scheduler is
// the production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, tasks []download.Task) []download.Result
}

// AssetResolver maps indirect download_url values to direct URLs.
type AssetResolver interface {
	Resolve(ctx context.Context, urlOrSpec string) (string, error)
}

// Engine is the install/update/remove/use state machine.
type Engine struct {
	cfg        *config.Config
	resolver   *resolver.Resolver
	installed  *store.Store
	fetch      Fetcher
	assets     AssetResolver
	integrator integrate.Integrator
	linker     fsops.Linker
	fs         afero.Fs
	lock       Locker
	log        *zerolog.Logger
}

// New creates an engine over the real filesystem.
func New(cfg *config.Config, res *resolver.Resolver, installed *store.Store, fetch Fetcher, assets AssetResolver, integrator integrate.Integrator, log *zerolog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		resolver:   res,
		installed:  installed,
		fetch:      fetch,
		assets:     assets,
		integrator: integrator,
		linker:     fsops.OSLinker{},
		fs:         afero.NewOsFs(),
		lock:       NewFileLock(cfg.Paths.Root),
		log:        log,
	}
}

// WithFs substitutes the filesystem, for tests.
func (e *Engine) WithFs(fs afero.Fs) *Engine {
	e.fs = fs
	return e
}

// WithLinker substitutes the symlink layer, for tests.
func (e *Engine) WithLinker(l fsops.Linker) *Engine {
	e.linker = l
	return e
}

// WithLock substitutes the cross-process lock, for tests.
func (e *Engine) WithLock(l Locker) *Engine {
	e.lock = l
	return e
}

// Outcome classifies what happened to one package in a batch.
type Outcome string

const (
	OutcomeInstalled Outcome = "installed"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeRemoved   Outcome = "removed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Item is the per-package entry of a Report.
type Item struct {
	Query   string
	Package core.Package
	Outcome Outcome
	Err     error
}

// Report aggregates a batch operation. Failures are isolated per package;
// the report is how partial success surfaces.
type Report struct {
	Items []Item
}

func (r *Report) add(item Item) { r.Items = append(r.Items, item) }

// Failed reports whether any package in the batch failed.
func (r *Report) Failed() bool {
	for _, item := range r.Items {
		if item.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

// ExitCode maps the batch outcome to a process exit code: success, partial
// failure, or total failure.
func (r *Report) ExitCode() int {
	failed := 0
	for _, item := range r.Items {
		if item.Outcome == OutcomeFailed {
			failed++
		}
	}
	switch {
	case failed == 0:
		return core.ExitSuccess
	case failed == len(r.Items):
		return core.ExitGeneral
	default:
		return core.ExitPartial
	}
}

// Resolver exposes the engine's resolver for read-only callers (info, search).
func (e *Engine) Resolver() *resolver.Resolver { return e.resolver }

// Installed exposes the installed-package store for read-only callers.
func (e *Engine) Installed() *store.Store { return e.installed }
