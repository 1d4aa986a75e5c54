package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/driftpkg/drift/internal/core"
	"github.com/driftpkg/drift/internal/download"
	"github.com/driftpkg/drift/internal/fsops"
)

// InstallOptions tunes a batch install.
type InstallOptions struct {
	// Force re-runs the full cycle even when the identical checksum is
	// already recorded.
	Force bool
}

// plan is one package the engine has decided to converge.
type plan struct {
	query   string
	pkg     core.Package
	outcome Outcome // success label: installed or updated
}

// Install resolves and installs a batch of queries. Installing an identical
// checksum again is a no-op with zero network fetches; failures are isolated
// per package.
func (e *Engine) Install(ctx context.Context, queries []string, opts InstallOptions) *Report {
	report := &Report{}
	var plans []plan

	for _, q := range queries {
		pkg, err := e.resolver.Resolve(ctx, q)
		if err != nil {
			report.add(Item{Query: q, Outcome: OutcomeFailed, Err: err})
			continue
		}

		if !opts.Force {
			inst, err := e.installed.Lookup(ctx, pkg.Family, pkg.PkgName)
			if err != nil && !errors.Is(err, core.ErrNotInstalled) {
				report.add(Item{Query: q, Package: pkg, Outcome: OutcomeFailed, Err: err})
				continue
			}
			if inst != nil && inst.Checksum == pkg.Checksum {
				report.add(Item{Query: q, Package: pkg, Outcome: OutcomeUnchanged})
				continue
			}
		}
		plans = append(plans, plan{query: q, pkg: pkg, outcome: OutcomeInstalled})
	}

	e.execute(ctx, plans, report)
	return report
}

// execute runs the Fetching→Verified→Staged→Activated→Recorded tail of the
// state machine for a set of plans, appending one item per plan.
func (e *Engine) execute(ctx context.Context, plans []plan, report *Report) {
	// Fetch phase: one batch so independent downloads share the pool.
	// Registry-advertised icons ride along as unverified side tasks.
	type owner struct {
		plan int
		icon bool
	}
	var tasks []download.Task
	owners := make([]owner, 0, len(plans))
	skip := make(map[int]error, len(plans))
	icons := make([]string, len(plans))

	for i := range plans {
		reused, err := e.reuseStaged(ctx, plans[i].pkg)
		if err != nil {
			skip[i] = err
			continue
		}
		if !reused {
			url, err := e.assets.Resolve(ctx, plans[i].pkg.DownloadURL)
			if err != nil {
				skip[i] = err
				continue
			}
			tasks = append(tasks, download.Task{
				URL:         url,
				Destination: plans[i].pkg.ContentPath(e.cfg.Paths.Packages),
				Checksum:    plans[i].pkg.Checksum,
				Size:        plans[i].pkg.Size,
				Label:       plans[i].pkg.FullName(),
			})
			owners = append(owners, owner{plan: i})
		}

		if plans[i].pkg.Icon != "" && plans[i].pkg.Kind() != core.KindBinary {
			dest := iconTarget(plans[i].pkg, e.cfg.Paths.Packages)
			if fsops.Exists(e.fs, dest) {
				icons[i] = dest
				continue
			}
			tasks = append(tasks, download.Task{
				URL:         plans[i].pkg.Icon,
				Destination: dest,
				Label:       plans[i].pkg.FullName() + " icon",
			})
			owners = append(owners, owner{plan: i, icon: true})
		}
	}

	fetched := make(map[int]download.Result, len(tasks))
	if len(tasks) > 0 {
		results := e.fetch.Fetch(ctx, tasks)
		for j, res := range results {
			o := owners[j]
			if !o.icon {
				fetched[o.plan] = res
				continue
			}
			// A failed icon degrades to an entry without an Icon key.
			if res.Status != download.StatusOK {
				e.log.Warn().Str("package", plans[o.plan].pkg.FullName()).Err(res.Err).
					Msg("icon fetch failed, continuing without")
				continue
			}
			dest := iconTarget(plans[o.plan].pkg, e.cfg.Paths.Packages)
			if err := fsops.PromoteTemp(e.fs, res.Path, dest); err != nil {
				e.log.Warn().Err(err).Str("icon", dest).Msg("icon staging failed, continuing without")
				continue
			}
			icons[o.plan] = dest
		}
	}

	// Activation phase: short critical section under the cross-process lock.
	release, err := e.lock.Lock(ctx)
	if err != nil {
		for _, p := range plans {
			report.add(Item{Query: p.query, Package: p.pkg, Outcome: OutcomeFailed, Err: err})
		}
		return
	}
	defer release()

	for i, p := range plans {
		item := Item{Query: p.query, Package: p.pkg, Outcome: p.outcome}

		if err, failed := skip[i]; failed {
			item.Outcome, item.Err = OutcomeFailed, err
			report.add(item)
			continue
		}
		if res, ok := fetched[i]; ok {
			if res.Status != download.StatusOK {
				item.Outcome, item.Err = OutcomeFailed, res.Err
				report.add(item)
				continue
			}
			if _, err := e.stage(p.pkg, res.Path); err != nil {
				item.Outcome, item.Err = OutcomeFailed, err
				report.add(item)
				continue
			}
		}

		if err := e.activateAndRecord(ctx, p.pkg, icons[i]); err != nil {
			item.Outcome, item.Err = OutcomeFailed, err
			report.add(item)
			continue
		}

		e.log.Info().Str("package", p.pkg.FullName()).Str("version", p.pkg.Version).
			Str("outcome", string(item.Outcome)).Msg("package converged")
		report.add(item)
	}
}

// activateAndRecord is the Staged→Activated→Recorded transition: atomic
// symlink swap, integration, then the store upsert. Integration failure
// rolls the symlink back to its previous target.
func (e *Engine) activateAndRecord(ctx context.Context, pkg core.Package, iconPath string) error {
	target := pkg.ContentPath(e.cfg.Paths.Packages)
	if !fsops.Exists(e.fs, target) {
		return fmt.Errorf("%w: staged artifact missing at %s", core.ErrStoreCorruption, target)
	}

	if err := fsops.EnsureDir(e.fs, e.cfg.Paths.Bin, 0o755); err != nil {
		return err
	}
	link := filepath.Join(e.cfg.Paths.Bin, pkg.LinkName())
	previous := fsops.ActiveTarget(e.linker, link)

	if err := fsops.Activate(e.linker, target, link, e.cfg.Paths.Packages); err != nil {
		return err
	}

	inst := snapshot(pkg, target)

	var portable *core.PortablePaths
	if installed, err := e.installed.IsInstalled(ctx, pkg.Family, pkg.PkgName); err == nil && installed {
		portable, _ = e.installed.Portable(ctx, pkg.Family, pkg.PkgName)
	}

	if _, err := e.integrator.Integrate(ctx, &inst, link, iconPath, portable); err != nil {
		e.rollbackActivation(link, target, previous)
		return fmt.Errorf("integrate %s: %w", pkg.FullName(), err)
	}

	if err := e.installed.Record(ctx, inst); err != nil {
		e.rollbackActivation(link, target, previous)
		return err
	}
	return nil
}

func (e *Engine) rollbackActivation(link, target, previous string) {
	if previous != "" {
		_ = fsops.Activate(e.linker, previous, link, e.cfg.Paths.Packages)
		return
	}
	_ = fsops.Deactivate(e.linker, link, target)
}

// snapshot freezes a registry row into an installed-side record, decoupled
// from future registry churn.
func snapshot(pkg core.Package, installedPath string) core.InstalledPackage {
	return core.InstalledPackage{
		RepoName:      pkg.RepoName,
		Collection:    pkg.Collection,
		Family:        pkg.Family,
		PkgName:       pkg.PkgName,
		Pkg:           pkg.Pkg,
		PkgID:         pkg.PkgID,
		AppID:         pkg.AppID,
		Version:       pkg.Version,
		Size:          pkg.Size,
		Checksum:      pkg.Checksum,
		InstalledPath: installedPath,
		InstalledDate: time.Now().UTC(),
	}
}
