// Package health reconciles the installed-package store with the
// filesystem. An interrupt between symlink swap and record write leaves a
// discrepancy; detecting and repairing it is a required recovery path.
package health

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/core"
	"github.com/driftpkg/drift/internal/fsops"
	"github.com/driftpkg/drift/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// IssueKind classifies a detected inconsistency.
type IssueKind string

const (
	// IssueOrphanSymlink is an active symlink pointing into the managed
	// store with no installed row claiming its target.
	IssueOrphanSymlink IssueKind = "orphan-symlink"
	// IssueMissingArtifact is an installed row whose artifact file is gone.
	IssueMissingArtifact IssueKind = "missing-artifact"
	// IssueMissingSymlink is an installed family with no active symlink.
	IssueMissingSymlink IssueKind = "missing-symlink"
)

// Issue is one detected inconsistency with a suggested repair.
type Issue struct {
	Kind    IssueKind
	Link    string
	Target  string
	Package string
	Repair  string
	// AutoRepairable marks issues Repair fixes without guessing.
	AutoRepairable bool
}

// Checker detects and repairs store/filesystem drift.
type Checker struct {
	cfg       *config.Config
	installed *store.Store
	linker    fsops.Linker
	fs        afero.Fs
	log       *zerolog.Logger
}

// NewChecker creates a checker over the real filesystem.
func NewChecker(cfg *config.Config, installed *store.Store, log *zerolog.Logger) *Checker {
	return &Checker{
		cfg:       cfg,
		installed: installed,
		linker:    fsops.OSLinker{},
		fs:        afero.NewOsFs(),
		log:       log,
	}
}

// WithLinker substitutes the symlink layer, for tests.
func (c *Checker) WithLinker(l fsops.Linker) *Checker {
	c.linker = l
	return c
}

// WithFs substitutes the filesystem, for tests.
func (c *Checker) WithFs(fs afero.Fs) *Checker {
	c.fs = fs
	return c
}

// Check scans the bin directory and the installed store and reports every
// inconsistency found. It never mutates anything.
func (c *Checker) Check(ctx context.Context) ([]Issue, error) {
	all, err := c.installed.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list installed packages: %w", err)
	}

	byTarget := make(map[string]core.InstalledPackage, len(all))
	families := make(map[string][]core.InstalledPackage)
	for _, inst := range all {
		byTarget[inst.InstalledPath] = inst
		families[inst.LinkName()] = append(families[inst.LinkName()], inst)
	}

	var issues []Issue

	// Orphans: managed symlinks nothing in the store claims.
	links, err := c.linker.List(c.cfg.Paths.Bin)
	if err == nil {
		for _, link := range links {
			target := fsops.ActiveTarget(c.linker, link)
			if target == "" || !fsops.Inside(target, c.cfg.Paths.Packages) {
				continue
			}
			if _, ok := byTarget[target]; !ok {
				issues = append(issues, Issue{
					Kind:           IssueOrphanSymlink,
					Link:           link,
					Target:         target,
					Repair:         "remove the symlink",
					AutoRepairable: true,
				})
			}
		}
	}

	// Missing artifacts and missing family links.
	for _, inst := range all {
		if !fsops.Exists(c.fs, inst.InstalledPath) {
			issues = append(issues, Issue{
				Kind:    IssueMissingArtifact,
				Target:  inst.InstalledPath,
				Package: inst.FullName(),
				Repair:  fmt.Sprintf("reinstall %s", inst.FullName()),
			})
		}
	}
	for name, variants := range families {
		link := filepath.Join(c.cfg.Paths.Bin, name)
		if fsops.ActiveTarget(c.linker, link) != "" {
			continue
		}
		issue := Issue{
			Kind:    IssueMissingSymlink,
			Link:    link,
			Package: variants[0].FullName(),
		}
		// A single variant can be re-linked without guessing which one the
		// user meant; multiple variants need an explicit use.
		if len(variants) == 1 && fsops.Exists(c.fs, variants[0].InstalledPath) {
			issue.Target = variants[0].InstalledPath
			issue.Repair = fmt.Sprintf("re-link %s", variants[0].FullName())
			issue.AutoRepairable = true
		} else {
			issue.Repair = fmt.Sprintf("run use to pick a %s variant", name)
		}
		issues = append(issues, issue)
	}

	return issues, nil
}

// Repair fixes every auto-repairable issue and returns how many were fixed.
// Ambiguous issues are left for the user.
func (c *Checker) Repair(ctx context.Context, issues []Issue) (int, error) {
	fixed := 0
	for _, issue := range issues {
		if !issue.AutoRepairable {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fixed, err
		}

		switch issue.Kind {
		case IssueOrphanSymlink:
			if err := c.linker.Remove(issue.Link); err != nil {
				return fixed, fmt.Errorf("remove orphan %s: %w", issue.Link, err)
			}
		case IssueMissingSymlink:
			if err := fsops.Activate(c.linker, issue.Target, issue.Link, c.cfg.Paths.Packages); err != nil {
				return fixed, fmt.Errorf("re-link %s: %w", issue.Link, err)
			}
		default:
			continue
		}

		c.log.Info().Str("kind", string(issue.Kind)).Str("link", issue.Link).Msg("issue repaired")
		fixed++
	}
	return fixed, nil
}
