package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/driftpkg/drift/internal/core"
	"github.com/driftpkg/drift/internal/fsops"
)

// Use repoints a family's active symlink at an already-installed variant.
// Pure activation: the download scheduler is never touched. The query names
// the variant ("firefox-nightly" or "firefox/firefox-nightly").
func (e *Engine) Use(ctx context.Context, query string) (*core.InstalledPackage, error) {
	inst, err := e.findInstalled(ctx, query)
	if err != nil {
		return nil, err
	}

	if !fsops.Exists(e.fs, inst.InstalledPath) {
		return nil, fmt.Errorf("%w: artifact for %s missing at %s",
			core.ErrStoreCorruption, inst.FullName(), inst.InstalledPath)
	}

	release, err := e.lock.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	link := filepath.Join(e.cfg.Paths.Bin, inst.LinkName())
	if err := fsops.Activate(e.linker, inst.InstalledPath, link, e.cfg.Paths.Packages); err != nil {
		return nil, err
	}

	e.log.Info().Str("package", inst.FullName()).Str("link", link).Msg("variant activated")
	return inst, nil
}

// ActiveVariant returns the installed variant a family's symlink currently
// points at, or nil when the link is absent or unmanaged.
func (e *Engine) ActiveVariant(ctx context.Context, family string) (*core.InstalledPackage, error) {
	link := filepath.Join(e.cfg.Paths.Bin, family)
	target := fsops.ActiveTarget(e.linker, link)
	if target == "" {
		return nil, nil
	}

	variants, err := e.installed.ByFamily(ctx, family)
	if err != nil {
		return nil, err
	}
	for i := range variants {
		if variants[i].InstalledPath == target {
			return &variants[i], nil
		}
	}
	return nil, nil
}
