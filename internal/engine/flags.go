package engine

import (
	"context"

	"github.com/driftpkg/drift/internal/core"
)

// Pin marks or unmarks an installed package as pinned. Pinned packages are
// excluded from batch updates until unpinned or named explicitly.
func (e *Engine) Pin(ctx context.Context, query string, pinned bool) (*core.InstalledPackage, error) {
	inst, err := e.findInstalled(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := e.installed.SetPinned(ctx, inst.Family, inst.PkgName, pinned); err != nil {
		return nil, err
	}
	inst.Pinned = pinned
	return inst, nil
}

// FindInstalled resolves a query against the installed store only.
func (e *Engine) FindInstalled(ctx context.Context, query string) (*core.InstalledPackage, error) {
	return e.findInstalled(ctx, query)
}
