package cmd

import (
	"context"
	"fmt"

	"github.com/driftpkg/drift/internal/assets"
	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/download"
	"github.com/driftpkg/drift/internal/engine"
	"github.com/driftpkg/drift/internal/integrate"
	"github.com/driftpkg/drift/internal/registry"
	"github.com/driftpkg/drift/internal/resolver"
	"github.com/driftpkg/drift/internal/store"
	"github.com/rs/zerolog"
)

// deps is the wired component graph commands run against. Commands open it
// inside RunE and close it when done.
type deps struct {
	registry  *registry.Store
	installed *store.Store
	resolver  *resolver.Resolver
	engine    *engine.Engine
}

func openDeps(ctx context.Context, cfg *config.Config, log *zerolog.Logger) (*deps, error) {
	reg, err := registry.NewStore(ctx, cfg.Paths.RegistryDB)
	if err != nil {
		return nil, fmt.Errorf("open registry store: %w", err)
	}
	installed, err := store.NewStore(ctx, cfg.Paths.InstalledDB)
	if err != nil {
		reg.Close()
		return nil, fmt.Errorf("open installed store: %w", err)
	}

	res := resolver.New(reg, installed, cfg.SearchLimit, log)
	eng := engine.New(cfg, res, installed,
		download.NewScheduler(cfg, log),
		assets.NewResolver(log),
		integrate.NewDesktopIntegrator(cfg, log),
		log)

	return &deps{registry: reg, installed: installed, resolver: res, engine: eng}, nil
}

func (d *deps) close() {
	d.installed.Close()
	d.registry.Close()
}
