package engine

import (
	"context"
	"fmt"

	"github.com/driftpkg/drift/internal/core"
)

// Update re-resolves installed packages against the refreshed registry and
// converges those whose checksum changed. With no queries, every installed
// package is updated except pinned ones; naming a pinned package explicitly
// updates it anyway.
func (e *Engine) Update(ctx context.Context, queries []string) *Report {
	report := &Report{}
	var plans []plan

	if len(queries) == 0 {
		all, err := e.installed.All(ctx)
		if err != nil {
			report.add(Item{Outcome: OutcomeFailed, Err: fmt.Errorf("list installed packages: %w", err)})
			return report
		}
		for _, inst := range all {
			if inst.Pinned {
				report.add(Item{Query: inst.FullName(), Outcome: OutcomeSkipped,
					Err: fmt.Errorf("%w: excluded from batch update", core.ErrPackagePinned)})
				continue
			}
			if p, item, ok := e.planUpdate(ctx, inst.FullName(), inst); ok {
				plans = append(plans, p)
			} else if item != nil {
				report.add(*item)
			}
		}
	} else {
		for _, q := range queries {
			inst, err := e.findInstalled(ctx, q)
			if err != nil {
				report.add(Item{Query: q, Outcome: OutcomeFailed, Err: err})
				continue
			}
			if p, item, ok := e.planUpdate(ctx, q, *inst); ok {
				plans = append(plans, p)
			} else if item != nil {
				report.add(*item)
			}
		}
	}

	e.execute(ctx, plans, report)
	return report
}

// planUpdate resolves one installed package against the registry. Identical
// checksum means no work; a changed checksum becomes an update plan.
func (e *Engine) planUpdate(ctx context.Context, query string, inst core.InstalledPackage) (plan, *Item, bool) {
	pkg, err := e.resolver.Resolve(ctx, inst.FullName())
	if err != nil {
		return plan{}, &Item{Query: query, Outcome: OutcomeFailed,
			Err: fmt.Errorf("resolve %s: %w", inst.FullName(), err)}, false
	}
	if pkg.Checksum == inst.Checksum {
		return plan{}, &Item{Query: query, Package: pkg, Outcome: OutcomeUnchanged}, false
	}
	return plan{query: query, pkg: pkg, outcome: OutcomeUpdated}, nil, true
}

// findInstalled matches a query against installed rows: explicit family
// qualifier, then pkg_name, then family name. More than one match needs a
// family qualifier to split it.
func (e *Engine) findInstalled(ctx context.Context, query string) (*core.InstalledPackage, error) {
	q := core.ParseQuery(query)

	if q.Family != "" {
		return e.installed.Lookup(ctx, q.Family, q.Name)
	}

	all, err := e.installed.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list installed packages: %w", err)
	}

	var matches []core.InstalledPackage
	for _, inst := range all {
		if inst.PkgName == q.Name {
			matches = append(matches, inst)
		}
	}
	if len(matches) == 0 {
		// A bare family name selects its active variantless single install.
		for _, inst := range all {
			if inst.Family == q.Name {
				matches = append(matches, inst)
			}
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", core.ErrNotInstalled, query)
	case 1:
		return &matches[0], nil
	default:
		candidates := make([]core.Package, len(matches))
		for i, m := range matches {
			candidates[i] = core.Package{
				RepoName: m.RepoName, Collection: m.Collection,
				Family: m.Family, PkgName: m.PkgName, Pkg: m.Pkg, Checksum: m.Checksum,
			}
		}
		return nil, &core.AmbiguousError{Query: query, Candidates: candidates}
	}
}
