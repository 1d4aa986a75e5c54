package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/driftpkg/drift/internal/core"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog"
)

// Registry is the read side of the registry cache the resolver consumes.
type Registry interface {
	FindByName(ctx context.Context, name string) ([]core.Package, error)
	All(ctx context.Context) ([]core.Package, error)
}

// InstalledIndex answers whether a (family, pkg_name) pair is installed.
// The engine's installed store implements it; tests use a map.
type InstalledIndex interface {
	IsInstalled(ctx context.Context, family, pkgName string) (bool, error)
}

// Resolver turns user queries into single registry candidates.
type Resolver struct {
	registry    Registry
	installed   InstalledIndex
	searchLimit int
	log         *zerolog.Logger
}

// New creates a resolver. installed may be nil when no installed store is
// available (e.g. search-only callers); installed-preference is then skipped.
func New(registry Registry, installed InstalledIndex, searchLimit int, log *zerolog.Logger) *Resolver {
	if searchLimit < 1 {
		searchLimit = 20
	}
	return &Resolver{registry: registry, installed: installed, searchLimit: searchLimit, log: log}
}

// Resolve selects exactly one candidate for a raw query, or fails.
// Disambiguation order: explicit qualifiers, then the already-installed
// variant, then lexical (repo_name, collection, family) order so the same
// query against unchanged registry state always picks the same package.
// Names match case-sensitively; suggestions are the only case-folded path.
func (r *Resolver) Resolve(ctx context.Context, raw string) (core.Package, error) {
	q := core.ParseQuery(raw)
	if q.Name == "" {
		return core.Package{}, fmt.Errorf("empty package query %q", raw)
	}

	all, err := r.registry.FindByName(ctx, q.Name)
	if err != nil {
		return core.Package{}, fmt.Errorf("resolve %q: %w", raw, err)
	}

	cands := filterByQualifiers(all, q)
	if len(cands) == 0 {
		suggestions, serr := r.suggest(ctx, q.Name)
		if serr != nil {
			r.log.Debug().Err(serr).Msg("suggestion lookup failed")
		}
		return core.Package{}, &core.NotFoundError{Query: raw, Suggestions: suggestions}
	}
	if len(cands) == 1 {
		return cands[0], nil
	}

	if q.HasQualifier() {
		// Qualifiers applied and still more than one: the registry violated
		// its own uniqueness invariant.
		return core.Package{}, &core.AmbiguousError{Query: raw, Candidates: cands, Qualified: true}
	}

	if r.installed != nil {
		narrowed, err := r.preferInstalled(ctx, cands)
		if err != nil {
			return core.Package{}, fmt.Errorf("resolve %q: %w", raw, err)
		}
		cands = narrowed
		if len(cands) == 1 {
			return cands[0], nil
		}
	}

	// The same (family, pkg_name) advertised by more than one repository
	// cannot be picked lexically; the user must say which repo they mean.
	if crossRepoDuplicate(cands) {
		return core.Package{}, &core.AmbiguousError{Query: raw, Candidates: cands}
	}

	// FindByName returns lexical (repo_name, collection, family) order.
	return cands[0], nil
}

// Search returns up to search_limit packages whose name, family or
// description fuzzily matches term, best matches first.
func (r *Resolver) Search(ctx context.Context, term string) ([]core.Package, error) {
	pkgs, err := r.registry.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", term, err)
	}

	type scored struct {
		pkg  core.Package
		rank int
	}
	var matches []scored
	for _, p := range pkgs {
		rank := bestRank(term, p.PkgName, p.Family, p.Description)
		if rank < 0 {
			continue
		}
		matches = append(matches, scored{pkg: p, rank: rank})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].rank < matches[j].rank })
	if len(matches) > r.searchLimit {
		matches = matches[:r.searchLimit]
	}

	out := make([]core.Package, len(matches))
	for i, m := range matches {
		out[i] = m.pkg
	}
	return out, nil
}

// suggest produces up to three close names for a failed lookup.
func (r *Resolver) suggest(ctx context.Context, name string) ([]string, error) {
	pkgs, err := r.registry.All(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(pkgs))
	var names []string
	for _, p := range pkgs {
		if _, ok := seen[p.PkgName]; ok {
			continue
		}
		seen[p.PkgName] = struct{}{}
		names = append(names, p.PkgName)
	}

	ranks := fuzzy.RankFindNormalizedFold(name, names)
	sort.Sort(ranks)
	var out []string
	for _, rank := range ranks {
		out = append(out, rank.Target)
		if len(out) == 3 {
			break
		}
	}
	return out, nil
}

// preferInstalled keeps only candidates whose (family, pkg_name) is already
// installed, falling back to the full set when none are.
func (r *Resolver) preferInstalled(ctx context.Context, cands []core.Package) ([]core.Package, error) {
	var kept []core.Package
	for _, c := range cands {
		ok, err := r.installed.IsInstalled(ctx, c.Family, c.PkgName)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return cands, nil
	}
	return kept, nil
}

func filterByQualifiers(pkgs []core.Package, q core.PackageQuery) []core.Package {
	var out []core.Package
	for _, p := range pkgs {
		if q.Family != "" && p.Family != q.Family {
			continue
		}
		if q.Repo != "" && p.RepoName != q.Repo {
			continue
		}
		if q.Collection != "" && p.Collection != q.Collection {
			continue
		}
		out = append(out, p)
	}
	return out
}

func crossRepoDuplicate(pkgs []core.Package) bool {
	repos := make(map[string]string, len(pkgs))
	for _, p := range pkgs {
		key := p.Family + "/" + p.PkgName
		if repo, ok := repos[key]; ok && repo != p.RepoName {
			return true
		}
		repos[key] = p.RepoName
	}
	return false
}

func bestRank(term string, fields ...string) int {
	best := -1
	for _, f := range fields {
		if f == "" {
			continue
		}
		// Substring hits rank ahead of fuzzy hits at equal distance.
		if strings.Contains(strings.ToLower(f), strings.ToLower(term)) {
			d := len(f) - len(term)
			if best < 0 || d < best {
				best = d
			}
			continue
		}
		if rank := fuzzy.RankMatchNormalizedFold(term, f); rank >= 0 {
			rank += 100
			if best < 0 || rank < best {
				best = rank
			}
		}
	}
	return best
}
