package resolver

import (
	"context"
	"testing"

	"github.com/driftpkg/drift/internal/core"
	"github.com/driftpkg/drift/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	pkgs []core.Package
}

func (f *fakeRegistry) FindByName(_ context.Context, name string) ([]core.Package, error) {
	var out []core.Package
	for _, p := range f.pkgs {
		if p.PkgName == name {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRegistry) All(_ context.Context) ([]core.Package, error) {
	return f.pkgs, nil
}

type fakeInstalled map[string]bool

func (f fakeInstalled) IsInstalled(_ context.Context, family, pkgName string) (bool, error) {
	return f[family+"/"+pkgName], nil
}

func pkg(repo, collection, family, name string) core.Package {
	return core.Package{
		RepoName: repo, Collection: collection, Family: family, PkgName: name,
		Pkg: "binary", DownloadURL: "https://example.com/" + name, Checksum: "cc",
	}
}

func newResolver(reg *fakeRegistry, inst fakeInstalled) *Resolver {
	return New(reg, inst, 20, logging.Nop())
}

func TestResolveSingleCandidate(t *testing.T) {
	reg := &fakeRegistry{pkgs: []core.Package{pkg("repoA", "bin", "jq", "jq")}}
	r := newResolver(reg, fakeInstalled{})

	got, err := r.Resolve(context.Background(), "jq")
	require.NoError(t, err)
	assert.Equal(t, "jq", got.PkgName)
}

func TestResolveCaseSensitive(t *testing.T) {
	reg := &fakeRegistry{pkgs: []core.Package{pkg("repoA", "bin", "jq", "jq")}}
	r := newResolver(reg, fakeInstalled{})

	_, err := r.Resolve(context.Background(), "JQ")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)

	// The case-folded prefilter still suggests the real name.
	var nf *core.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Contains(t, nf.Suggestions, "jq")
}

func TestResolveQualifierFilters(t *testing.T) {
	reg := &fakeRegistry{pkgs: []core.Package{
		pkg("repoA", "bin", "gnu", "grep"),
		pkg("repoB", "bin", "busybox", "grep"),
	}}
	r := newResolver(reg, fakeInstalled{})
	ctx := context.Background()

	got, err := r.Resolve(ctx, "grep@repoB")
	require.NoError(t, err)
	assert.Equal(t, "busybox", got.Family)

	got, err = r.Resolve(ctx, "gnu/grep")
	require.NoError(t, err)
	assert.Equal(t, "repoA", got.RepoName)

	_, err = r.Resolve(ctx, "grep@nosuch")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestResolvePrefersInstalled(t *testing.T) {
	reg := &fakeRegistry{pkgs: []core.Package{
		pkg("repoA", "bin", "gnu", "grep"),
		pkg("repoB", "bin", "busybox", "grep"),
	}}
	r := newResolver(reg, fakeInstalled{"busybox/grep": true})

	got, err := r.Resolve(context.Background(), "grep")
	require.NoError(t, err)
	assert.Equal(t, "busybox", got.Family)
}

func TestResolveLexicalFallback(t *testing.T) {
	// Distinct families, none installed: first in (repo, collection, family)
	// order wins, and keeps winning on repeat.
	reg := &fakeRegistry{pkgs: []core.Package{
		pkg("repoA", "bin", "gnu", "grep"),
		pkg("repoB", "bin", "busybox", "grep"),
	}}
	r := newResolver(reg, fakeInstalled{})

	for i := 0; i < 3; i++ {
		got, err := r.Resolve(context.Background(), "grep")
		require.NoError(t, err)
		assert.Equal(t, "repoA", got.RepoName)
	}
}

func TestResolveCrossRepoDuplicateIsAmbiguous(t *testing.T) {
	reg := &fakeRegistry{pkgs: []core.Package{
		pkg("repoA", "bin", "jq", "jq"),
		pkg("repoB", "bin", "jq", "jq"),
	}}
	r := newResolver(reg, fakeInstalled{})

	_, err := r.Resolve(context.Background(), "jq")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrAmbiguousQuery)

	var amb *core.AmbiguousError
	require.ErrorAs(t, err, &amb)
	assert.Len(t, amb.Candidates, 2)
	assert.False(t, amb.Qualified)

	// Repo qualifier resolves it.
	got, err := r.Resolve(context.Background(), "jq@repoB")
	require.NoError(t, err)
	assert.Equal(t, "repoB", got.RepoName)
}

func TestResolveAmbiguousEvenWithQualifier(t *testing.T) {
	// Two collections in one repo carrying the same family/pkg_name pair:
	// the @repo qualifier cannot split them.
	reg := &fakeRegistry{pkgs: []core.Package{
		pkg("repoA", "bin", "jq", "jq"),
		pkg("repoA", "pkg", "jq", "jq"),
	}}
	r := newResolver(reg, fakeInstalled{})

	_, err := r.Resolve(context.Background(), "jq@repoA")
	require.Error(t, err)

	var amb *core.AmbiguousError
	require.ErrorAs(t, err, &amb)
	assert.True(t, amb.Qualified)

	got, err := r.Resolve(context.Background(), "jq@repoA#pkg")
	require.NoError(t, err)
	assert.Equal(t, "pkg", got.Collection)
}

func TestResolveNilInstalledIndex(t *testing.T) {
	reg := &fakeRegistry{pkgs: []core.Package{pkg("repoA", "bin", "jq", "jq")}}
	r := New(reg, nil, 20, logging.Nop())

	got, err := r.Resolve(context.Background(), "jq")
	require.NoError(t, err)
	assert.Equal(t, "jq", got.PkgName)
}

func TestSearchFuzzyAndLimited(t *testing.T) {
	reg := &fakeRegistry{pkgs: []core.Package{
		pkg("repoA", "bin", "ripgrep", "ripgrep"),
		pkg("repoA", "bin", "gnu", "grep"),
		pkg("repoA", "bin", "jq", "jq"),
	}}
	r := New(reg, nil, 2, logging.Nop())

	got, err := r.Search(context.Background(), "grep")
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Exact name beats the longer substring hit.
	assert.Equal(t, "grep", got[0].PkgName)
	assert.Equal(t, "ripgrep", got[1].PkgName)
}

func TestSearchCaseInsensitive(t *testing.T) {
	reg := &fakeRegistry{pkgs: []core.Package{pkg("repoA", "bin", "jq", "jq")}}
	r := newResolver(reg, fakeInstalled{})

	got, err := r.Search(context.Background(), "JQ")
	require.NoError(t, err)
	require.Len(t, got, 1)
}
