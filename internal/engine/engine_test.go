package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/core"
	"github.com/driftpkg/drift/internal/download"
	"github.com/driftpkg/drift/internal/fsops"
	"github.com/driftpkg/drift/internal/integrate"
	"github.com/driftpkg/drift/internal/logging"
	"github.com/driftpkg/drift/internal/resolver"
	"github.com/driftpkg/drift/internal/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
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

func (f *fakeRegistry) All(_ context.Context) ([]core.Package, error) { return f.pkgs, nil }

// fakeFetcher serves payloads from memory and counts fetches, so tests can
// assert the zero-fetch properties of reinstall and use.
type fakeFetcher struct {
	fs       afero.Fs
	payloads map[string]string
	calls    int
}

func (f *fakeFetcher) Fetch(_ context.Context, tasks []download.Task) []download.Result {
	f.calls += len(tasks)
	results := make([]download.Result, len(tasks))
	for i, t := range tasks {
		body, ok := f.payloads[t.URL]
		if !ok {
			results[i] = download.Result{Task: t, Status: download.StatusFailed,
				Err: fmt.Errorf("%w: %s", core.ErrDownloadFailed, t.URL)}
			continue
		}
		if t.Checksum != "" && t.Checksum != "null" && digest(body) != t.Checksum {
			results[i] = download.Result{Task: t, Status: download.StatusChecksumMismatch,
				Err: fmt.Errorf("%w: %s", core.ErrChecksumMismatch, t.Label)}
			continue
		}
		if err := afero.WriteFile(f.fs, t.PartPath(), []byte(body), 0o644); err != nil {
			results[i] = download.Result{Task: t, Status: download.StatusFailed, Err: err}
			continue
		}
		results[i] = download.Result{Task: t, Status: download.StatusOK, Path: t.PartPath()}
	}
	return results
}

type passAssets struct{}

func (passAssets) Resolve(_ context.Context, urlOrSpec string) (string, error) {
	return urlOrSpec, nil
}

type failingIntegrator struct{}

func (failingIntegrator) Integrate(context.Context, *core.InstalledPackage, string, string, *core.PortablePaths) (*core.IntegrationResult, error) {
	return nil, errors.New("desktop database locked")
}
func (failingIntegrator) Remove(context.Context, *core.InstalledPackage) error { return nil }

func digest(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

type fixture struct {
	engine    *Engine
	cfg       *config.Config
	fs        afero.Fs
	linker    *fsops.MemLinker
	installed *store.Store
	registry  *fakeRegistry
	fetcher   *fakeFetcher
}

func newFixture(t *testing.T, pkgs []core.Package) *fixture {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", "/xdg")
	cfg := &config.Config{Parallel: true, ParallelLimit: 2, SearchLimit: 20}
	cfg.Paths.Root = "/drift"
	cfg.Paths.Bin = "/drift/bin"
	cfg.Paths.Packages = "/drift/packages"

	fs := afero.NewMemMapFs()
	linker := fsops.NewMemLinker()
	installed, err := store.NewStore(context.Background(), t.TempDir()+"/installed.db")
	require.NoError(t, err)
	t.Cleanup(func() { installed.Close() })

	reg := &fakeRegistry{pkgs: pkgs}
	log := logging.Nop()
	res := resolver.New(reg, installed, cfg.SearchLimit, log)
	fetcher := &fakeFetcher{fs: fs, payloads: map[string]string{}}
	integ := integrate.NewDesktopIntegrator(cfg, log).WithFs(fs)

	eng := New(cfg, res, installed, fetcher, passAssets{}, integ, log).
		WithFs(fs).WithLinker(linker).WithLock(NopLock{})

	return &fixture{engine: eng, cfg: cfg, fs: fs, linker: linker,
		installed: installed, registry: reg, fetcher: fetcher}
}

func (f *fixture) addPackage(family, pkgName, body string) core.Package {
	url := "https://example.com/" + pkgName + "-" + digest(body)[:6]
	pkg := core.Package{
		RepoName: "repoA", Collection: "bin", Family: family, PkgName: pkgName,
		Pkg: "binary", Version: "1.0", DownloadURL: url, Checksum: digest(body),
	}
	f.registry.pkgs = append(f.registry.pkgs, pkg)
	f.fetcher.payloads[url] = body
	return pkg
}

func (f *fixture) linkTarget(name string) string {
	return fsops.ActiveTarget(f.linker, filepath.Join(f.cfg.Paths.Bin, name))
}

func TestInstallSinglePackage(t *testing.T) {
	f := newFixture(t, nil)
	pkg := f.addPackage("jq", "jq", "jq-binary-bytes")
	ctx := context.Background()

	report := f.engine.Install(ctx, []string{"jq"}, InstallOptions{})
	require.Len(t, report.Items, 1)
	require.NoError(t, report.Items[0].Err)
	assert.Equal(t, OutcomeInstalled, report.Items[0].Outcome)
	assert.Equal(t, core.ExitSuccess, report.ExitCode())

	artifact := pkg.ContentPath(f.cfg.Paths.Packages)
	data, err := afero.ReadFile(f.fs, artifact)
	require.NoError(t, err)
	assert.Equal(t, "jq-binary-bytes", string(data))

	assert.Equal(t, artifact, f.linkTarget("jq"))

	inst, err := f.installed.Lookup(ctx, "jq", "jq")
	require.NoError(t, err)
	assert.Equal(t, pkg.Checksum, inst.Checksum)
	assert.Equal(t, artifact, inst.InstalledPath)
}

func TestReinstallIdenticalChecksumIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	f.addPackage("jq", "jq", "jq-binary-bytes")
	ctx := context.Background()

	f.engine.Install(ctx, []string{"jq"}, InstallOptions{})
	fetchesAfterFirst := f.fetcher.calls

	report := f.engine.Install(ctx, []string{"jq"}, InstallOptions{})
	require.Len(t, report.Items, 1)
	assert.Equal(t, OutcomeUnchanged, report.Items[0].Outcome)
	assert.Equal(t, fetchesAfterFirst, f.fetcher.calls, "second install must perform zero fetches")
}

func TestInstallChecksumMismatchAborts(t *testing.T) {
	f := newFixture(t, nil)
	pkg := f.addPackage("jq", "jq", "jq-binary-bytes")
	f.fetcher.payloads[pkg.DownloadURL] = "tampered-bytes"
	ctx := context.Background()

	report := f.engine.Install(ctx, []string{"jq"}, InstallOptions{})
	require.Len(t, report.Items, 1)
	assert.Equal(t, OutcomeFailed, report.Items[0].Outcome)
	assert.ErrorIs(t, report.Items[0].Err, core.ErrChecksumMismatch)
	assert.Equal(t, core.ExitGeneral, report.ExitCode())

	assert.Empty(t, f.linkTarget("jq"), "nothing may be activated")
	_, err := f.installed.Lookup(ctx, "jq", "jq")
	assert.ErrorIs(t, err, core.ErrNotInstalled)
}

func TestInstallForeignSymlinkConflict(t *testing.T) {
	f := newFixture(t, nil)
	f.addPackage("jq", "jq", "jq-binary-bytes")
	require.NoError(t, f.linker.Symlink("/usr/bin/jq", "/drift/bin/jq"))
	ctx := context.Background()

	report := f.engine.Install(ctx, []string{"jq"}, InstallOptions{})
	require.Len(t, report.Items, 1)
	assert.Equal(t, OutcomeFailed, report.Items[0].Outcome)
	assert.ErrorIs(t, report.Items[0].Err, core.ErrForeignFileConflict)

	assert.Equal(t, "/usr/bin/jq", f.linkTarget("jq"), "foreign link untouched")
	_, err := f.installed.Lookup(ctx, "jq", "jq")
	assert.ErrorIs(t, err, core.ErrNotInstalled)
}

func TestBatchIsolatesFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.addPackage("jq", "jq", "jq-binary-bytes")
	ctx := context.Background()

	report := f.engine.Install(ctx, []string{"jq", "nosuchpkg"}, InstallOptions{})
	require.Len(t, report.Items, 2)

	byQuery := make(map[string]Item)
	for _, item := range report.Items {
		byQuery[item.Query] = item
	}
	assert.Equal(t, OutcomeInstalled, byQuery["jq"].Outcome)
	assert.Equal(t, OutcomeFailed, byQuery["nosuchpkg"].Outcome)
	assert.ErrorIs(t, byQuery["nosuchpkg"].Err, core.ErrNotFound)
	assert.Equal(t, core.ExitPartial, report.ExitCode())
}

func TestUseSwitchesVariantsWithoutFetch(t *testing.T) {
	f := newFixture(t, nil)
	p1 := f.addPackage("fam", "p1", "artifact-abc")
	p2 := f.addPackage("fam", "p2", "artifact-def")
	ctx := context.Background()

	report := f.engine.Install(ctx, []string{"p1", "p2"}, InstallOptions{})
	require.False(t, report.Failed())
	fetches := f.fetcher.calls

	inst, err := f.engine.Use(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, "p2", inst.PkgName)
	assert.Equal(t, fetches, f.fetcher.calls, "use must never fetch")

	assert.Equal(t, p2.ContentPath(f.cfg.Paths.Packages), f.linkTarget("fam"))
	assert.True(t, fsops.Exists(f.fs, p1.ContentPath(f.cfg.Paths.Packages)), "both artifacts remain")
	assert.True(t, fsops.Exists(f.fs, p2.ContentPath(f.cfg.Paths.Packages)))

	_, err = f.engine.Use(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, p1.ContentPath(f.cfg.Paths.Packages), f.linkTarget("fam"))
}

func TestUseUninstalledVariantFails(t *testing.T) {
	f := newFixture(t, nil)
	f.addPackage("fam", "p1", "artifact-abc")
	ctx := context.Background()

	f.engine.Install(ctx, []string{"p1"}, InstallOptions{})
	_, err := f.engine.Use(ctx, "p9")
	assert.ErrorIs(t, err, core.ErrNotInstalled)
}

func TestUpdateUnchangedChecksumIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	f.addPackage("jq", "jq", "jq-binary-bytes")
	ctx := context.Background()

	f.engine.Install(ctx, []string{"jq"}, InstallOptions{})
	fetches := f.fetcher.calls

	report := f.engine.Update(ctx, nil)
	require.Len(t, report.Items, 1)
	assert.Equal(t, OutcomeUnchanged, report.Items[0].Outcome)
	assert.Equal(t, fetches, f.fetcher.calls)
}

func TestUpdateChangedChecksumRetainsPreviousArtifact(t *testing.T) {
	f := newFixture(t, nil)
	old := f.addPackage("jq", "jq", "jq-v1-bytes")
	ctx := context.Background()

	f.engine.Install(ctx, []string{"jq"}, InstallOptions{})

	// Registry now advertises a new build.
	f.registry.pkgs = nil
	next := f.addPackage("jq", "jq", "jq-v2-bytes")

	report := f.engine.Update(ctx, nil)
	require.Len(t, report.Items, 1)
	require.NoError(t, report.Items[0].Err)
	assert.Equal(t, OutcomeUpdated, report.Items[0].Outcome)

	assert.Equal(t, next.ContentPath(f.cfg.Paths.Packages), f.linkTarget("jq"))
	assert.True(t, fsops.Exists(f.fs, old.ContentPath(f.cfg.Paths.Packages)),
		"previous artifact retained for rollback")

	inst, err := f.installed.Lookup(ctx, "jq", "jq")
	require.NoError(t, err)
	assert.Equal(t, next.Checksum, inst.Checksum)
}

func TestUpdateSkipsPinnedUnlessNamed(t *testing.T) {
	f := newFixture(t, nil)
	f.addPackage("jq", "jq", "jq-v1-bytes")
	ctx := context.Background()

	f.engine.Install(ctx, []string{"jq"}, InstallOptions{})
	require.NoError(t, f.installed.SetPinned(ctx, "jq", "jq", true))

	f.registry.pkgs = nil
	next := f.addPackage("jq", "jq", "jq-v2-bytes")

	report := f.engine.Update(ctx, nil)
	require.Len(t, report.Items, 1)
	assert.Equal(t, OutcomeSkipped, report.Items[0].Outcome)
	assert.ErrorIs(t, report.Items[0].Err, core.ErrPackagePinned)

	inst, _ := f.installed.Lookup(ctx, "jq", "jq")
	assert.NotEqual(t, next.Checksum, inst.Checksum, "pinned package untouched by batch")

	// Naming it explicitly overrides the pin.
	report = f.engine.Update(ctx, []string{"jq"})
	require.Len(t, report.Items, 1)
	assert.Equal(t, OutcomeUpdated, report.Items[0].Outcome)
}

func TestRemove(t *testing.T) {
	f := newFixture(t, nil)
	pkg := f.addPackage("jq", "jq", "jq-binary-bytes")
	ctx := context.Background()

	f.engine.Install(ctx, []string{"jq"}, InstallOptions{})

	report := f.engine.Remove(ctx, []string{"jq"}, RemoveOptions{})
	require.Len(t, report.Items, 1)
	assert.Equal(t, OutcomeRemoved, report.Items[0].Outcome)

	assert.Empty(t, f.linkTarget("jq"))
	assert.False(t, fsops.Exists(f.fs, pkg.ContentPath(f.cfg.Paths.Packages)),
		"unreferenced artifact garbage-collected")
	_, err := f.installed.Lookup(ctx, "jq", "jq")
	assert.ErrorIs(t, err, core.ErrNotInstalled)
}

func TestRemovePinnedRejectedWithoutForce(t *testing.T) {
	f := newFixture(t, nil)
	pkg := f.addPackage("jq", "jq", "jq-binary-bytes")
	ctx := context.Background()

	f.engine.Install(ctx, []string{"jq"}, InstallOptions{})
	require.NoError(t, f.installed.SetPinned(ctx, "jq", "jq", true))

	report := f.engine.Remove(ctx, []string{"jq"}, RemoveOptions{})
	require.Len(t, report.Items, 1)
	assert.Equal(t, OutcomeFailed, report.Items[0].Outcome)
	assert.ErrorIs(t, report.Items[0].Err, core.ErrPackagePinned)

	// Store and filesystem fully unchanged.
	_, err := f.installed.Lookup(ctx, "jq", "jq")
	require.NoError(t, err)
	assert.True(t, fsops.Exists(f.fs, pkg.ContentPath(f.cfg.Paths.Packages)))
	assert.NotEmpty(t, f.linkTarget("jq"))

	report = f.engine.Remove(ctx, []string{"jq"}, RemoveOptions{Force: true})
	assert.Equal(t, OutcomeRemoved, report.Items[0].Outcome)
}

func TestRemoveKeepsArtifactWhileReferenced(t *testing.T) {
	f := newFixture(t, nil)
	body := "shared-artifact-bytes"
	a := f.addPackage("famA", "tool-a", body)
	b := f.addPackage("famB", "tool-b", body)
	require.Equal(t, a.Checksum, b.Checksum)
	ctx := context.Background()

	report := f.engine.Install(ctx, []string{"tool-a", "tool-b"}, InstallOptions{})
	require.False(t, report.Failed())

	f.engine.Remove(ctx, []string{"tool-a"}, RemoveOptions{})
	assert.True(t, fsops.Exists(f.fs, b.ContentPath(f.cfg.Paths.Packages)),
		"artifact still referenced by famB")

	f.engine.Remove(ctx, []string{"tool-b"}, RemoveOptions{})
	assert.False(t, fsops.Exists(f.fs, b.ContentPath(f.cfg.Paths.Packages)))
}

func TestInstallReusesStagedArtifactAcrossFamilies(t *testing.T) {
	f := newFixture(t, nil)
	body := "shared-artifact-bytes"
	f.addPackage("famA", "tool-a", body)
	f.addPackage("famB", "tool-b", body)
	ctx := context.Background()

	f.engine.Install(ctx, []string{"tool-a"}, InstallOptions{})
	fetches := f.fetcher.calls

	report := f.engine.Install(ctx, []string{"tool-b"}, InstallOptions{})
	require.False(t, report.Failed())
	assert.Equal(t, fetches, f.fetcher.calls, "identical checksum must reuse the staged artifact")

	inst, err := f.installed.Lookup(ctx, "famB", "tool-b")
	require.NoError(t, err)
	data, err := afero.ReadFile(f.fs, inst.InstalledPath)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestIntegrationFailureRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.addPackage("firefox", "firefox-nightly", "appimage-bytes")
	for i := range f.registry.pkgs {
		f.registry.pkgs[i].Pkg = "appimage"
	}
	f.engine.integrator = failingIntegrator{}
	ctx := context.Background()

	report := f.engine.Install(ctx, []string{"firefox-nightly"}, InstallOptions{})
	require.Len(t, report.Items, 1)
	assert.Equal(t, OutcomeFailed, report.Items[0].Outcome)

	assert.Empty(t, f.linkTarget("firefox"), "activation rolled back")
	_, err := f.installed.Lookup(ctx, "firefox", "firefox-nightly")
	assert.ErrorIs(t, err, core.ErrNotInstalled)
}

func TestRemoveNonActiveVariantKeepsIntegration(t *testing.T) {
	f := newFixture(t, nil)
	f.addPackage("firefox", "firefox-stable", "stable-bytes")
	f.addPackage("firefox", "firefox-nightly", "nightly-bytes")
	for i := range f.registry.pkgs {
		f.registry.pkgs[i].Pkg = "appimage"
	}
	ctx := context.Background()

	report := f.engine.Install(ctx, []string{"firefox-stable", "firefox-nightly"}, InstallOptions{})
	require.False(t, report.Failed())

	_, err := f.engine.Use(ctx, "firefox-nightly")
	require.NoError(t, err)

	desktop := "/xdg/applications/drift-firefox.desktop"
	require.True(t, fsops.Exists(f.fs, desktop))

	report = f.engine.Remove(ctx, []string{"firefox-stable"}, RemoveOptions{})
	require.Equal(t, OutcomeRemoved, report.Items[0].Outcome)
	assert.True(t, fsops.Exists(f.fs, desktop), "active variant keeps its desktop entry")
	assert.NotEmpty(t, f.linkTarget("firefox"), "active variant stays linked")

	// The last variant takes the integration with it.
	report = f.engine.Remove(ctx, []string{"firefox-nightly"}, RemoveOptions{})
	require.Equal(t, OutcomeRemoved, report.Items[0].Outcome)
	assert.False(t, fsops.Exists(f.fs, desktop))
}

func TestInstallFetchesRegistryIcon(t *testing.T) {
	f := newFixture(t, nil)
	pkg := f.addPackage("firefox", "firefox-nightly", "appimage-bytes")
	iconURL := "https://example.com/firefox.png"
	for i := range f.registry.pkgs {
		f.registry.pkgs[i].Pkg = "appimage"
		f.registry.pkgs[i].Icon = iconURL
	}
	f.fetcher.payloads[iconURL] = "png-bytes"
	ctx := context.Background()

	report := f.engine.Install(ctx, []string{"firefox-nightly"}, InstallOptions{})
	require.Len(t, report.Items, 1)
	require.NoError(t, report.Items[0].Err)

	// Icon staged beside the artifact, installed into the theme, and named
	// by the desktop entry.
	staged := filepath.Join(pkg.ContentDir(f.cfg.Paths.Packages), "icon.png")
	data, err := afero.ReadFile(f.fs, staged)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	themed := "/xdg/icons/hicolor/256x256/apps/drift-firefox.png"
	assert.True(t, fsops.Exists(f.fs, themed))

	entry, err := afero.ReadFile(f.fs, "/xdg/applications/drift-firefox.desktop")
	require.NoError(t, err)
	assert.Contains(t, string(entry), "Icon="+themed)
}

func TestInstallContinuesWhenIconFetchFails(t *testing.T) {
	f := newFixture(t, nil)
	f.addPackage("firefox", "firefox-nightly", "appimage-bytes")
	for i := range f.registry.pkgs {
		f.registry.pkgs[i].Pkg = "appimage"
		f.registry.pkgs[i].Icon = "https://example.com/unreachable.png"
	}
	ctx := context.Background()

	report := f.engine.Install(ctx, []string{"firefox-nightly"}, InstallOptions{})
	require.Len(t, report.Items, 1)
	require.NoError(t, report.Items[0].Err, "icon failure must not fail the install")
	assert.Equal(t, OutcomeInstalled, report.Items[0].Outcome)

	entry, err := afero.ReadFile(f.fs, "/xdg/applications/drift-firefox.desktop")
	require.NoError(t, err)
	assert.NotContains(t, string(entry), "Icon=")
}

func TestStagingDecompressesXZPayload(t *testing.T) {
	f := newFixture(t, nil)

	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte("uncompressed-binary"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	compressed := buf.String()

	url := "https://example.com/tool.xz"
	pkg := core.Package{
		RepoName: "repoA", Collection: "bin", Family: "tool", PkgName: "tool",
		Pkg: "binary", DownloadURL: url, Checksum: digest(compressed),
	}
	f.registry.pkgs = append(f.registry.pkgs, pkg)
	f.fetcher.payloads[url] = compressed
	ctx := context.Background()

	report := f.engine.Install(ctx, []string{"tool"}, InstallOptions{})
	require.Len(t, report.Items, 1)
	require.NoError(t, report.Items[0].Err)

	data, err := afero.ReadFile(f.fs, pkg.ContentPath(f.cfg.Paths.Packages))
	require.NoError(t, err)
	assert.Equal(t, "uncompressed-binary", string(data), "artifact stored decompressed")
}

func TestMissingChecksumInstallsWithWarning(t *testing.T) {
	f := newFixture(t, nil)
	pkg := f.addPackage("jq", "jq", "jq-binary-bytes")
	for i := range f.registry.pkgs {
		f.registry.pkgs[i].Checksum = "null"
	}
	f.fetcher.payloads[pkg.DownloadURL] = "jq-binary-bytes"
	ctx := context.Background()

	report := f.engine.Install(ctx, []string{"jq"}, InstallOptions{})
	require.Len(t, report.Items, 1)
	require.NoError(t, report.Items[0].Err)
	assert.Equal(t, OutcomeInstalled, report.Items[0].Outcome)
}
