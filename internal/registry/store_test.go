package registry

import (
	"context"
	"testing"

	"github.com/driftpkg/drift/internal/core"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := NewStore(ctx, t.TempDir()+"/registry.db")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePackages(repo string) []core.Package {
	return []core.Package{
		{
			RepoName: repo, Collection: "bin", Family: "jq", PkgName: "jq",
			Pkg: "binary", Version: "1.7", DownloadURL: "https://example.com/jq",
			Checksum: "aaaa",
		},
		{
			RepoName: repo, Collection: "pkg", Family: "firefox", PkgName: "firefox-nightly",
			Pkg: "appimage", Version: "130", DownloadURL: "https://example.com/ff",
			Checksum: "bbbb",
		},
	}
}

func TestReplaceAndQuery(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	err := s.ReplaceRepository(ctx, "repoA", "https://a", "digest1", samplePackages("repoA"), nil)
	if err != nil {
		t.Fatalf("ReplaceRepository() error = %v", err)
	}

	pkgs, err := s.FindByName(ctx, "jq")
	if err != nil {
		t.Fatalf("FindByName() error = %v", err)
	}
	if len(pkgs) != 1 {
		t.Fatalf("FindByName(jq) = %d packages, want 1", len(pkgs))
	}
	if pkgs[0].Version != "1.7" || pkgs[0].Collection != "bin" {
		t.Errorf("unexpected package: %+v", pkgs[0])
	}

	// Case-sensitive: JQ must not match.
	pkgs, err = s.FindByName(ctx, "JQ")
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) != 0 {
		t.Errorf("FindByName(JQ) = %d packages, want 0 (case-sensitive)", len(pkgs))
	}
}

func TestReplaceRepositoryIsAtomicSwap(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	if err := s.ReplaceRepository(ctx, "repoA", "https://a", "d1", samplePackages("repoA"), nil); err != nil {
		t.Fatal(err)
	}

	// Second sync drops jq and keeps only firefox.
	next := samplePackages("repoA")[1:]
	if err := s.ReplaceRepository(ctx, "repoA", "https://a", "d2", next, nil); err != nil {
		t.Fatal(err)
	}

	pkgs, err := s.ByRepository(ctx, "repoA")
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) != 1 || pkgs[0].PkgName != "firefox-nightly" {
		t.Errorf("row-set not fully replaced: %+v", pkgs)
	}

	digest, err := s.RepositoryDigest(ctx, "repoA")
	if err != nil {
		t.Fatal(err)
	}
	if digest != "d2" {
		t.Errorf("digest = %q, want d2", digest)
	}
}

func TestReplaceRepositoryDoesNotTouchOtherRepos(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	if err := s.ReplaceRepository(ctx, "repoA", "https://a", "d1", samplePackages("repoA"), nil); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceRepository(ctx, "repoB", "https://b", "d1", samplePackages("repoB"), nil); err != nil {
		t.Fatal(err)
	}

	if err := s.ReplaceRepository(ctx, "repoA", "https://a", "d2", nil, nil); err != nil {
		t.Fatal(err)
	}

	pkgs, err := s.ByRepository(ctx, "repoB")
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) != 2 {
		t.Errorf("repoB rows affected by repoA sync: %d rows", len(pkgs))
	}
}

func TestProvidesSurfaceCandidates(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	pkgs := samplePackages("repoA")
	provides := []Provide{{RepoName: "repoA", Family: "firefox", PkgName: "firefox-nightly", ProvideName: "browser"}}
	if err := s.ReplaceRepository(ctx, "repoA", "https://a", "d1", pkgs, provides); err != nil {
		t.Fatal(err)
	}

	found, err := s.FindByName(ctx, "browser")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].PkgName != "firefox-nightly" {
		t.Errorf("provides lookup = %+v, want firefox-nightly", found)
	}
}

func TestDeterministicOrdering(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	mk := func(repo, collection, family string) core.Package {
		return core.Package{
			RepoName: repo, Collection: collection, Family: family, PkgName: "tool",
			Pkg: "binary", DownloadURL: "https://example.com/tool", Checksum: "cc",
		}
	}
	if err := s.ReplaceRepository(ctx, "zeta", "https://z", "d", []core.Package{mk("zeta", "bin", "b")}, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceRepository(ctx, "alpha", "https://a", "d", []core.Package{mk("alpha", "bin", "a")}, nil); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		pkgs, err := s.FindByName(ctx, "tool")
		if err != nil {
			t.Fatal(err)
		}
		if len(pkgs) != 2 {
			t.Fatalf("len = %d, want 2", len(pkgs))
		}
		if pkgs[0].RepoName != "alpha" || pkgs[1].RepoName != "zeta" {
			t.Errorf("ordering not lexical by repo: %s, %s", pkgs[0].RepoName, pkgs[1].RepoName)
		}
	}
}
