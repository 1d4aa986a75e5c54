package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/core"
	"github.com/driftpkg/drift/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMetadata = `{
  "bin": [
    {"pkg": "binary", "pkg_name": "jq", "family": "jq", "version": "1.7",
     "download_url": "https://example.com/jq", "checksum": "aaaa"},
    {"pkg": "appimage", "pkg_name": "firefox-nightly", "family": "firefox", "version": "130",
     "download_url": "https://example.com/ff", "checksum": "bbbb",
     "provides": ["browser"]}
  ]
}`

func TestParseMetadata(t *testing.T) {
	pkgs, provides, err := ParseMetadata("repoA", []byte(sampleMetadata))
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	require.Len(t, provides, 1)

	assert.Equal(t, "repoA", pkgs[0].RepoName)
	assert.Equal(t, "bin", pkgs[0].Collection)
	assert.Equal(t, "browser", provides[0].ProvideName)
	assert.Equal(t, "firefox-nightly", provides[0].PkgName)
}

func TestParseMetadataRejectsMissingFields(t *testing.T) {
	_, _, err := ParseMetadata("repoA", []byte(`{"bin": [{"pkg_name": "jq"}]}`))
	assert.Error(t, err)

	_, _, err = ParseMetadata("repoA", []byte(`{"bin": [{"download_url": "https://x"}]}`))
	assert.Error(t, err)
}

func TestParseMetadataRejectsDuplicates(t *testing.T) {
	doc := `{"bin": [
	  {"pkg_name": "jq", "family": "jq", "download_url": "https://x"},
	  {"pkg_name": "jq", "family": "jq", "download_url": "https://y"}
	]}`
	_, _, err := ParseMetadata("repoA", []byte(doc))
	assert.ErrorContains(t, err, "duplicate")
}

func TestParseMetadataNormalizesUnknownKind(t *testing.T) {
	doc := `{"bin": [{"pkg": "dynamic", "pkg_name": "jq", "family": "jq", "download_url": "https://x"}]}`
	pkgs, _, err := ParseMetadata("repoA", []byte(doc))
	require.NoError(t, err)
	assert.Equal(t, string(core.KindBinary), pkgs[0].Pkg)
}

func syncFixture(t *testing.T, repos []config.Repository) (*Syncer, *Store) {
	t.Helper()
	store := testStore(t)
	log := logging.Nop()
	cfg := &config.Config{Repositories: repos, ParallelLimit: 1}
	return NewSyncer(cfg, store, NewFetcher(log), log), store
}

func TestSyncUpdatedThenUnchanged(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(sampleMetadata))
	}))
	defer srv.Close()

	syncer, store := syncFixture(t, []config.Repository{{Name: "repoA", URL: srv.URL}})
	ctx := context.Background()

	report, err := syncer.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, report.Repos, 1)
	assert.Equal(t, SyncUpdated, report.Repos[0].Status)
	assert.Equal(t, 2, report.Repos[0].Packages)

	// Same remote document: digest short-circuit, row-set untouched.
	report, err = syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncUnchanged, report.Repos[0].Status)

	pkgs, err := store.ByRepository(ctx, "repoA")
	require.NoError(t, err)
	assert.Len(t, pkgs, 2)
	assert.Equal(t, int32(2), hits.Load())
}

func TestSyncIsolatesFailedRepository(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleMetadata))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer bad.Close()

	syncer, store := syncFixture(t, []config.Repository{
		{Name: "broken", URL: bad.URL},
		{Name: "working", URL: good.URL},
	})

	report, err := syncer.Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Repos, 2)
	assert.True(t, report.Failed())

	assert.Equal(t, SyncFailed, report.Repos[0].Status)
	assert.ErrorIs(t, report.Repos[0].Err, core.ErrRegistryUnavailable)
	assert.Equal(t, SyncUpdated, report.Repos[1].Status)

	pkgs, err := store.ByRepository(context.Background(), "working")
	require.NoError(t, err)
	assert.Len(t, pkgs, 2)
}

func TestSyncSkipsDisabledRepositories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleMetadata))
	}))
	defer srv.Close()

	syncer, _ := syncFixture(t, []config.Repository{
		{Name: "off", URL: srv.URL, Disabled: true},
	})

	report, err := syncer.Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Repos)
}

func TestSyncRejectsCorruptMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bin": [{"pkg_name": ""}]}`))
	}))
	defer srv.Close()

	syncer, store := syncFixture(t, []config.Repository{{Name: "repoA", URL: srv.URL}})

	report, err := syncer.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncFailed, report.Repos[0].Status)

	// Nothing half-loaded.
	pkgs, err := store.ByRepository(context.Background(), "repoA")
	require.NoError(t, err)
	assert.Empty(t, pkgs)
}
