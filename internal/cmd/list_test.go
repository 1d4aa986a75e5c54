package cmd

import (
	"testing"
	"time"

	"github.com/driftpkg/drift/internal/core"
	"github.com/stretchr/testify/assert"
)

func sampleInstalled() []core.InstalledPackage {
	return []core.InstalledPackage{
		{Family: "zoxide", PkgName: "zoxide", Pkg: "binary", InstalledDate: time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)},
		{Family: "firefox", PkgName: "firefox-nightly", Pkg: "appimage", InstalledDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Family: "jq", PkgName: "jq", Pkg: "binary", InstalledDate: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
}

func TestFilterByKind(t *testing.T) {
	t.Parallel()

	all := sampleInstalled()

	assert.Len(t, filterByKind(all, ""), 3)
	assert.Len(t, filterByKind(all, "binary"), 2)
	assert.Len(t, filterByKind(all, "APPIMAGE"), 1)
	assert.Empty(t, filterByKind(all, "flatimage"))
}

func TestSortInstalled(t *testing.T) {
	t.Parallel()

	byName := sampleInstalled()
	sortInstalled(byName, "name")
	assert.Equal(t, "firefox-nightly", byName[0].PkgName)
	assert.Equal(t, "zoxide", byName[2].PkgName)

	byKind := sampleInstalled()
	sortInstalled(byKind, "kind")
	assert.Equal(t, "appimage", byKind[0].Pkg)

	byDate := sampleInstalled()
	sortInstalled(byDate, "date")
	assert.Equal(t, "zoxide", byDate[0].PkgName, "newest first")
	assert.Equal(t, "firefox-nightly", byDate[2].PkgName)
}
