package core

import (
	"fmt"
	"path/filepath"
	"time"
)

// ArtifactKind is the closed set of package kinds drift can install.
type ArtifactKind string

const (
	KindBinary    ArtifactKind = "binary"
	KindAppImage  ArtifactKind = "appimage"
	KindFlatImage ArtifactKind = "flatimage"
)

// ParseKind maps a registry `pkg` tag to an ArtifactKind. Unknown tags fall
// back to binary so a registry adding new tags does not break installs.
func ParseKind(tag string) ArtifactKind {
	switch tag {
	case string(KindAppImage):
		return KindAppImage
	case string(KindFlatImage):
		return KindFlatImage
	default:
		return KindBinary
	}
}

// Package is a registry-side package description, immutable per sync.
type Package struct {
	RepoName    string `json:"repo_name"`
	Collection  string `json:"collection"`
	Family      string `json:"family"`
	PkgName     string `json:"pkg_name"`
	Pkg         string `json:"pkg"`
	PkgID       string `json:"pkg_id,omitempty"`
	AppID       string `json:"app_id,omitempty"`
	Description string `json:"description,omitempty"`
	Note        string `json:"note,omitempty"`
	Version     string `json:"version,omitempty"`
	DownloadURL string `json:"download_url"`
	Size        int64  `json:"size,omitempty"`
	Checksum    string `json:"checksum"`
	BuildDate   string `json:"build_date,omitempty"`
	BuildScript string `json:"build_script,omitempty"`
	BuildLog    string `json:"build_log,omitempty"`
	Category    string `json:"category,omitempty"`
	Desktop     string `json:"desktop,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// Kind returns the artifact kind for the package's pkg tag.
func (p *Package) Kind() ArtifactKind {
	return ParseKind(p.Pkg)
}

// FullName is the family-qualified display name, e.g. "firefox/firefox-nightly".
func (p *Package) FullName() string {
	if p.Family == "" || p.Family == p.PkgName {
		return p.PkgName
	}
	return p.Family + "/" + p.PkgName
}

// LinkName is the name of the active symlink in the bin directory. Variants
// of the same family share one link; standalone packages use their own name.
func (p *Package) LinkName() string {
	if p.Family != "" {
		return p.Family
	}
	return p.PkgName
}

// ContentDir returns the content-addressed directory for the package under
// the artifact store root.
func (p *Package) ContentDir(storeRoot string) string {
	return ContentDir(storeRoot, p.Checksum, p.Family, p.PkgName)
}

// ContentPath returns the artifact path inside ContentDir.
func (p *Package) ContentPath(storeRoot string) string {
	return filepath.Join(p.ContentDir(storeRoot), p.PkgName)
}

// ContentDir builds the content-addressed directory name for a checksum.
// Keyed by checksum so identical payloads dedup and previous versions
// survive updates for rollback.
func ContentDir(storeRoot, checksum, family, pkgName string) string {
	short := checksum
	if len(short) > 8 {
		short = short[:8]
	}
	name := pkgName
	if family != "" && family != pkgName {
		name = family + "-" + pkgName
	}
	return filepath.Join(storeRoot, fmt.Sprintf("%s-%s", short, name))
}

// InstalledPackage is the installed-side snapshot recorded at install time.
// It is decoupled from the registry row so registry churn cannot corrupt
// installed state.
type InstalledPackage struct {
	ID            int64     `json:"id"`
	RepoName      string    `json:"repo_name"`
	Collection    string    `json:"collection"`
	Family        string    `json:"family"`
	PkgName       string    `json:"pkg_name"`
	Pkg           string    `json:"pkg"`
	PkgID         string    `json:"pkg_id,omitempty"`
	AppID         string    `json:"app_id,omitempty"`
	Version       string    `json:"version,omitempty"`
	Size          int64     `json:"size,omitempty"`
	Checksum      string    `json:"checksum"`
	InstalledPath string    `json:"installed_path"`
	InstalledDate time.Time `json:"installed_date"`
	Disabled      bool      `json:"disabled"`
	Pinned        bool      `json:"pinned"`
}

// Kind returns the artifact kind recorded for the installed package.
func (p *InstalledPackage) Kind() ArtifactKind {
	return ParseKind(p.Pkg)
}

// FullName mirrors Package.FullName for installed rows.
func (p *InstalledPackage) FullName() string {
	if p.Family == "" || p.Family == p.PkgName {
		return p.PkgName
	}
	return p.Family + "/" + p.PkgName
}

// LinkName mirrors Package.LinkName for installed rows.
func (p *InstalledPackage) LinkName() string {
	if p.Family != "" {
		return p.Family
	}
	return p.PkgName
}

// PortablePaths is the optional per-package override of the directories used
// when launching AppImage/FlatImage artifacts.
type PortablePaths struct {
	PortablePath   string `json:"portable_path,omitempty"`
	PortableHome   string `json:"portable_home,omitempty"`
	PortableConfig string `json:"portable_config,omitempty"`
}

// IntegrationResult is what the integration layer hands back after
// materializing desktop entries, icons and portable directories.
type IntegrationResult struct {
	DesktopPath   string   `json:"desktop_path,omitempty"`
	IconPath      string   `json:"icon_path,omitempty"`
	PortablePaths []string `json:"portable_paths,omitempty"`
}

// Exit codes used by the CLI.
const (
	ExitSuccess     = 0
	ExitGeneral     = 1
	ExitInvalidArgs = 2
	ExitPartial     = 3
	ExitInterrupted = 130
)
