// Package integrate materializes the desktop-facing side of an install:
// desktop entries, icons and portable directories. The engine talks to it
// through the Integrator interface and treats failures as IntegrationFailed,
// rolling the package back to "no change".
package integrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/core"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Integrator is the narrow contract the engine consumes.
type Integrator interface {
	// Integrate materializes desktop entry, icon and portable directories
	// for an installed artifact. execPath is the active symlink the entry
	// launches; iconPath is a local icon file, empty when none was fetched.
	Integrate(ctx context.Context, pkg *core.InstalledPackage, execPath, iconPath string, portable *core.PortablePaths) (*core.IntegrationResult, error)

	// Remove deletes whatever Integrate materialized for the package.
	// Portable directories survive removal; they hold user data.
	Remove(ctx context.Context, pkg *core.InstalledPackage) error
}

// DesktopIntegrator writes freedesktop-style entries under the XDG data
// directory and portable directories under the install root.
type DesktopIntegrator struct {
	fs           afero.Fs
	applications string
	icons        string
	portableRoot string
	log          *zerolog.Logger
}

// NewDesktopIntegrator creates the default integrator for the configured
// install root.
func NewDesktopIntegrator(cfg *config.Config, log *zerolog.Logger) *DesktopIntegrator {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return &DesktopIntegrator{
		fs:           afero.NewOsFs(),
		applications: filepath.Join(dataHome, "applications"),
		icons:        filepath.Join(dataHome, "icons", "hicolor", "256x256", "apps"),
		portableRoot: filepath.Join(cfg.Paths.Root, "portable"),
		log:          log,
	}
}

// WithFs substitutes the filesystem, for tests.
func (d *DesktopIntegrator) WithFs(fs afero.Fs) *DesktopIntegrator {
	d.fs = fs
	return d
}

// Integrate materializes integration artifacts according to the package
// kind. Plain binaries need none; AppImage and FlatImage artifacts get a
// desktop entry plus portable directories.
func (d *DesktopIntegrator) Integrate(ctx context.Context, pkg *core.InstalledPackage, execPath, iconPath string, portable *core.PortablePaths) (*core.IntegrationResult, error) {
	if pkg.Kind() == core.KindBinary {
		return &core.IntegrationResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &core.IntegrationResult{}

	installedIcon, err := d.placeIcon(pkg, iconPath)
	if err != nil {
		return nil, err
	}
	result.IconPath = installedIcon

	dirs, err := d.portableDirs(pkg, portable)
	if err != nil {
		return nil, err
	}
	result.PortablePaths = dirs

	desktopPath := d.desktopPath(pkg)
	if err := d.fs.MkdirAll(d.applications, 0o755); err != nil {
		return nil, fmt.Errorf("create applications directory: %w", err)
	}
	entry := desktopEntry(pkg, execPath, installedIcon)
	if err := afero.WriteFile(d.fs, desktopPath, []byte(entry), 0o644); err != nil {
		return nil, fmt.Errorf("write desktop entry: %w", err)
	}
	result.DesktopPath = desktopPath

	d.log.Debug().Str("package", pkg.FullName()).Str("desktop", desktopPath).Msg("integration materialized")
	return result, nil
}

// Remove deletes the desktop entry and icon. Portable directories are kept:
// they may hold the user's application state.
func (d *DesktopIntegrator) Remove(_ context.Context, pkg *core.InstalledPackage) error {
	if pkg.Kind() == core.KindBinary {
		return nil
	}

	for _, path := range []string{d.desktopPath(pkg), d.iconPath(pkg)} {
		if err := d.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return nil
}

func (d *DesktopIntegrator) desktopPath(pkg *core.InstalledPackage) string {
	return filepath.Join(d.applications, fmt.Sprintf("drift-%s.desktop", pkg.LinkName()))
}

func (d *DesktopIntegrator) iconPath(pkg *core.InstalledPackage) string {
	return filepath.Join(d.icons, fmt.Sprintf("drift-%s.png", pkg.LinkName()))
}

// placeIcon copies a fetched icon into the hicolor theme. No icon is not an
// error; the desktop entry then names no Icon key.
func (d *DesktopIntegrator) placeIcon(pkg *core.InstalledPackage, iconPath string) (string, error) {
	if iconPath == "" {
		return "", nil
	}
	data, err := afero.ReadFile(d.fs, iconPath)
	if err != nil {
		return "", fmt.Errorf("read icon %s: %w", iconPath, err)
	}
	if err := d.fs.MkdirAll(d.icons, 0o755); err != nil {
		return "", fmt.Errorf("create icons directory: %w", err)
	}
	dst := d.iconPath(pkg)
	if err := afero.WriteFile(d.fs, dst, data, 0o644); err != nil {
		return "", fmt.Errorf("install icon: %w", err)
	}
	return dst, nil
}

// portableDirs resolves and creates the portable home/config directories.
// Explicit overrides win; otherwise both live under the install root so
// removal of the root removes everything.
func (d *DesktopIntegrator) portableDirs(pkg *core.InstalledPackage, portable *core.PortablePaths) ([]string, error) {
	base := filepath.Join(d.portableRoot, pkg.LinkName())
	home := filepath.Join(base, "home")
	cfg := filepath.Join(base, "config")

	if portable != nil {
		if portable.PortablePath != "" {
			home = filepath.Join(portable.PortablePath, "home")
			cfg = filepath.Join(portable.PortablePath, "config")
		}
		if portable.PortableHome != "" {
			home = portable.PortableHome
		}
		if portable.PortableConfig != "" {
			cfg = portable.PortableConfig
		}
	}

	dirs := []string{home, cfg}
	for _, dir := range dirs {
		if err := d.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create portable directory %s: %w", dir, err)
		}
	}
	return dirs, nil
}

func desktopEntry(pkg *core.InstalledPackage, execPath, iconPath string) string {
	name := pkg.LinkName()
	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	b.WriteString("Type=Application\n")
	fmt.Fprintf(&b, "Name=%s\n", name)
	if pkg.Version != "" {
		fmt.Fprintf(&b, "Comment=%s %s\n", name, pkg.Version)
	}
	fmt.Fprintf(&b, "Exec=%s %%U\n", execPath)
	if iconPath != "" {
		fmt.Fprintf(&b, "Icon=%s\n", iconPath)
	}
	b.WriteString("Terminal=false\n")
	fmt.Fprintf(&b, "X-Drift-Package=%s\n", pkg.FullName())
	return b.String()
}
