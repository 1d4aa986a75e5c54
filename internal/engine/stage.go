package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/driftpkg/drift/internal/core"
	"github.com/driftpkg/drift/internal/fsops"
	"github.com/ulikunitz/xz"
)

// stage moves a verified payload into the content-addressed store and makes
// it executable. xz-compressed payloads are decompressed here; their
// checksum was already verified against the wire bytes.
func (e *Engine) stage(pkg core.Package, partPath string) (string, error) {
	final := pkg.ContentPath(e.cfg.Paths.Packages)

	if strings.HasSuffix(strings.ToLower(pkg.DownloadURL), ".xz") {
		if err := e.decompressXZ(partPath, final); err != nil {
			return "", fmt.Errorf("stage %s: %w", pkg.FullName(), err)
		}
		fsops.Discard(e.fs, partPath)
		return final, nil
	}

	if err := fsops.PromoteTemp(e.fs, partPath, final); err != nil {
		return "", fmt.Errorf("stage %s: %w", pkg.FullName(), err)
	}
	return final, nil
}

func (e *Engine) decompressXZ(src, dst string) error {
	in, err := e.fs.Open(src)
	if err != nil {
		return fmt.Errorf("open payload: %w", err)
	}
	defer in.Close()

	r, err := xz.NewReader(in)
	if err != nil {
		return fmt.Errorf("xz reader: %w", err)
	}

	if err := e.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}

	tmp := dst + ".tmp"
	out, err := e.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		fsops.Discard(e.fs, tmp)
		return fmt.Errorf("decompress: %w", err)
	}
	if err := out.Close(); err != nil {
		fsops.Discard(e.fs, tmp)
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := e.fs.Rename(tmp, dst); err != nil {
		fsops.Discard(e.fs, tmp)
		return fmt.Errorf("promote artifact: %w", err)
	}
	return e.fs.Chmod(dst, 0o755)
}

// iconTarget is where a registry-advertised icon lands, beside the artifact
// in its content directory so it shares the artifact's lifecycle.
func iconTarget(pkg core.Package, storeRoot string) string {
	ext := filepath.Ext(pkg.Icon)
	if ext == "" || len(ext) > 5 {
		ext = ".png"
	}
	return filepath.Join(pkg.ContentDir(storeRoot), "icon"+ext)
}

// reuseStaged finds an existing copy of the artifact so the fetch can be
// skipped: either a retained prior staging under this package's own path, or
// another installed package with the same checksum whose artifact is copied
// over. This is the dedup rationale behind keying storage by checksum.
func (e *Engine) reuseStaged(ctx context.Context, pkg core.Package) (bool, error) {
	final := pkg.ContentPath(e.cfg.Paths.Packages)
	if fsops.Exists(e.fs, final) {
		return true, nil
	}
	if pkg.Checksum == "" || pkg.Checksum == "null" {
		return false, nil
	}

	siblings, err := e.installed.ByChecksum(ctx, pkg.Checksum)
	if err != nil {
		return false, err
	}
	for _, sib := range siblings {
		if !fsops.Exists(e.fs, sib.InstalledPath) {
			continue
		}
		if err := e.copyArtifact(sib.InstalledPath, final); err != nil {
			return false, err
		}
		e.log.Debug().Str("package", pkg.FullName()).Str("from", sib.InstalledPath).
			Msg("reused staged artifact with identical checksum")
		return true, nil
	}
	return false, nil
}

func (e *Engine) copyArtifact(src, dst string) error {
	in, err := e.fs.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	if err := e.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	out, err := e.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		fsops.Discard(e.fs, dst)
		return fmt.Errorf("copy artifact: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return e.fs.Chmod(dst, 0o755)
}
