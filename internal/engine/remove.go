package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/driftpkg/drift/internal/core"
	"github.com/driftpkg/drift/internal/fsops"
	"github.com/spf13/afero"
)

// RemoveOptions tunes a batch removal.
type RemoveOptions struct {
	// Force removes pinned packages too.
	Force bool
}

// Remove uninstalls a batch of packages: symlink, integration artifacts and
// store row go; the content-addressed artifact goes only when no other row
// references its checksum. Pinned packages refuse removal without Force and
// are left fully unchanged.
func (e *Engine) Remove(ctx context.Context, queries []string, opts RemoveOptions) *Report {
	report := &Report{}

	release, err := e.lock.Lock(ctx)
	if err != nil {
		for _, q := range queries {
			report.add(Item{Query: q, Outcome: OutcomeFailed, Err: err})
		}
		return report
	}
	defer release()

	for _, q := range queries {
		inst, err := e.findInstalled(ctx, q)
		if err != nil {
			report.add(Item{Query: q, Outcome: OutcomeFailed, Err: err})
			continue
		}
		if inst.Pinned && !opts.Force {
			report.add(Item{Query: q, Outcome: OutcomeFailed,
				Err: fmt.Errorf("%w: %s (use force to remove)", core.ErrPackagePinned, inst.FullName())})
			continue
		}

		if err := e.removeOne(ctx, inst); err != nil {
			report.add(Item{Query: q, Outcome: OutcomeFailed, Err: err})
			continue
		}
		e.log.Info().Str("package", inst.FullName()).Msg("package removed")
		report.add(Item{Query: q, Outcome: OutcomeRemoved})
	}
	return report
}

func (e *Engine) removeOne(ctx context.Context, inst *core.InstalledPackage) error {
	link := filepath.Join(e.cfg.Paths.Bin, inst.LinkName())
	if err := fsops.Deactivate(e.linker, link, inst.InstalledPath); err != nil {
		return fmt.Errorf("deactivate %s: %w", inst.FullName(), err)
	}

	// Desktop integration is keyed by the family, not the variant; it must
	// survive until the family's last variant goes.
	siblings, err := e.installed.ByFamily(ctx, inst.Family)
	if err != nil {
		return err
	}
	if len(siblings) <= 1 {
		if err := e.integrator.Remove(ctx, inst); err != nil {
			return fmt.Errorf("remove integration for %s: %w", inst.FullName(), err)
		}
	}

	if err := e.installed.Delete(ctx, inst.Family, inst.PkgName); err != nil {
		return err
	}

	e.gcArtifact(ctx, inst)
	return nil
}

// gcArtifact deletes the content-addressed artifact directory once no
// installed row references its checksum. Best-effort: a failed deletion
// leaves a reclaimable directory, not a broken install.
func (e *Engine) gcArtifact(ctx context.Context, inst *core.InstalledPackage) {
	if inst.Checksum == "" || inst.Checksum == "null" {
		dir := filepath.Dir(inst.InstalledPath)
		if fsops.Inside(dir, e.cfg.Paths.Packages) {
			_ = e.fs.RemoveAll(dir)
		}
		return
	}

	n, err := e.installed.CountByChecksum(ctx, inst.Checksum)
	if err != nil {
		e.log.Warn().Err(err).Str("checksum", inst.Checksum).Msg("reference count failed, keeping artifact")
		return
	}
	if n > 0 {
		return
	}

	// Sweep every content directory carrying this checksum prefix, including
	// copies staged for other families that are now also unreferenced.
	short := inst.Checksum
	if len(short) > 8 {
		short = short[:8]
	}
	entries, err := afero.ReadDir(e.fs, e.cfg.Paths.Packages)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), short+"-") {
			continue
		}
		dir := filepath.Join(e.cfg.Paths.Packages, entry.Name())
		if err := e.fs.RemoveAll(dir); err != nil {
			e.log.Warn().Err(err).Str("dir", dir).Msg("artifact cleanup failed")
		}
	}
}
