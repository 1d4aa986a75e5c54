package fsops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// EnsureDir ensures a directory exists with the given permissions.
func EnsureDir(fs afero.Fs, path string, perm os.FileMode) error {
	if err := fs.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("ensure directory: %w", err)
	}
	return nil
}

// Exists checks if a path exists.
func Exists(fs afero.Fs, path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

// PromoteTemp moves a fully written temporary file into its final location
// and marks it executable. The move is a rename, never a copy, so a crash
// leaves either the temp file or the final file, not a torn artifact.
func PromoteTemp(fs afero.Fs, temp, final string) error {
	if err := fs.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	if err := fs.Rename(temp, final); err != nil {
		return fmt.Errorf("promote %s: %w", temp, err)
	}
	if err := fs.Chmod(final, 0o755); err != nil {
		return fmt.Errorf("chmod %s: %w", final, err)
	}
	return nil
}

// Discard removes a temporary file, ignoring not-exist.
func Discard(fs afero.Fs, path string) {
	_ = fs.Remove(path)
}

// Inside reports whether path is lexically inside root.
func Inside(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
