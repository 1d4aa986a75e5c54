package fsops

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/driftpkg/drift/internal/core"
)

// Linker is the narrow symlink surface the activation state machine runs
// on. The OS implementation backs real installs; MemLinker backs tests.
type Linker interface {
	Symlink(target, link string) error
	Readlink(link string) (string, error)
	Rename(oldpath, newpath string) error
	Remove(name string) error
	// Lexists reports whether name exists without following symlinks, and
	// whether it is a symlink.
	Lexists(name string) (exists, isLink bool, err error)
	// List returns the entries of a directory (symlinks only for MemLinker).
	List(dir string) ([]string, error)
}

// OSLinker is the production Linker backed by the real filesystem.
type OSLinker struct{}

func (OSLinker) Symlink(target, link string) error   { return os.Symlink(target, link) }
func (OSLinker) Readlink(link string) (string, error) { return os.Readlink(link) }
func (OSLinker) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }
func (OSLinker) Remove(name string) error             { return os.Remove(name) }

func (OSLinker) Lexists(name string) (bool, bool, error) {
	info, err := os.Lstat(name)
	if os.IsNotExist(err) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, info.Mode()&os.ModeSymlink != 0, nil
}

func (OSLinker) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, filepath.Join(dir, e.Name()))
	}
	return names, nil
}

// MemLinker is an in-memory Linker for testing activation without touching
// the real filesystem.
type MemLinker struct {
	mu    sync.Mutex
	links map[string]string
}

// NewMemLinker creates an empty in-memory linker.
func NewMemLinker() *MemLinker {
	return &MemLinker{links: make(map[string]string)}
}

func (m *MemLinker) Symlink(target, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.links[link]; ok {
		return fmt.Errorf("symlink %s: file exists", link)
	}
	m.links[link] = target
	return nil
}

func (m *MemLinker) Readlink(link string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.links[link]
	if !ok {
		return "", fmt.Errorf("readlink %s: no such file", link)
	}
	return target, nil
}

func (m *MemLinker) Rename(oldpath, newpath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.links[oldpath]
	if !ok {
		return fmt.Errorf("rename %s: no such file", oldpath)
	}
	delete(m.links, oldpath)
	m.links[newpath] = target
	return nil
}

func (m *MemLinker) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.links[name]; !ok {
		return fmt.Errorf("remove %s: no such file", name)
	}
	delete(m.links, name)
	return nil
}

func (m *MemLinker) Lexists(name string) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[name]
	return ok, ok, nil
}

func (m *MemLinker) List(dir string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for link := range m.links {
		if filepath.Dir(link) == filepath.Clean(dir) {
			names = append(names, link)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Activate atomically repoints linkPath at target. The new symlink is
// created beside the old one and renamed over it, so readers always see
// either the previous target or the new one. An existing entry whose target
// does not live under managedRoot is a foreign file and is never replaced.
func Activate(l Linker, target, linkPath, managedRoot string) error {
	exists, isLink, err := l.Lexists(linkPath)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", linkPath, err)
	}
	if exists {
		if !isLink {
			return &core.ConflictError{LinkPath: linkPath, Target: linkPath}
		}
		current, err := l.Readlink(linkPath)
		if err != nil {
			return fmt.Errorf("readlink %s: %w", linkPath, err)
		}
		if !Inside(current, managedRoot) {
			return &core.ConflictError{LinkPath: linkPath, Target: current}
		}
	}

	staging := linkPath + ".new"
	if exists, _, _ := l.Lexists(staging); exists {
		_ = l.Remove(staging)
	}
	if err := l.Symlink(target, staging); err != nil {
		return fmt.Errorf("stage symlink %s: %w", staging, err)
	}
	if err := l.Rename(staging, linkPath); err != nil {
		_ = l.Remove(staging)
		return fmt.Errorf("activate %s: %w", linkPath, err)
	}
	return nil
}

// Deactivate removes linkPath only when it points at expectedTarget, so a
// remove never tears down a link another variant has since claimed.
func Deactivate(l Linker, linkPath, expectedTarget string) error {
	exists, isLink, err := l.Lexists(linkPath)
	if err != nil || !exists || !isLink {
		return err
	}
	current, err := l.Readlink(linkPath)
	if err != nil {
		return fmt.Errorf("readlink %s: %w", linkPath, err)
	}
	if current != expectedTarget {
		return nil
	}
	return l.Remove(linkPath)
}

// ActiveTarget returns the current target of linkPath, or "" when the link
// does not exist.
func ActiveTarget(l Linker, linkPath string) string {
	exists, isLink, err := l.Lexists(linkPath)
	if err != nil || !exists || !isLink {
		return ""
	}
	target, err := l.Readlink(linkPath)
	if err != nil {
		return ""
	}
	return target
}
