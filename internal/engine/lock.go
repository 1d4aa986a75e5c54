package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Locker serializes the activate-and-record critical section across
// processes, so a background update and a foreground install never race to
// activate the same name.
type Locker interface {
	Lock(ctx context.Context) (release func(), err error)
}

// FileLock is a flock-based Locker on a lock file under the install root.
type FileLock struct {
	path string
}

// NewFileLock creates a lock rooted at the install root.
func NewFileLock(root string) *FileLock {
	return &FileLock{path: filepath.Join(root, ".drift.lock")}
}

// Lock acquires the exclusive lock, polling until the context is done.
func (l *FileLock) Lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			f.Close()
			return nil, fmt.Errorf("acquire lock %s: %w", l.path, err)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("waiting for lock %s: %w", l.path, ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

// NopLock is a Locker that always succeeds, for tests.
type NopLock struct{}

func (NopLock) Lock(context.Context) (func(), error) { return func() {}, nil }
