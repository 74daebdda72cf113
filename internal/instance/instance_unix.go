//go:build !windows

package instance

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

type handle struct {
	f *os.File
}

// acquire takes an exclusive flock on <dir>/<name>.lock. The descriptor stays
// open for as long as the lock is held.
func acquire(dir, name string) (handle, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return handle{}, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(dir, name+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return handle{}, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return handle{}, fmt.Errorf("lock %s: %w", path, err)
	}
	// informational only; the flock is the lock
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	return handle{f: f}, nil
}

func (h handle) release() error {
	if h.f == nil {
		return nil
	}
	_ = unix.Flock(int(h.f.Fd()), unix.LOCK_UN)
	return h.f.Close()
}
