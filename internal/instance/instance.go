// Package instance makes sure only one supervisor runs per user session.
//
// The lock is tied to the lifetime of the process: it is taken once at
// startup and the OS drops it when the process exits, however it exits.
// Nothing on the normal shutdown path releases it explicitly.
package instance

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Guard is a named, session-wide lock.
type Guard struct {
	name string
	dir  string

	mu   sync.Mutex
	held bool
	h    handle
}

// New returns a guard for name in the default runtime directory.
func New(name string) *Guard {
	return NewInDir(RuntimeDir(), name)
}

// NewInDir is New with an explicit directory for the lock file. The
// directory is ignored on platforms that use kernel objects instead.
func NewInDir(dir, name string) *Guard {
	return &Guard{name: sanitize(name), dir: dir}
}

func (g *Guard) Name() string { return g.name }

// Held reports whether this guard owns the lock.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// TryAcquire takes the lock without blocking. It returns false when another
// live holder exists or the lock cannot be created at all. Calling it again
// after success is a no-op that returns true.
func (g *Guard) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return true
	}
	h, err := acquire(g.dir, g.name)
	if err != nil {
		return false
	}
	g.h = h
	g.held = true
	return true
}

// Release drops the lock. Tests only; see the package comment.
func (g *Guard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		return nil
	}
	g.held = false
	return g.h.release()
}

// RuntimeDir is where lock files live: $XDG_RUNTIME_DIR when set, otherwise
// the temp dir.
func RuntimeDir() string {
	if d := os.Getenv("XDG_RUNTIME_DIR"); d != "" {
		return d
	}
	return os.TempDir()
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "comfytray"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == filepath.Separator {
			return '_'
		}
		return r
	}, name)
}
