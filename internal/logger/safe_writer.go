package logger

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// SafeWriter never reports a write failure to its caller.
//
// The supervisor is usually started from a terminal that the user may close
// at any time. Once that happens stdout is gone (EPIPE/EIO) and every further
// write would fail; SafeWriter notices this, marks itself detached and drops
// subsequent output. Other errors are dropped too, but do not detach.
type SafeWriter struct {
	mu       sync.Mutex
	w        io.Writer
	detached atomic.Bool
}

func NewSafeWriter(w io.Writer) *SafeWriter { return &SafeWriter{w: w} }

func (s *SafeWriter) Write(p []byte) (int, error) {
	if s.detached.Load() {
		return len(p), nil
	}
	s.mu.Lock()
	_, err := s.w.Write(p)
	s.mu.Unlock()
	if err != nil && IsDetached(err) {
		s.detached.Store(true)
	}
	return len(p), nil
}

// Detached reports whether the underlying stream has gone away.
func (s *SafeWriter) Detached() bool { return s.detached.Load() }

// IsDetached reports whether err means the output stream no longer exists.
func IsDetached(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.EIO) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
