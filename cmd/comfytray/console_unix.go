//go:build !windows

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// detachFromConsole keeps the supervisor running when its terminal goes
// away. SIGHUP is logged and dropped; SIGPIPE is drained so that writes to
// a closed stdout or stderr fail with EPIPE instead of killing the process.
// The signals are handled rather than ignored so the child starts with the
// default dispositions.
func detachFromConsole(log *slog.Logger) (stop func()) {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGPIPE)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case s := <-ch:
				// logging SIGPIPE would write to the broken stream again
				if s == syscall.SIGHUP {
					log.Info("console hangup, continuing in background")
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
