//go:build windows

package main

import "log/slog"

// detachFromConsole is a no-op on Windows: console close arrives as
// CTRL_CLOSE_EVENT, which the runtime reports as SIGTERM.
func detachFromConsole(*slog.Logger) (stop func()) { return func() {} }
