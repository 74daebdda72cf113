package process

import "errors"

var (
	// ErrAlreadyRunning is returned by Start while a previous child is still alive.
	ErrAlreadyRunning = errors.New("process already running")
	// ErrKillFailed is returned when the forced termination could not be delivered
	// or the child did not go away after it.
	ErrKillFailed = errors.New("failed to kill process")
	// ErrEmptyCommand is returned when a Spec has nothing to execute.
	ErrEmptyCommand = errors.New("empty command")
)
