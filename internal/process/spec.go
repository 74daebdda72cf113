package process

import (
	"io"
	"os/exec"
	"strings"
	"time"
)

// DefaultGracePeriod is how long Stop waits after the interrupt before killing.
const DefaultGracePeriod = 10 * time.Second

// Spec describes the supervised service.
type Spec struct {
	Name        string        `json:"name"`
	Command     string        `json:"command"`      // executable (resolved via PATH)
	Args        []string      `json:"args"`         // fixed base arguments, always passed
	WorkDir     string        `json:"work_dir"`     // optional working dir
	Env         []string      `json:"env"`          // full environment; nil inherits ours
	GracePeriod time.Duration `json:"grace_period"` // wait after interrupt before kill

	Stdout io.Writer `json:"-"` // child stdout; nil means our stdout
	Stderr io.Writer `json:"-"` // child stderr; nil means our stderr
}

func (s Spec) grace() time.Duration {
	if s.GracePeriod <= 0 {
		return DefaultGracePeriod
	}
	return s.GracePeriod
}

// Argv returns the full argument vector for one launch: command, base
// arguments, then extra. The base slice is never mutated.
func (s Spec) Argv(extra []string) []string {
	argv := make([]string, 0, 1+len(s.Args)+len(extra))
	argv = append(argv, strings.TrimSpace(s.Command))
	argv = append(argv, s.Args...)
	argv = append(argv, extra...)
	return argv
}

// BuildCommand constructs an *exec.Cmd from s plus extra arguments.
// The argument list is passed as-is; no shell is involved.
func (s Spec) BuildCommand(extra []string) (*exec.Cmd, error) {
	argv := s.Argv(extra)
	if argv[0] == "" {
		return nil, ErrEmptyCommand
	}
	// #nosec G204 -- command comes from the supervisor's own configuration
	cmd := exec.Command(argv[0], argv[1:]...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if s.Env != nil {
		cmd.Env = s.Env
	}
	configureSysProcAttr(cmd)
	return cmd, nil
}
