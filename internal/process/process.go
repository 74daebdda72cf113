package process

import (
	"os/exec"
	"sync"
	"time"
)

// Process is the handle to one launched child. A background goroutine owns
// cmd.Wait and closes waitDone once the exit status is known, so every other
// observer only ever selects on that channel.
type Process struct {
	cmd       *exec.Cmd
	argv      []string
	pid       int
	startedAt time.Time
	waitDone  chan struct{}

	mu        sync.Mutex
	exitErr   error
	stoppedAt time.Time
}

func startProcess(cmd *exec.Cmd, argv []string) (*Process, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &Process{
		cmd:       cmd,
		argv:      argv,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		waitDone:  make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.stoppedAt = time.Now()
	p.mu.Unlock()
	close(p.waitDone)
}

func (p *Process) PID() int { return p.pid }

func (p *Process) Args() []string { return append([]string(nil), p.argv...) }

func (p *Process) StartedAt() time.Time { return p.startedAt }

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.waitDone }

// Exited reports, without blocking, whether an exit status is available.
func (p *Process) Exited() bool {
	select {
	case <-p.waitDone:
		return true
	default:
		return false
	}
}

// ExitErr returns the error from cmd.Wait; nil while running or on a clean exit.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *Process) StoppedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stoppedAt
}
