package process

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/loykin/comfytray/internal/logger"
	"github.com/loykin/comfytray/internal/metrics"
)

// killReap bounds how long we wait for the OS to reap a killed child.
const killReap = 2 * time.Second

// Callbacks observe lifecycle transitions. They run synchronously on the
// goroutine that called Start/Stop and must not call back into the Controller.
type Callbacks struct {
	Started func(Status)
	Killed  func(Status) // grace period elapsed and forced termination was issued
	Stopped func(Status) // a Stop completed, gracefully or not
}

// Controller owns the single child process of the supervisor.
//
// State machine: Idle -> Running -> Stopping -> Stopped -> Running ...
// Stop is atomic from the caller's point of view: it returns only after the
// child is gone (or the kill failed), so callers observe Idle, Running or
// Stopped. Start, Stop and Restart are serialized.
type Controller struct {
	spec Spec
	log  *slog.Logger
	cb   Callbacks

	op sync.Mutex // serializes Start/Stop/Restart

	mu     sync.Mutex
	state  State
	cur    *Process
	starts int
	kills  int
}

func NewController(spec Spec, log *slog.Logger, cb Callbacks) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{spec: spec, log: log.With("name", spec.Name), cb: cb, state: StateIdle}
}

// Start launches the child with the base arguments plus extra.
// It refuses to start while a previous child is still alive.
func (c *Controller) Start(extra []string) error {
	c.op.Lock()
	defer c.op.Unlock()
	return c.start(extra)
}

// Stop interrupts the child, waits up to the grace period and then kills it.
// It is a no-op when nothing is running.
func (c *Controller) Stop() error {
	c.op.Lock()
	defer c.op.Unlock()
	return c.stop()
}

// Restart stops the current child (if any) and starts a new one without
// extra arguments. A failed kill aborts the restart so that two children
// never run side by side.
func (c *Controller) Restart() error {
	c.op.Lock()
	defer c.op.Unlock()
	if err := c.stop(); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	return c.start(nil)
}

// IsRunning reports without blocking whether the current child is alive.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil && !c.cur.Exited()
}

// Current returns the current child handle, or nil before the first start.
func (c *Controller) Current() *Process {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// Status returns a snapshot of the controller and its child.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Status {
	st := Status{Name: c.spec.Name, State: c.state.String(), Starts: c.starts, Kills: c.kills}
	p := c.cur
	if p == nil {
		return st
	}
	st.PID = p.PID()
	st.Args = p.Args()
	st.StartedAt = p.StartedAt()
	if p.Exited() {
		st.StoppedAt = p.StoppedAt()
		st.ExitErr = p.ExitErr()
		if st.ExitErr != nil {
			st.Exit = st.ExitErr.Error()
		}
		if c.state == StateRunning {
			// exited on its own; nobody asked it to stop
			st.State = StateStopped.String()
		}
	} else {
		st.Running = true
	}
	return st
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) start(extra []string) error {
	c.mu.Lock()
	if c.cur != nil && !c.cur.Exited() {
		pid := c.cur.PID()
		c.mu.Unlock()
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	c.mu.Unlock()

	cmd, err := c.spec.BuildCommand(extra)
	if err != nil {
		return fmt.Errorf("start %s: %w", c.spec.Name, err)
	}
	cmd.Stdout = orStream(c.spec.Stdout, os.Stdout)
	cmd.Stderr = orStream(c.spec.Stderr, os.Stderr)
	// Grandchildren may keep our output pipes open after the child is gone.
	cmd.WaitDelay = killReap

	p, err := startProcess(cmd, cmd.Args)
	if err != nil {
		return fmt.Errorf("start %s: %w", c.spec.Name, err)
	}

	c.mu.Lock()
	c.cur = p
	c.state = StateRunning
	c.starts++
	st := c.snapshotLocked()
	c.mu.Unlock()

	metrics.IncStart(c.spec.Name)
	c.log.Info("process started", "pid", p.PID(), "args", p.Args())
	if c.cb.Started != nil {
		c.cb.Started(st)
	}
	return nil
}

func (c *Controller) stop() error {
	c.mu.Lock()
	p := c.cur
	c.mu.Unlock()
	if p == nil || p.Exited() {
		return nil
	}

	c.setState(StateStopping)
	c.log.Info("stopping process", "pid", p.PID(), "grace", c.spec.grace())

	var err error
	if ierr := interrupt(p.cmd.Process); ierr != nil && !p.Exited() {
		c.log.Warn("interrupt not delivered, killing", "pid", p.PID(), "error", ierr)
		err = c.kill(p)
	} else {
		timer := time.NewTimer(c.spec.grace())
		select {
		case <-p.Done():
			timer.Stop()
		case <-timer.C:
			c.log.Warn("grace period elapsed, force killing", "pid", p.PID(), "grace", c.spec.grace())
			err = c.kill(p)
		}
	}

	c.mu.Lock()
	c.state = StateStopped
	st := c.snapshotLocked()
	c.mu.Unlock()

	metrics.IncStop(c.spec.Name)
	if err != nil {
		c.log.Error("process did not stop", "pid", p.PID(), "error", err)
	} else {
		c.log.Info("process stopped", "pid", p.PID(), "exit", st.Exit)
	}
	if c.cb.Stopped != nil {
		c.cb.Stopped(st)
	}
	return err
}

func (c *Controller) kill(p *Process) error {
	c.mu.Lock()
	c.kills++
	st := c.snapshotLocked()
	c.mu.Unlock()
	metrics.IncKill(c.spec.Name)
	if c.cb.Killed != nil {
		c.cb.Killed(st)
	}

	if err := forceKill(p.cmd.Process); err != nil && !p.Exited() {
		return fmt.Errorf("%w: pid %d: %v", ErrKillFailed, p.PID(), err)
	}
	timer := time.NewTimer(killReap)
	defer timer.Stop()
	select {
	case <-p.Done():
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: pid %d still running %s after kill", ErrKillFailed, p.PID(), killReap)
	}
}

// orStream wraps the configured writer, or our own stream, so that a write
// failure on a detached console never reaches the child as EPIPE.
func orStream(w io.Writer, def *os.File) io.Writer {
	if w == nil {
		return logger.NewSafeWriter(def)
	}
	if _, ok := w.(*logger.SafeWriter); ok {
		return w
	}
	return logger.NewSafeWriter(w)
}
