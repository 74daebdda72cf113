// Package supervisor runs the tray's event loop: it owns the service's
// lifecycle, watches readiness and liveness, and executes menu commands.
//
// Everything that mutates state happens on the goroutine running Run. Timers
// and callers from other goroutines only send messages into it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/comfytray/internal/history"
	"github.com/loykin/comfytray/internal/metrics"
	"github.com/loykin/comfytray/internal/probe"
	"github.com/loykin/comfytray/internal/process"
)

// ErrClosed is returned by commands sent after the loop has exited.
var ErrClosed = errors.New("supervisor is not running")

// Controller is the process lifecycle the supervisor drives.
type Controller interface {
	Start(extra []string) error
	Stop() error
	Restart() error
	IsRunning() bool
	Status() process.Status
}

// Opener hands URLs and folders to the desktop.
type Opener interface {
	OpenURL(url string) error
	OpenFolder(path string) error
}

// Display shows the current status (tray icon, log line, ...).
type Display interface {
	SetStatus(s Status, tooltip string)
}

// Sampler collects resource usage of the running child.
type Sampler interface {
	Sample(name string, pid int) (metrics.ProcessMetrics, error)
	Clear(name string)
}

type Options struct {
	Name          string // metrics and history label
	DisplayName   string // tooltip prefix
	URL           string // opened by OpenTab
	LocalModels   string
	GlobalModels  string
	FirstStart    []string // extra args for the very first automatic start only
	ReadyInterval time.Duration
	LiveInterval  time.Duration
}

type Deps struct {
	Controller Controller
	Prober     probe.Prober
	Opener     Opener
	Display    Display  // optional
	Recorder   Recorder // optional
	Sampler    Sampler  // optional
	Log        *slog.Logger
}

type action int

const (
	actOpenTab action = iota
	actBrowseLocal
	actBrowseGlobal
	actRestart
	actQuit
)

func (a action) String() string {
	switch a {
	case actOpenTab:
		return "open-tab"
	case actBrowseLocal:
		return "browse-local-models"
	case actBrowseGlobal:
		return "browse-global-models"
	case actRestart:
		return "restart"
	case actQuit:
		return "quit"
	default:
		return "unknown"
	}
}

type command struct {
	action action
	reply  chan error
}

type tickKind int

const (
	tickReady tickKind = iota
	tickLive
)

type tick struct {
	kind tickKind
	gen  uint64
}

// Supervisor is the facade the tray menu, signal handlers and the control
// API talk to.
type Supervisor struct {
	opts    Options
	log     *slog.Logger
	ctrl    Controller
	prober  probe.Prober
	opener  Opener
	display Display
	rec     Recorder
	sampler Sampler

	cmds    chan command
	ticks   chan tick
	done    chan struct{}
	runOnce sync.Once

	// loop-owned
	status      Status
	shown       bool
	ready       *pollTimer
	readyGen    uint64
	satisfied   bool
	live        *pollTimer
	probes      int
	launchedAt  time.Time
	connectedAt time.Time

	mu   sync.RWMutex
	snap Snapshot
}

func New(opts Options, deps Deps) (*Supervisor, error) {
	if deps.Controller == nil || deps.Prober == nil || deps.Opener == nil {
		return nil, errors.New("supervisor: controller, prober and opener are required")
	}
	if opts.ReadyInterval <= 0 {
		opts.ReadyInterval = time.Second
	}
	if opts.LiveInterval <= 0 {
		opts.LiveInterval = 5 * time.Second
	}
	if opts.DisplayName == "" {
		opts.DisplayName = opts.Name
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	rec := deps.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	s := &Supervisor{
		opts:    opts,
		log:     log,
		ctrl:    deps.Controller,
		prober:  deps.Prober,
		opener:  deps.Opener,
		display: deps.Display,
		rec:     rec,
		sampler: deps.Sampler,
		cmds:    make(chan command, 16),
		ticks:   make(chan tick, 4),
		done:    make(chan struct{}),
		status:  StatusStarting,
	}
	s.publish()
	return s, nil
}

// Run launches the service and processes commands and ticks until Quit is
// called or ctx is cancelled. Either way the service is stopped first.
// Run may be called once.
func (s *Supervisor) Run(ctx context.Context) error {
	err := errors.New("supervisor: Run called twice")
	s.runOnce.Do(func() { err = s.run(ctx) })
	return err
}

func (s *Supervisor) run(ctx context.Context) error {
	defer close(s.done)

	s.setStatus(StatusStarting)
	s.live = newPollTimer(s.opts.LiveInterval, s.poster(tick{kind: tickLive}))
	defer s.live.Cancel()

	s.log.Info("starting service", "name", s.opts.Name, "probe", s.prober.Describe())
	if err := s.ctrl.Start(s.opts.FirstStart); err != nil {
		s.log.Error("failed to start service", "error", err)
		s.setStatus(StatusDisconnected)
	} else {
		s.beginReadiness()
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Info("shutting down", "reason", ctx.Err())
			return s.shutdown()
		case c := <-s.cmds:
			if c.action == actQuit {
				err := s.shutdown()
				c.reply <- err
				return err
			}
			c.reply <- s.handle(c.action)
		case t := <-s.ticks:
			s.safely(t, func() { s.handleTick(t) })
		}
	}
}

// Done is closed once Run has returned.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

func (s *Supervisor) OpenTab() error            { return s.send(actOpenTab) }
func (s *Supervisor) BrowseLocalModels() error  { return s.send(actBrowseLocal) }
func (s *Supervisor) BrowseGlobalModels() error { return s.send(actBrowseGlobal) }
func (s *Supervisor) Restart() error            { return s.send(actRestart) }

// Quit stops the service and makes Run return. The returned error is the
// stop error, if any; the loop exits regardless.
func (s *Supervisor) Quit() error { return s.send(actQuit) }

// Status returns the latest published snapshot. Safe from any goroutine.
func (s *Supervisor) Status() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Supervisor) send(a action) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{action: a, reply: reply}:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		// the loop may have answered right before exiting
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	}
}

func (s *Supervisor) handle(a action) error {
	s.log.Debug("command", "action", a.String())
	switch a {
	case actOpenTab:
		return s.opener.OpenURL(s.opts.URL)
	case actBrowseLocal:
		return s.opener.OpenFolder(s.opts.LocalModels)
	case actBrowseGlobal:
		return s.opener.OpenFolder(s.opts.GlobalModels)
	case actRestart:
		return s.restart()
	default:
		return fmt.Errorf("unknown action %d", a)
	}
}

func (s *Supervisor) restart() error {
	s.cancelReadiness()
	s.log.Info("restarting service")
	if err := s.ctrl.Restart(); err != nil {
		s.log.Error("restart failed", "error", err)
		s.setStatus(StatusDisconnected)
		return err
	}
	s.beginReadiness()
	return nil
}

// shutdown always attempts a stop, even when the child looks dead already.
func (s *Supervisor) shutdown() error {
	s.cancelReadiness()
	s.live.Cancel()
	err := s.ctrl.Stop()
	if err != nil {
		s.log.Error("stop on quit failed", "error", err)
	}
	if s.sampler != nil {
		s.sampler.Clear(s.opts.Name)
	}
	s.publish()
	return err
}

// beginReadiness starts a fresh readiness monitor for the current child.
// The first probe runs immediately, then one per ReadyInterval.
func (s *Supervisor) beginReadiness() {
	s.cancelReadiness()
	s.readyGen++
	s.satisfied = false
	s.launchedAt = time.Now()
	s.connectedAt = time.Time{}
	s.setStatus(StatusStarting)
	gen := s.readyGen
	s.ready = newPollTimer(s.opts.ReadyInterval, s.poster(tick{kind: tickReady, gen: gen}))
	s.safely(tick{kind: tickReady, gen: gen}, func() { s.onReadyTick(gen) })
}

func (s *Supervisor) cancelReadiness() {
	s.ready.Cancel()
	s.ready = nil
}

// poster returns a timer callback that delivers t into the loop, giving up
// when the timer is cancelled or the loop has exited.
func (s *Supervisor) poster(t tick) func(stop <-chan struct{}) {
	return func(stop <-chan struct{}) {
		select {
		case s.ticks <- t:
		case <-stop:
		case <-s.done:
		}
	}
}

func (s *Supervisor) handleTick(t tick) {
	switch t.kind {
	case tickReady:
		s.onReadyTick(t.gen)
	case tickLive:
		s.onLiveTick()
	}
}

func (s *Supervisor) onReadyTick(gen uint64) {
	if gen != s.readyGen || s.satisfied {
		// belongs to a previous child, or already connected
		return
	}
	s.probes++
	ok := s.prober.Reachable()
	metrics.IncProbe(s.opts.Name, ok)
	if !ok {
		s.publish()
		return
	}
	s.satisfied = true
	s.cancelReadiness()
	s.connectedAt = time.Now()
	took := s.connectedAt.Sub(s.launchedAt)
	metrics.ObserveReady(s.opts.Name, took.Seconds())
	s.log.Info("service is reachable", "after", took.Round(time.Millisecond), "probes", s.probes)
	s.setStatus(StatusConnected)
	s.rec.Record(event(history.EventConnected, s.ctrl.Status(), StatusConnected.String()))
}

func (s *Supervisor) onLiveTick() {
	st := s.ctrl.Status()
	if st.PID == 0 {
		// never launched
		return
	}
	if s.ctrl.IsRunning() {
		if s.sampler != nil {
			if _, err := s.sampler.Sample(s.opts.Name, st.PID); err != nil {
				s.log.Debug("resource sample failed", "pid", st.PID, "error", err)
			}
		}
		s.publish()
		return
	}
	if s.status == StatusDisconnected {
		return
	}
	s.log.Warn("service exited unexpectedly", "pid", st.PID, "exit", st.Exit)
	s.cancelReadiness()
	s.setStatus(StatusDisconnected)
	if s.sampler != nil {
		s.sampler.Clear(s.opts.Name)
	}
	s.rec.Record(event(history.EventExit, st, StatusDisconnected.String()))
}

// safely keeps a failing tick handler from taking the loop down.
func (s *Supervisor) safely(t tick, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tick handler panicked", "kind", t.kind, "panic", r)
		}
	}()
	fn()
}

// setStatus updates the display only on change; the first call always shows.
func (s *Supervisor) setStatus(next Status) {
	prev := s.status
	s.status = next
	switch {
	case !s.shown:
		s.shown = true
		metrics.RecordStatus(s.opts.Name, "", next.String())
	case prev != next:
		s.log.Info("status changed", "from", prev.String(), "to", next.String())
		metrics.RecordStatus(s.opts.Name, prev.String(), next.String())
	default:
		s.publish()
		return
	}
	if s.display != nil {
		s.display.SetStatus(next, next.Tooltip(s.opts.DisplayName))
	}
	s.publish()
}

func (s *Supervisor) publish() {
	snap := Snapshot{
		Status:      s.status.String(),
		Tooltip:     s.status.Tooltip(s.opts.DisplayName),
		URL:         s.opts.URL,
		Process:     s.ctrl.Status(),
		Probes:      s.probes,
		LaunchedAt:  s.launchedAt,
		ConnectedAt: s.connectedAt,
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}
