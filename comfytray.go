// Package comfytray assembles the tray supervisor: instance guard, process
// controller, readiness prober, history, metrics, control API and the tray
// (or headless) display around a supervisor.Supervisor.
package comfytray

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/loykin/comfytray/internal/config"
	"github.com/loykin/comfytray/internal/desktop"
	"github.com/loykin/comfytray/internal/history"
	"github.com/loykin/comfytray/internal/history/factory"
	"github.com/loykin/comfytray/internal/instance"
	"github.com/loykin/comfytray/internal/metrics"
	"github.com/loykin/comfytray/internal/probe"
	"github.com/loykin/comfytray/internal/process"
	iapi "github.com/loykin/comfytray/internal/server"
	"github.com/loykin/comfytray/internal/supervisor"
	"github.com/loykin/comfytray/internal/tray"
)

// Re-export the types embedders need.

type Config = config.Config

type Snapshot = supervisor.Snapshot

type Status = supervisor.Status

// ErrAlreadyRunning is returned by New when another instance holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Version of comfytray itself, set at build time with -ldflags.
var Version = "dev"

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

type Options struct {
	Headless     bool // log status instead of showing a tray icon
	NoAutoLaunch bool // never pass --auto-launch, even on the first start
	// Display overrides the tray/headless display; used by embedders and tests.
	Display supervisor.Display
}

// App is one running supervisor with everything wired around it.
type App struct {
	cfg *Config
	log *slog.Logger

	guard      *instance.Guard
	ctrl       *process.Controller
	sup        *supervisor.Supervisor
	tray       *tray.Tray
	dispatcher *history.Dispatcher
	sampler    *metrics.Sampler
	registry   *prometheus.Registry
	api        *http.Server

	closers []io.Closer
}

// New acquires the single-instance lock and builds the app. It neither
// starts the service nor shows any UI; Run does that. When the lock is held
// elsewhere New returns ErrAlreadyRunning and nothing else happens.
func New(cfg *Config, log *slog.Logger, opts Options) (a *App, err error) {
	if log == nil {
		log = slog.Default()
	}
	guard := instance.New(cfg.Lock.Name)
	if !guard.TryAcquire() {
		return nil, ErrAlreadyRunning
	}
	a = &App{cfg: cfg, log: log, guard: guard}
	defer func() {
		if err != nil {
			a.closeAll()
			_ = guard.Release()
		}
	}()

	spec, err := cfg.ProcessSpec()
	if err != nil {
		return nil, fmt.Errorf("build process spec: %w", err)
	}
	stdout, stderr, err := cfg.Log.ProcessWriters(cfg.Service.Name)
	if err != nil {
		return nil, err
	}
	if stdout != nil {
		spec.Stdout = stdout
		a.closers = append(a.closers, stdout)
	}
	if stderr != nil {
		spec.Stderr = stderr
		a.closers = append(a.closers, stderr)
	}

	var rec supervisor.Recorder
	if cfg.History.Enabled {
		sinks, err := factory.NewSinks(cfg.History.Sinks)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		a.dispatcher = history.NewDispatcher(log.With("component", "history"), sinks...)
		rec = a.dispatcher
	}

	a.sampler = metrics.NewSampler(0)
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := metrics.Register(a.registry); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		if err := a.sampler.Register(a.registry); err != nil {
			return nil, fmt.Errorf("register sampler: %w", err)
		}
	}

	a.ctrl = process.NewController(spec, log.With("component", "process"), supervisor.LifecycleCallbacks(rec))

	prober, err := probe.NewTCP(config.ServiceHost, config.ServicePort, cfg.Timing.ProbeTimeout)
	if err != nil {
		return nil, err
	}

	first := cfg.FirstStartArgs()
	if opts.NoAutoLaunch {
		first = nil
	}

	display := opts.Display
	if display == nil {
		if opts.Headless {
			display = tray.NewHeadless(log.With("component", "status"))
		} else {
			a.tray = tray.New(cfg.Service.DisplayName, nil, cfg.IconPath(), log.With("component", "tray"))
			display = a.tray
		}
	}

	a.sup, err = supervisor.New(supervisor.Options{
		Name:          cfg.Service.Name,
		DisplayName:   cfg.Service.DisplayName,
		URL:           cfg.ServiceURL(),
		LocalModels:   cfg.Models.Local,
		GlobalModels:  cfg.Models.Global,
		FirstStart:    first,
		ReadyInterval: cfg.Timing.ReadyInterval,
		LiveInterval:  cfg.Timing.LiveInterval,
	}, supervisor.Deps{
		Controller: a.ctrl,
		Prober:     prober,
		Opener:     desktop.New(log.With("component", "desktop")),
		Display:    display,
		Recorder:   rec,
		Sampler:    a.sampler,
		Log:        log.With("component", "supervisor"),
	})
	if err != nil {
		return nil, err
	}
	if a.tray != nil {
		a.tray.Bind(a.sup)
	}

	if cfg.API.Enabled {
		a.api, err = iapi.NewServer(cfg.API.Listen, a.router(cfg.API.BasePath), log.With("component", "api"))
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Supervisor exposes the facade for menu-less embedders.
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// Handler returns the control API as an http.Handler rooted at basePath,
// independent of the [api] listener.
func (a *App) Handler(basePath string) http.Handler { return a.router(basePath).Handler() }

// MountEcho serves the control API from an existing echo server.
func (a *App) MountEcho(e *echo.Echo, basePath string) { a.router(basePath).MountEcho(e) }

func (a *App) router(basePath string) *iapi.Router {
	var mh http.Handler
	if a.registry != nil {
		mh = metrics.HandlerFor(a.registry)
	}
	return iapi.NewRouter(a.sup, basePath, mh, a.sampler)
}

// Run starts the service and blocks until Quit, or until ctx is cancelled.
// With a tray, Run must be called from the main goroutine. Resources are
// released before Run returns.
func (a *App) Run(ctx context.Context) error {
	defer a.closeAll()

	runErr := make(chan error, 1)
	go func() { runErr <- a.sup.Run(ctx) }()

	if a.tray != nil {
		go func() {
			<-a.sup.Done()
			a.tray.Quit()
		}()
		a.tray.Run()
		// the tray can exit on its own (session ended); take the service down with it
		if err := a.sup.Quit(); err != nil && !errors.Is(err, supervisor.ErrClosed) {
			a.log.Error("quit after tray exit", "error", err)
		}
	}
	err := <-runErr
	a.log.Info("supervisor exited", "status", a.sup.Status().Status)
	return err
}

func (a *App) closeAll() {
	if a.api != nil {
		if err := iapi.Shutdown(a.api, 2*time.Second); err != nil {
			a.log.Warn("control api shutdown", "error", err)
		}
		a.api = nil
	}
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(); err != nil {
			a.log.Warn("history close", "error", err)
		}
		if n := a.dispatcher.Dropped(); n > 0 {
			a.log.Warn("history events dropped", "count", n)
		}
		a.dispatcher = nil
	}
	for _, c := range a.closers {
		_ = c.Close()
	}
	a.closers = nil
}
