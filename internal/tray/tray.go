// Package tray puts the supervisor behind a system-tray icon.
package tray

import (
	"errors"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"fyne.io/systray"

	"github.com/loykin/comfytray/internal/supervisor"
)

// Commands is the part of the supervisor the menu drives.
type Commands interface {
	OpenTab() error
	BrowseLocalModels() error
	BrowseGlobalModels() error
	Restart() error
	Quit() error
}

type item int

const (
	itemOpenTab item = iota
	itemBrowseLocal
	itemBrowseGlobal
	itemRestart
	itemQuit
)

var menu = []struct {
	item    item
	title   string
	tooltip string
}{
	{itemOpenTab, "New Tab", "Open the web UI in the browser"},
	{itemBrowseLocal, "Browse Local Models", "Open the local models folder"},
	{itemBrowseGlobal, "Browse Global Models", "Open the shared models folder"},
	{itemRestart, "Restart", "Restart the service"},
	{itemQuit, "Quit", "Stop the service and exit"},
}

// Tray implements supervisor.Display on top of fyne.io/systray.
type Tray struct {
	title string
	cmds  Commands
	log   *slog.Logger
	icon  []byte // fixed icon from disk; nil means per-status icons

	mu      sync.Mutex
	ready   bool
	status  supervisor.Status
	tooltip string

	// swapped in tests
	quit       func()
	setIcon    func([]byte)
	setTooltip func(string)
}

// New builds a tray. iconPath may name an .ico/.png file; when it is empty
// or unreadable a generated status icon is used instead.
func New(title string, cmds Commands, iconPath string, log *slog.Logger) *Tray {
	if log == nil {
		log = slog.Default()
	}
	t := &Tray{
		title:      title,
		cmds:       cmds,
		log:        log,
		status:     supervisor.StatusStarting,
		tooltip:    supervisor.StatusStarting.Tooltip(title),
		quit:       systray.Quit,
		setIcon:    systray.SetIcon,
		setTooltip: systray.SetTooltip,
	}
	if iconPath != "" {
		b, err := os.ReadFile(iconPath)
		if err != nil {
			log.Debug("tray icon not loaded, using generated icon", "path", iconPath, "error", err)
		} else {
			t.icon = b
		}
	}
	return t
}

// Bind sets the command target. It must be called before Run when New was
// given nil commands.
func (t *Tray) Bind(cmds Commands) { t.cmds = cmds }

// Run blocks in the platform's tray loop until Quit. On macOS it must be
// called from the main goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() { t.log.Debug("tray loop exited") })
}

// Quit tears down the tray loop without touching the service.
func (t *Tray) Quit() { t.quit() }

// SetStatus updates tooltip and icon. Calls made before the tray is ready
// are applied once it is.
func (t *Tray) SetStatus(s supervisor.Status, tooltip string) {
	t.mu.Lock()
	t.status, t.tooltip = s, tooltip
	ready := t.ready
	t.mu.Unlock()
	if ready {
		t.apply(s, tooltip)
	}
}

func (t *Tray) apply(s supervisor.Status, tooltip string) {
	t.setTooltip(tooltip)
	if t.icon == nil {
		t.setIcon(iconFor(s, runtime.GOOS))
	}
}

func (t *Tray) onReady() {
	if t.icon != nil {
		systray.SetIcon(t.icon)
	}
	if runtime.GOOS == "darwin" {
		systray.SetTitle("")
	}

	items := make(map[item]*systray.MenuItem, len(menu))
	for _, m := range menu {
		if m.item == itemQuit {
			systray.AddSeparator()
		}
		items[m.item] = systray.AddMenuItem(m.title, m.tooltip)
	}

	t.mu.Lock()
	t.ready = true
	s, tip := t.status, t.tooltip
	t.mu.Unlock()
	t.apply(s, tip)

	go t.handleClicks(items)
}

func (t *Tray) handleClicks(items map[item]*systray.MenuItem) {
	for {
		select {
		case <-items[itemOpenTab].ClickedCh:
			t.dispatch(itemOpenTab)
		case <-items[itemBrowseLocal].ClickedCh:
			t.dispatch(itemBrowseLocal)
		case <-items[itemBrowseGlobal].ClickedCh:
			t.dispatch(itemBrowseGlobal)
		case <-items[itemRestart].ClickedCh:
			t.dispatch(itemRestart)
		case <-items[itemQuit].ClickedCh:
			t.dispatch(itemQuit)
			return
		}
	}
}

// dispatch runs one menu action. Errors are logged; the menu stays usable.
func (t *Tray) dispatch(it item) {
	var err error
	switch it {
	case itemOpenTab:
		err = t.cmds.OpenTab()
	case itemBrowseLocal:
		err = t.cmds.BrowseLocalModels()
	case itemBrowseGlobal:
		err = t.cmds.BrowseGlobalModels()
	case itemRestart:
		err = t.cmds.Restart()
	case itemQuit:
		err = t.cmds.Quit()
		t.quit()
	}
	if err != nil && !errors.Is(err, supervisor.ErrClosed) {
		t.log.Warn("menu action failed", "action", menu[it].title, "error", err)
	}
}
