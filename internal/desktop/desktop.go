// Package desktop hands URLs and folders to the user's desktop environment.
package desktop

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
)

var ErrPathNotExist = errors.New("path does not exist")

// Launcher starts a helper program and does not wait for it.
type Launcher func(name string, args ...string) error

// Opener opens things with the platform's default handler.
type Opener struct {
	log    *slog.Logger
	goos   string
	launch Launcher
}

func New(log *slog.Logger) *Opener {
	if log == nil {
		log = slog.Default()
	}
	return &Opener{log: log, goos: runtime.GOOS, launch: startDetached}
}

// WithLauncher replaces how helper programs are started (tests).
func (o *Opener) WithLauncher(goos string, l Launcher) *Opener {
	o.goos = goos
	o.launch = l
	return o
}

// OpenURL opens url in the default browser; a new tab in most browsers.
func (o *Opener) OpenURL(url string) error {
	name, args := o.urlCommand(url)
	if err := o.launch(name, args...); err != nil {
		o.log.Error("open url failed", "url", url, "error", err)
		return fmt.Errorf("open %s: %w", url, err)
	}
	o.log.Info("opened url", "url", url)
	return nil
}

// OpenFolder opens path in the file manager. A missing path is logged and
// reported as ErrPathNotExist; nothing is launched.
func (o *Opener) OpenFolder(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			o.log.Warn("folder does not exist", "path", path)
			return fmt.Errorf("%w: %s", ErrPathNotExist, path)
		}
		o.log.Error("stat folder failed", "path", path, "error", err)
		return err
	}
	if !fi.IsDir() {
		o.log.Warn("not a folder", "path", path)
		return fmt.Errorf("%w: %s is not a directory", ErrPathNotExist, path)
	}
	name, args := o.folderCommand(path)
	if err := o.launch(name, args...); err != nil {
		o.log.Error("open folder failed", "path", path, "error", err)
		return fmt.Errorf("open %s: %w", path, err)
	}
	o.log.Info("opened folder", "path", path)
	return nil
}

func (o *Opener) urlCommand(url string) (string, []string) {
	switch o.goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return "xdg-open", []string{url}
	}
}

func (o *Opener) folderCommand(path string) (string, []string) {
	switch o.goos {
	case "darwin":
		return "open", []string{path}
	case "windows":
		return "explorer", []string{path}
	default:
		return "xdg-open", []string{path}
	}
}

func startDetached(name string, args ...string) error {
	// #nosec G204 -- fixed helper programs, argument is a URL or path we built
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
