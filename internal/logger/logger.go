package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes where the supervisor writes its own diagnostics and,
// optionally, where the supervised child's output is captured.
type Config struct {
	Level string     `mapstructure:"level"` // debug, info, warn, error (default info)
	Color *bool      `mapstructure:"color"` // nil means auto-detect from the output stream
	File  FileConfig `mapstructure:"file"`
}

// FileConfig describes rotated log files.
// If StdoutPath/StderrPath are empty and Dir is set, child output goes to
// Dir/<name>.stdout.log and Dir/<name>.stderr.log.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Path       string `mapstructure:"path"`        // supervisor log file, in addition to stdout
	Dir        string `mapstructure:"dir"`         // base directory for child output capture
	StdoutPath string `mapstructure:"stdout_path"` // explicit child stdout path overrides Dir
	StderrPath string `mapstructure:"stderr_path"` // explicit child stderr path overrides Dir
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func (f FileConfig) rotated(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

// ProcessWriters returns rotated writers for the child's stdout and stderr.
// Either may be nil when nothing is configured for that stream.
func (c Config) ProcessWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.File.StdoutPath
	stderr := c.File.StderrPath
	if c.File.Dir != "" {
		if err := os.MkdirAll(c.File.Dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		if stdout == "" {
			stdout = filepath.Join(c.File.Dir, fmt.Sprintf("%s.stdout.log", name))
		}
		if stderr == "" {
			stderr = filepath.Join(c.File.Dir, fmt.Sprintf("%s.stderr.log", name))
		}
	}
	var outW, errW io.WriteCloser
	if stdout != "" {
		outW = c.File.rotated(stdout)
	}
	if stderr != "" {
		errW = c.File.rotated(stderr)
	}
	return outW, errW, nil
}

// New builds the supervisor logger. Everything is routed through SafeWriter so a
// console that disappears underneath us never turns into a crash.
// The returned closer releases the rotated file, if any.
func New(c Config, out *os.File) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	color := isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())
	if c.Color != nil {
		color = *c.Color
	}
	var console slog.Handler
	if color {
		console = NewColorTextHandler(NewSafeWriter(out), opts, true)
	} else {
		console = slog.NewTextHandler(NewSafeWriter(out), opts)
	}

	if c.File.Path == "" {
		return slog.New(console), nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.File.Path), 0o750); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	file := c.File.rotated(c.File.Path)
	h := &fanout{handlers: []slog.Handler{console, slog.NewTextHandler(NewSafeWriter(file), opts)}}
	return slog.New(h), file, nil
}

// ParseLevel maps a config string to a slog level; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	s = strings.TrimSpace(s)
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
