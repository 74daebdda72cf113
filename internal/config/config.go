package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/comfytray/internal/env"
	"github.com/loykin/comfytray/internal/logger"
	"github.com/loykin/comfytray/internal/process"
	"github.com/spf13/viper"
)

// The readiness endpoint is not configurable: the service is always launched
// with its default listen address.
const (
	ServiceHost = "127.0.0.1"
	ServicePort = 8188
)

// EnvPrefix is the prefix for environment overrides, e.g. COMFYTRAY_TIMING_GRACE_PERIOD.
const EnvPrefix = "COMFYTRAY"

var ErrInvalid = errors.New("invalid config")

// Config is the top-level TOML structure. Every key has a default so an
// empty or missing file yields a working setup.
type Config struct {
	Service ServiceConfig `toml:"service" mapstructure:"service"`
	Models  ModelsConfig  `toml:"models" mapstructure:"models"`
	Timing  TimingConfig  `toml:"timing" mapstructure:"timing"`
	Lock    LockConfig    `toml:"lock" mapstructure:"lock"`
	Log     logger.Config `toml:"log" mapstructure:"log"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	API     APIConfig     `toml:"api" mapstructure:"api"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
}

type ServiceConfig struct {
	Name          string   `toml:"name" mapstructure:"name"`
	DisplayName   string   `toml:"display_name" mapstructure:"display_name"`
	Command       string   `toml:"command" mapstructure:"command"`
	Script        string   `toml:"script" mapstructure:"script"`
	Root          string   `toml:"root" mapstructure:"root"`
	BaseDirectory string   `toml:"base_directory" mapstructure:"base_directory"`
	ExtraArgs     []string `toml:"extra_args" mapstructure:"extra_args"`
	AutoLaunch    bool     `toml:"auto_launch" mapstructure:"auto_launch"`
	Version       string   `toml:"version" mapstructure:"version"`
	EnvPrefix     string   `toml:"env_prefix" mapstructure:"env_prefix"`
	Env           []string `toml:"env" mapstructure:"env"`
	EnvFiles      []string `toml:"env_files" mapstructure:"env_files"`
	Icon          string   `toml:"icon" mapstructure:"icon"` // relative to root unless absolute
}

type ModelsConfig struct {
	Local  string `toml:"local" mapstructure:"local"`
	Global string `toml:"global" mapstructure:"global"`
}

type TimingConfig struct {
	GracePeriod   time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	ReadyInterval time.Duration `toml:"ready_interval" mapstructure:"ready_interval"`
	LiveInterval  time.Duration `toml:"live_interval" mapstructure:"live_interval"`
	ProbeTimeout  time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
}

type LockConfig struct {
	Name string `toml:"name" mapstructure:"name"`
}

// HistoryConfig lists lifecycle-event sinks by DSN (sqlite://, postgres://,
// clickhouse://, opensearch(s)://).
type HistoryConfig struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	Sinks   []string `toml:"sinks" mapstructure:"sinks"`
}

type APIConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "comfyui")
	v.SetDefault("service.display_name", "ComfyUI")
	v.SetDefault("service.command", "python3")
	v.SetDefault("service.script", "main.py")
	v.SetDefault("service.root", defaultRoot())
	v.SetDefault("service.base_directory", "~/comfyui")
	v.SetDefault("service.extra_args", []string{})
	v.SetDefault("service.auto_launch", true)
	v.SetDefault("service.version", "")
	v.SetDefault("service.env_prefix", "COMFYUI")
	v.SetDefault("service.env", []string{})
	v.SetDefault("service.env_files", []string{})
	v.SetDefault("service.icon", "tray_icon.ico")

	v.SetDefault("models.local", "~/comfyui/models")
	v.SetDefault("models.global", "/mnt/vfx/projects/SSELibrary/work/comfyui/models")

	v.SetDefault("timing.grace_period", process.DefaultGracePeriod)
	v.SetDefault("timing.ready_interval", time.Second)
	v.SetDefault("timing.live_interval", 5*time.Second)
	v.SetDefault("timing.probe_timeout", 500*time.Millisecond)

	v.SetDefault("lock.name", "comfyui_tray_lock")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.dir", "")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.sinks", []string{})

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", "127.0.0.1:8189")
	v.SetDefault("api.base_path", "")

	v.SetDefault("metrics.enabled", false)
}

// defaultRoot is where the service's entry script lives: the package root
// exported by the environment, else the directory holding our executable.
func defaultRoot() string {
	if r := os.Getenv("REZ_COMFYUI_ROOT"); r != "" {
		return r
	}
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// Load reads path (optional; "" means defaults only), applies COMFYTRAY_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.expandPaths(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Service.Root, &c.Service.BaseDirectory, &c.Models.Local, &c.Models.Global, &c.Service.Icon, &c.Log.File.Path, &c.Log.File.Dir} {
		x, err := ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = x
	}
	return nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") && !strings.HasPrefix(p, `~\`) {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", p, err)
	}
	return filepath.Join(home, p[1:]), nil
}

// Validate checks the invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Service.Name) == "" {
		errs = append(errs, errors.New("service.name is required"))
	}
	if strings.TrimSpace(c.Service.Command) == "" {
		errs = append(errs, errors.New("service.command is required"))
	}
	for k, d := range map[string]time.Duration{
		"timing.grace_period":   c.Timing.GracePeriod,
		"timing.ready_interval": c.Timing.ReadyInterval,
		"timing.live_interval":  c.Timing.LiveInterval,
		"timing.probe_timeout":  c.Timing.ProbeTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", k, d))
		}
	}
	if strings.TrimSpace(c.Lock.Name) == "" {
		errs = append(errs, errors.New("lock.name is required"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.API.Enabled {
		if err := checkLoopback(c.API.Listen); err != nil {
			errs = append(errs, fmt.Errorf("api.listen: %w", err))
		}
	}
	if c.History.Enabled && len(c.History.Sinks) == 0 {
		errs = append(errs, errors.New("history.enabled requires at least one sink"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func checkLoopback(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("bad port %q", port)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("%q is not a loopback address", host)
	}
	return nil
}

// ServiceURL is the address the browser tab is opened at.
func (c *Config) ServiceURL() string {
	return "http://" + net.JoinHostPort(ServiceHost, strconv.Itoa(ServicePort))
}

// IconPath resolves service.icon against the root. Empty means no icon file.
func (c *Config) IconPath() string {
	if c.Service.Icon == "" || filepath.IsAbs(c.Service.Icon) {
		return c.Service.Icon
	}
	return filepath.Join(c.Service.Root, c.Service.Icon)
}

// FirstStartArgs are appended to the very first automatic launch only.
func (c *Config) FirstStartArgs() []string {
	if c.Service.AutoLaunch {
		return []string{"--auto-launch"}
	}
	return nil
}

// Environment composes the child's environment: OS env, env files, the
// package manifest variables and finally service.env.
func (c *Config) Environment() ([]string, error) {
	e := env.New()
	for _, p := range c.Service.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for k, v := range pairs {
			e.Set(k, v)
		}
	}
	env.Manifest{Prefix: c.Service.EnvPrefix, Root: c.Service.Root, Version: c.Service.Version}.Apply(e)
	return e.Merge(c.Service.Env), nil
}

// ProcessSpec builds the launch description for the service:
// <command> <root>/<script> --base-directory <dir> [extra_args...]
func (c *Config) ProcessSpec() (process.Spec, error) {
	environ, err := c.Environment()
	if err != nil {
		return process.Spec{}, err
	}
	script := c.Service.Script
	if !filepath.IsAbs(script) {
		script = filepath.Join(c.Service.Root, script)
	}
	args := []string{script}
	if c.Service.BaseDirectory != "" {
		args = append(args, "--base-directory", c.Service.BaseDirectory)
	}
	args = append(args, c.Service.ExtraArgs...)
	return process.Spec{
		Name:        c.Service.Name,
		Command:     c.Service.Command,
		Args:        args,
		Env:         environ,
		GracePeriod: c.Timing.GracePeriod,
	}, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	p, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Clean(p))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			m[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return m, nil
}
