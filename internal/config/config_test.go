package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "comfytray.toml")
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "comfyui", c.Service.Name)
	require.Equal(t, "python3", c.Service.Command)
	require.Equal(t, filepath.Join(home, "comfyui"), c.Service.BaseDirectory)
	require.Equal(t, filepath.Join(home, "comfyui", "models"), c.Models.Local)
	require.Equal(t, "/mnt/vfx/projects/SSELibrary/work/comfyui/models", c.Models.Global)
	require.Equal(t, 10*time.Second, c.Timing.GracePeriod)
	require.Equal(t, time.Second, c.Timing.ReadyInterval)
	require.Equal(t, 5*time.Second, c.Timing.LiveInterval)
	require.Equal(t, 500*time.Millisecond, c.Timing.ProbeTimeout)
	require.Equal(t, "comfyui_tray_lock", c.Lock.Name)
	require.False(t, c.API.Enabled)
	require.Equal(t, "http://127.0.0.1:8188", c.ServiceURL())
	require.Equal(t, []string{"--auto-launch"}, c.FirstStartArgs())
	require.Equal(t, filepath.Join(c.Service.Root, "tray_icon.ico"), c.IconPath())
}

func TestLoad_FileOverrides(t *testing.T) {
	p := writeTOML(t, `
[service]
root = "/opt/comfyui"
base_directory = "/data/comfy"
extra_args = ["--lowvram"]
auto_launch = false
version = "1.0.0.sse.1.0.1"

[models]
global = "/srv/models"

[timing]
grace_period = "3s"
ready_interval = "250ms"

[log]
level = "debug"
  [log.file]
  dir = "/tmp/comfytray-logs"
  max_backups = 5

[api]
enabled = true
listen = "localhost:9000"
`)
	c, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "/opt/comfyui", c.Service.Root)
	require.Equal(t, []string{"--lowvram"}, c.Service.ExtraArgs)
	require.Nil(t, c.FirstStartArgs())
	require.Equal(t, "/srv/models", c.Models.Global)
	require.Equal(t, 3*time.Second, c.Timing.GracePeriod)
	require.Equal(t, 250*time.Millisecond, c.Timing.ReadyInterval)
	require.Equal(t, "debug", c.Log.Level)
	require.Equal(t, "/tmp/comfytray-logs", c.Log.File.Dir)
	require.Equal(t, 5, c.Log.File.MaxBackups)
	require.True(t, c.API.Enabled)

	spec, err := c.ProcessSpec()
	require.NoError(t, err)
	require.Equal(t, "python3", spec.Command)
	require.Equal(t, []string{"/opt/comfyui/main.py", "--base-directory", "/data/comfy", "--lowvram"}, spec.Args)
	require.Equal(t, 3*time.Second, spec.GracePeriod)

	vars := map[string]string{}
	for _, kv := range spec.Env {
		k, v, _ := strings.Cut(kv, "=")
		vars[k] = v
	}
	require.Equal(t, "/opt/comfyui", vars["REZ_COMFYUI_ROOT"])
	require.Equal(t, "1.0.0", vars["COMFYUI_VER"])
	require.Equal(t, "1.0.1", vars["COMFYUI_SSE_VERSION"])
	require.Contains(t, vars["PYTHONPATH"], "/opt/comfyui")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("COMFYTRAY_TIMING_GRACE_PERIOD", "2s")
	t.Setenv("COMFYTRAY_LOCK_NAME", "other_lock")
	p := writeTOML(t, "[timing]\ngrace_period = \"7s\"\n")
	c, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, c.Timing.GracePeriod, "environment wins over file")
	require.Equal(t, "other_lock", c.Lock.Name)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"zero interval": "[timing]\nready_interval = \"0s\"\n",
		"empty command": "[service]\ncommand = \"\"\n",
		"public api":    "[api]\nenabled = true\nlisten = \"0.0.0.0:8189\"\n",
		"bad level":     "[log]\nlevel = \"chatty\"\n",
		"no sinks":      "[history]\nenabled = true\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeTOML(t, data))
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalid), "got %v", err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestEnvironment_FilesAndOverrides(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("A=1\n#comment\nB=two\n"), 0o644))
	c := &Config{Service: ServiceConfig{EnvPrefix: "COMFYUI", EnvFiles: []string{dotenv}, Env: []string{"B=three", "C=${A}-x"}}}
	out, err := c.Environment()
	require.NoError(t, err)
	vars := map[string]string{}
	for _, kv := range out {
		k, v, _ := strings.Cut(kv, "=")
		vars[k] = v
	}
	require.Equal(t, "1", vars["A"])
	require.Equal(t, "three", vars["B"])
	require.Equal(t, "1-x", vars["C"])

	pairs, err := LoadEnvFile(dotenv)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	got, err := ExpandHome("~/comfyui/models")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "comfyui", "models"), got)
	got, _ = ExpandHome("/abs/~/x")
	require.Equal(t, "/abs/~/x", got)
	got, _ = ExpandHome("~user/x")
	require.Equal(t, "~user/x", got)
}

func TestIconPath(t *testing.T) {
	c := &Config{Service: ServiceConfig{Root: "/opt/comfyui"}}
	require.Equal(t, "", c.IconPath())
	c.Service.Icon = "/usr/share/icons/comfy.png"
	require.Equal(t, "/usr/share/icons/comfy.png", c.IconPath())
	c.Service.Icon = "icons/tray.ico"
	require.Equal(t, filepath.Join("/opt/comfyui", "icons", "tray.ico"), c.IconPath())
}
