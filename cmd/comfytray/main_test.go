package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/comfytray"
	"github.com/loykin/comfytray/internal/process"
	"github.com/loykin/comfytray/internal/supervisor"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "comfytray.toml")
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestHelpListsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("help should succeed: %v", err)
	}
	for _, want := range []string{"comfytray", "--headless", "--no-auto-launch", "--log-level", "status", "restart", "version"} {
		if !strings.Contains(out, want) {
			t.Fatalf("help output lacks %q:\n%s", want, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	cfg := writeConfig(t, `
[service]
version = "1.0.0.sse.1.0.1"
`)
	out, err := execute(t, "--config", cfg, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "comfytray "+comfytray.Version) {
		t.Fatalf("missing own version: %s", out)
	}
	if !strings.Contains(out, "ComfyUI 1.0.0 (package 1.0.1)") {
		t.Fatalf("missing service version: %s", out)
	}
}

func TestRootRejectsBadLogLevel(t *testing.T) {
	if _, err := execute(t, "--log-level", "loud", "--headless"); err == nil {
		t.Fatal("expected invalid log level to fail")
	}
}

func TestAPIURLFromConfig(t *testing.T) {
	cfg := writeConfig(t, `
[api]
listen = "127.0.0.1:9911"
base_path = "/comfy/"
`)
	u, err := apiURL(&GlobalFlags{ConfigPath: cfg}, &APIFlags{})
	if err != nil {
		t.Fatalf("apiURL: %v", err)
	}
	if u != "http://127.0.0.1:9911/comfy" {
		t.Fatalf("unexpected url %s", u)
	}
	u, _ = apiURL(&GlobalFlags{}, &APIFlags{APIUrl: "http://127.0.0.1:1/x/"})
	if u != "http://127.0.0.1:1/x" {
		t.Fatalf("explicit url not honored: %s", u)
	}
}

func TestStatusCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(supervisor.Snapshot{
			Status:  "disconnected",
			Tooltip: "ComfyUI: Disconnected",
			URL:     "http://127.0.0.1:8188",
			Process: process.Status{Name: "comfyui", State: "stopped", PID: 12, Starts: 2, Exit: "exit status 1"},
		})
	}))
	defer server.Close()

	out, err := execute(t, "status", "--api-url", server.URL)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"ComfyUI: Disconnected", "pid 12", "starts 2", "exit status 1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output lacks %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "status", "--api-url", server.URL, "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var snap supervisor.Snapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("json output: %v\n%s", err, out)
	}
	if snap.Status != "disconnected" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
