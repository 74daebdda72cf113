package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// helper to close non-nil closers and ignore errors
func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestProcessWriters_WithDirOnly(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "child")
	cfg := Config{File: FileConfig{Dir: dir}}
	outW, errW, err := cfg.ProcessWriters("comfyui")
	if err != nil {
		t.Fatalf("ProcessWriters error: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatalf("expected both writers non-nil when Dir is set")
	}
	_, _ = outW.Write([]byte("hello-out\n"))
	_, _ = errW.Write([]byte("hello-err\n"))
	closeIf(outW)
	closeIf(errW)
	for _, p := range []string{"comfyui.stdout.log", "comfyui.stderr.log"} {
		if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
			t.Fatalf("%s not created: %v", p, err)
		}
	}
}

func TestProcessWriters_Defaults(t *testing.T) {
	outW, errW, _ := Config{}.ProcessWriters("n")
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers when no Dir/stdout/stderr set")
	}
	cfg := Config{File: FileConfig{StdoutPath: "x", StderrPath: "y"}}
	outW, errW, _ = cfg.ProcessWriters("n")
	ol, ok1 := outW.(*lj.Logger)
	el, ok2 := errW.(*lj.Logger)
	if !ok1 || !ok2 {
		t.Fatalf("writers are not lumberjack.Logger")
	}
	if ol.MaxSize != 10 || ol.MaxBackups != 3 || ol.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", ol.MaxSize, ol.MaxBackups, ol.MaxAge)
	}
	if el.MaxSize != 10 || el.MaxBackups != 3 || el.MaxAge != 7 {
		t.Fatalf("unexpected defaults (stderr): size=%d backups=%d age=%d", el.MaxSize, el.MaxBackups, el.MaxAge)
	}
}

func TestProcessWriters_Overrides(t *testing.T) {
	cfg := Config{File: FileConfig{StdoutPath: "x2", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}}
	outW, errW, _ := cfg.ProcessWriters("n")
	if errW != nil {
		t.Fatalf("expected stdout writer only")
	}
	ol := outW.(*lj.Logger)
	if ol.MaxSize != 1 || ol.MaxBackups != 9 || ol.MaxAge != 11 || !ol.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", ol.MaxSize, ol.MaxBackups, ol.MaxAge, ol.Compress)
	}
}

func TestSafeWriter_ClosedFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	_ = f.Close()
	w := NewSafeWriter(f)
	n, err := w.Write([]byte("lost"))
	if err != nil || n != 4 {
		t.Fatalf("expected swallowed write, got n=%d err=%v", n, err)
	}
	if !w.Detached() {
		t.Fatalf("expected writer to detach after writing to a closed file")
	}
}

func TestSafeWriter_ClosedPipe(t *testing.T) {
	r, pw := io.Pipe()
	_ = r.Close()
	w := NewSafeWriter(pw)
	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.Detached() {
		t.Fatalf("expected detach on closed pipe")
	}
}

func TestSafeWriter_PassThrough(t *testing.T) {
	var buf bytes.Buffer
	w := NewSafeWriter(&buf)
	_, _ = w.Write([]byte("abc"))
	if buf.String() != "abc" || w.Detached() {
		t.Fatalf("unexpected state: %q detached=%t", buf.String(), w.Detached())
	}
}

func TestNew_FileAndConsole(t *testing.T) {
	dir := t.TempDir()
	out, err := os.Create(filepath.Join(dir, "console.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer closeIf(out)
	off := false
	logPath := filepath.Join(dir, "logs", "tray.log")
	l, closer, err := New(Config{Level: "debug", Color: &off, File: FileConfig{Path: logPath}}, out)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Debug("probe", "port", 8188)
	closeIf(closer)

	for _, p := range []string{out.Name(), logPath} {
		b, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		if !strings.Contains(string(b), "port=8188") {
			t.Fatalf("%s missing record: %q", p, string(b))
		}
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, _, err := New(Config{Level: "loud"}, os.Stdout); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestColorTextHandler_PrefixesLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, nil, false)
	l := slog.New(h)
	l.Warn("escalating")
	s := buf.String()
	if !strings.Contains(s, "\033[33mWARN") {
		t.Fatalf("missing colored level: %q", s)
	}
	if strings.Contains(s, "time=") {
		t.Fatalf("time attr should be dropped: %q", s)
	}
}
