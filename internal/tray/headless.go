package tray

import (
	"context"
	"log/slog"

	"github.com/loykin/comfytray/internal/supervisor"
)

// Headless reports status changes as log lines, for sessions without a tray.
type Headless struct {
	log *slog.Logger
}

func NewHeadless(log *slog.Logger) *Headless {
	if log == nil {
		log = slog.Default()
	}
	return &Headless{log: log}
}

func (h *Headless) SetStatus(s supervisor.Status, tooltip string) {
	lvl := slog.LevelInfo
	if s == supervisor.StatusDisconnected {
		lvl = slog.LevelWarn
	}
	h.log.Log(context.Background(), lvl, tooltip, "status", s.String())
}
