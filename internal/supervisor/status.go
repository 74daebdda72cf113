package supervisor

import (
	"time"

	"github.com/loykin/comfytray/internal/process"
)

// Status is what the tray shows. It is observational only; the controller
// remains the authority on whether the service runs.
type Status int32

const (
	StatusStarting Status = iota
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Tooltip renders the tray tooltip, e.g. "ComfyUI: Connected".
func (s Status) Tooltip(displayName string) string {
	switch s {
	case StatusStarting:
		return displayName + ": Starting..."
	case StatusConnected:
		return displayName + ": Connected"
	default:
		return displayName + ": Disconnected"
	}
}

// Snapshot is a read-only view of the supervisor for other goroutines.
type Snapshot struct {
	Status      string         `json:"status"`
	Tooltip     string         `json:"tooltip"`
	URL         string         `json:"url"`
	Process     process.Status `json:"process"`
	Probes      int            `json:"probes"`
	LaunchedAt  time.Time      `json:"launched_at"`
	ConnectedAt time.Time      `json:"connected_at"`
}
