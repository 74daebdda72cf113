package process

import "time"

// State is the controller's lifecycle state.
// Stopping is only ever visible from inside Stop.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the current child.
type Status struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	Args      []string  `json:"args"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitErr   error     `json:"-"`
	Exit      string    `json:"exit,omitempty"`
	Starts    int       `json:"starts"`
	Kills     int       `json:"kills"`
}
