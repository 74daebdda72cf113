package supervisor

import (
	"time"

	"github.com/loykin/comfytray/internal/history"
	"github.com/loykin/comfytray/internal/process"
)

// Recorder receives lifecycle events; history.Dispatcher implements it.
type Recorder interface {
	Record(e history.Event)
}

type nopRecorder struct{}

func (nopRecorder) Record(history.Event) {}

func recordOf(st process.Status, status string) history.Record {
	return history.Record{
		Name:      st.Name,
		PID:       st.PID,
		Status:    status,
		Args:      st.Args,
		StartedAt: st.StartedAt,
		StoppedAt: st.StoppedAt,
		ExitErr:   st.Exit,
	}
}

func event(t history.EventType, st process.Status, status string) history.Event {
	return history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: recordOf(st, status)}
}

// LifecycleCallbacks turns controller transitions into history events.
func LifecycleCallbacks(rec Recorder) process.Callbacks {
	if rec == nil {
		rec = nopRecorder{}
	}
	return process.Callbacks{
		Started: func(st process.Status) { rec.Record(event(history.EventStart, st, st.State)) },
		Killed:  func(st process.Status) { rec.Record(event(history.EventKill, st, st.State)) },
		Stopped: func(st process.Status) { rec.Record(event(history.EventStop, st, st.State)) },
	}
}
