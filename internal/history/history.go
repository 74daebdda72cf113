package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart     EventType = "start"
	EventStop      EventType = "stop"
	EventKill      EventType = "kill"      // grace period elapsed, forced kill issued
	EventExit      EventType = "exit"      // liveness noticed the service went away unasked
	EventConnected EventType = "connected" // readiness probe succeeded
)

// Record is the service snapshot attached to an event.
type Record struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Status    string    `json:"status"`
	Args      []string  `json:"args,omitempty"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	ExitErr   string    `json:"exit_err,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DefaultSendTimeout bounds a single Send on a sink.
const DefaultSendTimeout = 5 * time.Second

// Dispatcher fans events out to sinks on its own goroutine so that a slow
// or unreachable database never stalls the supervisor. When the queue is
// full the event is dropped and logged.
type Dispatcher struct {
	log     *slog.Logger
	sinks   []Sink
	timeout time.Duration

	queue chan Event
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	dropped int
}

func NewDispatcher(log *slog.Logger, sinks ...Sink) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		log:     log,
		sinks:   append([]Sink(nil), sinks...),
		timeout: DefaultSendTimeout,
		queue:   make(chan Event, 64),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Record enqueues e without blocking.
func (d *Dispatcher) Record(e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	defer func() {
		// Record after Close is a no-op
		_ = recover()
	}()
	select {
	case d.queue <- e:
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		d.log.Warn("history queue full, event dropped", "type", e.Type, "name", e.Record.Name)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if err := s.Send(ctx, e); err != nil {
				d.log.Warn("history sink failed", "type", e.Type, "error", err)
			}
			cancel()
		}
	}
}

// Close flushes queued events and closes every sink that is an io.Closer.
func (d *Dispatcher) Close() error {
	var errs []error
	d.once.Do(func() {
		close(d.queue)
		<-d.done
		for _, s := range d.sinks {
			if c, ok := s.(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, err)
				}
			}
		}
	})
	return errors.Join(errs...)
}
