package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *memSink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func TestDispatcher_DeliversInOrderAndCloses(t *testing.T) {
	a, b := &memSink{}, &memSink{err: errors.New("down")}
	d := NewDispatcher(nil, a, b)
	d.Record(Event{Type: EventStart, Record: Record{Name: "comfyui", PID: 10}})
	d.Record(Event{Type: EventConnected, Record: Record{Name: "comfyui", PID: 10}})
	d.Record(Event{Type: EventStop, OccurredAt: time.Unix(1, 0), Record: Record{Name: "comfyui", PID: 10}})
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, s := range []*memSink{a, b} {
		if len(s.events) != 3 || !s.closed {
			t.Fatalf("sink got %d events closed=%t", len(s.events), s.closed)
		}
	}
	if a.events[0].Type != EventStart || a.events[2].Type != EventStop {
		t.Fatalf("order lost: %+v", a.events)
	}
	if a.events[0].OccurredAt.IsZero() {
		t.Fatalf("OccurredAt should be stamped")
	}
	// after close: no panic, no delivery
	d.Record(Event{Type: EventExit})
	if err := d.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

type blockingSink struct{ release chan struct{} }

func (b *blockingSink) Send(ctx context.Context, _ Event) error {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	bs := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(nil, bs)
	for i := 0; i < 200; i++ {
		d.Record(Event{Type: EventStart})
	}
	if d.Dropped() == 0 {
		t.Fatalf("expected drops with a stalled sink")
	}
	close(bs.release)
	_ = d.Close()
}
