package supervisor

import (
	"sync"
	"time"
)

// pollTimer calls fire every period until cancelled. fire runs on the timer's
// own goroutine and is expected only to hand a message to the event loop.
type pollTimer struct {
	stop chan struct{}
	once sync.Once
}

func newPollTimer(period time.Duration, fire func(stop <-chan struct{})) *pollTimer {
	t := &pollTimer{stop: make(chan struct{})}
	go func() {
		tk := time.NewTicker(period)
		defer tk.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-tk.C:
				fire(t.stop)
			}
		}
	}()
	return t
}

// Cancel stops future ticks. Safe to call more than once and on nil.
func (t *pollTimer) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.stop) })
}
