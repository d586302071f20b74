package session

import (
	"context"
	"sync"
	"time"
)

// Ticker re-renders an outcome's timer at a fixed interval.
//
// It is a cancellable repeating task: started on session entry, stopped on
// teardown or when the timer completes, never left running. It performs no
// reconciliation and no store access; it only re-derives remaining/elapsed
// from the anchors captured in the outcome.
//
// Design notes:
//   - Ticks is closed when the loop exits, so consumers can range over it.
//   - Stop is idempotent and safe from any goroutine.
type Ticker struct {
	interval time.Duration
	outcome  Outcome

	ticks    chan Tick
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTicker constructs a Ticker for the given outcome. A non-positive
// interval falls back to one second.
func NewTicker(interval time.Duration, outcome Outcome) *Ticker {
	if interval <= 0 {
		interval = 1 * time.Second
	}
	return &Ticker{
		interval: interval,
		outcome:  outcome,
		ticks:    make(chan Tick),
		stop:     make(chan struct{}),
	}
}

// Ticks returns the update channel. It is closed when the ticker stops.
func (t *Ticker) Ticks() <-chan Tick { return t.ticks }

// Stop cancels the ticker (idempotent).
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
}

// Start launches the tick loop. The loop exits on Stop, context cancellation,
// or a Done tick (countdown reached zero / nothing to render), and always
// releases its timer resources.
func (t *Ticker) Start(ctx context.Context) {
	go func() {
		defer close(t.ticks)

		tk := time.NewTicker(t.interval)
		defer tk.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			case now := <-tk.C:
				tick := t.outcome.TickAt(now.UTC())

				select {
				case <-ctx.Done():
					return
				case <-t.stop:
					return
				case t.ticks <- tick:
				}

				if tick.Done {
					return
				}
			}
		}
	}()
}
