// Package countdown runs the pre-match timer shown after a duel is matched.
// Remaining whole seconds are recomputed on a fixed tick so a coarse display
// stays accurate even if individual ticks are delayed.
package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// TickInterval is how often the remaining time is recomputed.
const TickInterval = 50 * time.Millisecond

// Timer counts down to a deadline and signals completion exactly once.
// Stopping a running timer cancels it without firing completion.
type Timer struct {
	clock clockwork.Clock
	log   zerolog.Logger

	remaining chan int
	done      chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	finished chan struct{}
}

// NewTimer creates a countdown toward deadline and starts it immediately.
func NewTimer(clock clockwork.Clock, deadline time.Time, logger zerolog.Logger) *Timer {
	t := &Timer{
		clock:     clock,
		log:       logger,
		remaining: make(chan int, 1),
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
		finished:  make(chan struct{}),
	}
	go t.run(deadline)
	return t
}

// Remaining delivers the whole-second display value whenever it changes.
// Values are coalesced; a slow reader only sees the latest one.
func (t *Timer) Remaining() <-chan int { return t.remaining }

// Done is closed when the countdown reaches zero. It never closes after
// Stop.
func (t *Timer) Done() <-chan struct{} { return t.done }

// Stop cancels the countdown. Safe to call more than once, and after
// completion, in which case it is a no-op. It does not return until the
// timer goroutine has exited.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.finished
}

func (t *Timer) run(deadline time.Time) {
	defer close(t.finished)

	ticker := t.clock.NewTicker(TickInterval)
	defer ticker.Stop()

	last := -1
	publish := func(secs int) {
		if secs == last {
			return
		}
		last = secs
		select {
		case t.remaining <- secs:
		default:
			// Drop the stale value so the fresh one lands.
			select {
			case <-t.remaining:
			default:
			}
			select {
			case t.remaining <- secs:
			default:
			}
		}
	}

	for {
		left := deadline.Sub(t.clock.Now())
		if left <= 0 {
			publish(0)
			close(t.done)
			t.log.Debug().Msg("countdown complete")
			return
		}
		// Ceiling so the display never shows zero before completion.
		publish(int((left + time.Second - 1) / time.Second))

		select {
		case <-t.stop:
			t.log.Debug().Msg("countdown cancelled")
			return
		case <-ticker.Chan():
		}
	}
}
