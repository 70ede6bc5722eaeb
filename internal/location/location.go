// Package location supplies the user's current coordinate as a continuously
// updated, possibly-absent value. Absence of a coordinate is a normal state:
// downstream code falls back to a default map center, and permission denial
// never fails the caller.
package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/Tokioace/Runnit/internal/geo"
)

// ErrPermissionDenied is reported when the platform refuses location access.
// There are no retries on denial.
var ErrPermissionDenied = errors.New("location permission denied")

// Options mirror the platform geolocation request parameters.
type Options struct {
	HighAccuracy bool
	MaxAge       time.Duration // acceptable staleness of a cached fix
	Timeout      time.Duration // per-request timeout
}

// DefaultOptions returns the operational defaults.
func DefaultOptions() Options {
	return Options{
		HighAccuracy: true,
		MaxAge:       5 * time.Second,
		Timeout:      8 * time.Second,
	}
}

// Fix is a single position report.
type Fix struct {
	Coords geo.Coordinates
	At     time.Time
}

// Provider is the platform adapter producing position fixes. Watch returns
// ErrPermissionDenied when access is refused; the fix channel is closed when
// the context ends or the platform stops reporting.
type Provider interface {
	Watch(ctx context.Context, opts Options) (<-chan Fix, error)
}

// Watcher owns a provider subscription for the lifetime of a screen. It keeps
// the freshest coordinate, exposes a denial flag, and guarantees that nothing
// is delivered after Stop returns.
type Watcher struct {
	opts  Options
	clock clockwork.Clock
	log   zerolog.Logger

	mu      sync.RWMutex
	current geo.Coordinates
	hasFix  bool
	denied  bool

	updates chan geo.Coordinates
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewWatcher starts watching the provider. A denial is recorded, not
// returned: callers read it from Denied.
func NewWatcher(ctx context.Context, provider Provider, opts Options, clock clockwork.Clock, logger zerolog.Logger) *Watcher {
	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		opts:    opts,
		clock:   clock,
		log:     logger,
		updates: make(chan geo.Coordinates, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	fixes, err := provider.Watch(watchCtx, opts)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			w.denied = true
			logger.Warn().Msg("location permission denied; map will use default center")
		} else {
			logger.Warn().Err(err).Msg("location watch failed; continuing without position")
		}
		close(w.done)
		return w
	}

	go w.run(watchCtx, fixes)
	return w
}

func (w *Watcher) run(ctx context.Context, fixes <-chan Fix) {
	defer close(w.done)

	// A fix that does not arrive within the request timeout is treated as
	// absence, not failure; later fixes are still accepted.
	timeout := w.clock.NewTimer(w.opts.Timeout)
	defer timeout.Stop()
	gotFirst := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-timeout.Chan():
			if !gotFirst {
				w.log.Debug().Dur("timeout", w.opts.Timeout).Msg("no location fix within timeout")
			}
		case fix, ok := <-fixes:
			if !ok {
				return
			}
			if !gotFirst {
				gotFirst = true
				timeout.Stop()
			}
			if w.opts.MaxAge > 0 && !fix.At.IsZero() && w.clock.Since(fix.At) > w.opts.MaxAge {
				continue
			}

			w.mu.Lock()
			w.current = fix.Coords
			w.hasFix = true
			w.mu.Unlock()

			// Coalesce: keep only the freshest pending update.
			select {
			case w.updates <- fix.Coords:
			default:
				select {
				case <-w.updates:
				default:
				}
				select {
				case w.updates <- fix.Coords:
				default:
				}
			}
		}
	}
}

// Current returns the freshest coordinate and whether one is known.
func (w *Watcher) Current() (geo.Coordinates, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current, w.hasFix
}

// Denied reports whether the platform refused location access.
func (w *Watcher) Denied() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.denied
}

// Updates delivers coordinate changes, coalesced to the freshest value.
func (w *Watcher) Updates() <-chan geo.Coordinates {
	return w.updates
}

// Stop releases the underlying subscription. No update is delivered after
// Stop returns.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	w.cancel()
	<-w.done
}
