package location

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Tokioace/Runnit/internal/geo"
)

// StaticProvider reports one fixed coordinate and then holds it. Useful for
// development and for environments without a real positioning source.
type StaticProvider struct {
	Coords geo.Coordinates
}

// Watch emits the fixed coordinate once.
func (p StaticProvider) Watch(ctx context.Context, opts Options) (<-chan Fix, error) {
	out := make(chan Fix, 1)
	out <- Fix{Coords: p.Coords, At: time.Now()}
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

// RouteProvider walks through a list of coordinates at a fixed interval,
// simulating movement.
type RouteProvider struct {
	Points   []geo.Coordinates
	Interval time.Duration
	Clock    clockwork.Clock
}

// Watch emits each route point in order, then keeps the last one.
func (p RouteProvider) Watch(ctx context.Context, opts Options) (<-chan Fix, error) {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	out := make(chan Fix, 1)

	go func() {
		defer close(out)
		ticker := clock.NewTicker(p.Interval)
		defer ticker.Stop()

		for i := 0; i < len(p.Points); i++ {
			select {
			case <-ctx.Done():
				return
			case out <- Fix{Coords: p.Points[i], At: clock.Now()}:
			}
			if i == len(p.Points)-1 {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
			}
		}
		<-ctx.Done()
	}()
	return out, nil
}

// DeniedProvider always refuses access. Useful for tests and for platforms
// where the permission prompt was rejected.
type DeniedProvider struct{}

// Watch reports permission denial.
func (DeniedProvider) Watch(ctx context.Context, opts Options) (<-chan Fix, error) {
	return nil, ErrPermissionDenied
}
