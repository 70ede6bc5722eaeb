package geocode

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/Tokioace/Runnit/internal/geo"
)

const (
	// DisplacementThresholdDeg is the flat-degree displacement (~500 m)
	// that forces a fresh city lookup.
	DisplacementThresholdDeg = 0.0045

	// MaxCityAge is how long a resolution stays valid without movement.
	MaxCityAge = 2 * time.Minute
)

// Gate throttles reverse geocoding over a moving coordinate stream: a lookup
// only runs when the user has moved far enough or the last resolution is too
// old. The throttle state is owned here, not kept in an ambient cell.
type Gate struct {
	resolver Resolver
	clock    clockwork.Clock
	log      zerolog.Logger

	mu        sync.Mutex
	lastCoord *geo.Coordinates
	lastAt    time.Time
	city      string
	resolved  bool
}

// NewGate creates a city resolution gate.
func NewGate(resolver Resolver, clock clockwork.Clock, logger zerolog.Logger) *Gate {
	return &Gate{
		resolver: resolver,
		clock:    clock,
		log:      logger,
	}
}

// City returns the last resolved city name, if any.
func (g *Gate) City() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.city, g.resolved && g.city != ""
}

// Observe feeds the gate a new coordinate. It re-resolves only when the gate
// triggers; otherwise the cached value is returned. A failed lookup resolves
// to absent rather than holding a stale name.
func (g *Gate) Observe(ctx context.Context, coords geo.Coordinates) (string, bool) {
	g.mu.Lock()
	if !g.shouldResolveLocked(coords) {
		city, ok := g.city, g.resolved && g.city != ""
		g.mu.Unlock()
		return city, ok
	}
	// Record the attempt up front so failures are throttled too.
	c := coords
	g.lastCoord = &c
	g.lastAt = g.clock.Now()
	g.mu.Unlock()

	city, err := g.resolver.ReverseCity(ctx, coords)
	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.log.Warn().Err(err).Msg("city lookup failed")
		g.city = ""
		g.resolved = false
		return "", false
	}

	g.city = city
	g.resolved = true
	return city, city != ""
}

func (g *Gate) shouldResolveLocked(coords geo.Coordinates) bool {
	if g.lastCoord == nil {
		return true
	}
	if geo.Displacement(coords, *g.lastCoord) > DisplacementThresholdDeg {
		return true
	}
	return g.clock.Since(g.lastAt) > MaxCityAge
}
