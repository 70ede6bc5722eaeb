package geocode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tokioace/Runnit/internal/geo"
)

type fakeResolver struct {
	city  string
	err   error
	calls int
}

func (r *fakeResolver) ReverseCity(ctx context.Context, coords geo.Coordinates) (string, error) {
	r.calls++
	return r.city, r.err
}

func TestGateSmallDisplacementDoesNotRetrigger(t *testing.T) {
	clock := clockwork.NewFakeClock()
	resolver := &fakeResolver{city: "Berlin"}
	gate := NewGate(resolver, clock, zerolog.Nop())

	city, ok := gate.Observe(context.Background(), geo.Coordinates{Lat: 52.5200, Lng: 13.4050})
	require.True(t, ok)
	assert.Equal(t, "Berlin", city)
	assert.Equal(t, 1, resolver.calls)

	// ~0.0001 degrees after 10 seconds: below both gates.
	clock.Advance(10 * time.Second)
	city, ok = gate.Observe(context.Background(), geo.Coordinates{Lat: 52.5201, Lng: 13.4050})
	require.True(t, ok)
	assert.Equal(t, "Berlin", city)
	assert.Equal(t, 1, resolver.calls)
}

func TestGateLargeDisplacementRetriggers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	resolver := &fakeResolver{city: "Berlin"}
	gate := NewGate(resolver, clock, zerolog.Nop())

	gate.Observe(context.Background(), geo.Coordinates{Lat: 52.5200, Lng: 13.4050})
	require.Equal(t, 1, resolver.calls)

	// ~0.005 degrees: above the displacement threshold.
	clock.Advance(10 * time.Second)
	gate.Observe(context.Background(), geo.Coordinates{Lat: 52.5250, Lng: 13.4050})
	assert.Equal(t, 2, resolver.calls)
}

func TestGateElapsedTimeRetriggers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	resolver := &fakeResolver{city: "Berlin"}
	gate := NewGate(resolver, clock, zerolog.Nop())

	coords := geo.Coordinates{Lat: 52.5200, Lng: 13.4050}
	gate.Observe(context.Background(), coords)
	require.Equal(t, 1, resolver.calls)

	clock.Advance(MaxCityAge + time.Second)
	gate.Observe(context.Background(), coords)
	assert.Equal(t, 2, resolver.calls)
}

func TestGateFailureClearsCity(t *testing.T) {
	clock := clockwork.NewFakeClock()
	resolver := &fakeResolver{city: "Berlin"}
	gate := NewGate(resolver, clock, zerolog.Nop())

	coords := geo.Coordinates{Lat: 52.5200, Lng: 13.4050}
	city, ok := gate.Observe(context.Background(), coords)
	require.True(t, ok)
	require.Equal(t, "Berlin", city)

	resolver.err = errors.New("geocoder unavailable")
	clock.Advance(MaxCityAge + time.Second)
	_, ok = gate.Observe(context.Background(), coords)
	assert.False(t, ok, "failed lookup resolves to absent, not stale")

	_, ok = gate.City()
	assert.False(t, ok)

	// Failures are throttled like successes: no immediate retry.
	gate.Observe(context.Background(), coords)
	assert.Equal(t, 2, resolver.calls)

	// Next gate trigger recovers.
	resolver.err = nil
	clock.Advance(MaxCityAge + time.Second)
	city, ok = gate.Observe(context.Background(), coords)
	require.True(t, ok)
	assert.Equal(t, "Berlin", city)
}

func TestGateEmptyCityIsAbsent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	resolver := &fakeResolver{city: ""}
	gate := NewGate(resolver, clock, zerolog.Nop())

	_, ok := gate.Observe(context.Background(), geo.DefaultCenter)
	assert.False(t, ok)
}
