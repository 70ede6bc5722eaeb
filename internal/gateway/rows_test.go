package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Tokioace/Runnit/internal/geo"
	"github.com/Tokioace/Runnit/internal/models"
)

func f64(v float64) *float64 { return &v }

func TestDuelRowToDuel(t *testing.T) {
	center := geo.Coordinates{Lat: 52.52, Lng: 13.40}
	created := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	row := DuelRow{
		ID:              "d1",
		HostUserID:      "u1",
		Status:          "open",
		Lat:             f64(52.53),
		Lng:             f64(13.41),
		TargetDistanceM: 75,
		CreatedAt:       &created,
	}

	d := row.ToDuel(center)
	assert.Equal(t, "d1", d.ID)
	assert.Equal(t, models.DuelStatusOpen, d.Status)
	assert.Equal(t, geo.Coordinates{Lat: 52.53, Lng: 13.41}, d.Location)
	assert.Equal(t, 75, d.TargetDistanceM)
	assert.Equal(t, created, d.CreatedAt)
	assert.True(t, d.IsOpen())
}

func TestDuelRowToDuelGeoJSONLocation(t *testing.T) {
	p := geo.Coordinates{Lat: 48.85, Lng: 2.35}.GeoJSON()
	row := DuelRow{ID: "d2", Status: "open", Location: &p}

	d := row.ToDuel(geo.DefaultCenter)
	assert.Equal(t, geo.Coordinates{Lat: 48.85, Lng: 2.35}, d.Location)
}

func TestDuelRowToDuelMissingCoordinatesFallsBack(t *testing.T) {
	center := geo.Coordinates{Lat: 52.52, Lng: 13.40}
	row := DuelRow{ID: "d3", Status: "open"}

	d := row.ToDuel(center)
	assert.Equal(t, center, d.Location)
	assert.True(t, d.CreatedAt.IsZero())
}

func TestPlaceholderUsername(t *testing.T) {
	assert.Equal(t, "runner-a1b2c3d4", PlaceholderUsername("a1b2c3d4-0000-0000-0000-000000000000"))
	assert.Equal(t, "runner-x1", PlaceholderUsername("x1"))

	// Same id always yields the same placeholder.
	assert.Equal(t, PlaceholderUsername("abcdefgh"), PlaceholderUsername("abcdefgh"))
}
