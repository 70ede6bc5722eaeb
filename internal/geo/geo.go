package geo

import "math"

// Coordinates is a WGS84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Point is a GeoJSON point. Coordinates are ordered [lng, lat].
type Point struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// DefaultCenter is the map fallback when no user location is available.
var DefaultCenter = Coordinates{Lat: 52.520008, Lng: 13.404954}

// GeoJSON converts the coordinate pair into a GeoJSON point.
func (c Coordinates) GeoJSON() Point {
	return Point{
		Type:        "Point",
		Coordinates: [2]float64{c.Lng, c.Lat},
	}
}

// FromPoint converts a GeoJSON point back into a coordinate pair.
func FromPoint(p Point) Coordinates {
	return Coordinates{Lat: p.Coordinates[1], Lng: p.Coordinates[0]}
}

// IsZero reports whether the coordinate is the unset zero value.
func (c Coordinates) IsZero() bool {
	return c.Lat == 0 && c.Lng == 0
}

// Displacement returns the flat-degree displacement between two coordinates,
// i.e. the Euclidean distance in degrees. Good enough for short-range
// movement gating; not a geodesic distance.
func Displacement(a, b Coordinates) float64 {
	dLat := a.Lat - b.Lat
	dLng := a.Lng - b.Lng
	return math.Sqrt(dLat*dLat + dLng*dLng)
}

const earthRadiusKm = 6371.0

// DistanceKm returns the approximate great-circle distance between two
// coordinates in kilometers using an equirectangular projection. Accurate to
// well under a percent at the few-kilometer ranges the nearby query uses.
func DistanceKm(a, b Coordinates) float64 {
	latRadA := a.Lat * math.Pi / 180
	latRadB := b.Lat * math.Pi / 180
	x := (b.Lng - a.Lng) * math.Pi / 180 * math.Cos((latRadA+latRadB)/2)
	y := latRadB - latRadA
	return math.Sqrt(x*x+y*y) * earthRadiusKm
}
