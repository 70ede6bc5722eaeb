package models

import "github.com/Tokioace/Runnit/internal/geo"

// LeaderboardEntry is a ranked ghost-run best time for a city. Rank is
// assigned by the backend's return order and must not be re-derived.
type LeaderboardEntry struct {
	ID              string           `json:"id"`
	Username        string           `json:"username"`
	Rank            int              `json:"rank"`
	BestTimeSeconds float64          `json:"best_time_seconds"`
	DistanceMeters  int              `json:"distance_meters"`
	Location        *geo.Coordinates `json:"location,omitempty"`
	ColorHex        string           `json:"color_hex"`
}
