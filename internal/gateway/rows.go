package gateway

import (
	"time"

	"github.com/google/uuid"

	"github.com/Tokioace/Runnit/internal/geo"
	"github.com/Tokioace/Runnit/internal/models"
)

// DuelRow is the wire shape of a duel as returned by the nearby query and
// carried in change-feed events. Remote rows can be partial; decoding into a
// models.Duel applies the defaulting rules exactly once, here.
type DuelRow struct {
	ID               string     `json:"id"`
	HostUserID       string     `json:"host_user_id"`
	ChallengerUserID string     `json:"challenger_user_id"`
	Status           string     `json:"status"`
	Lat              *float64   `json:"lat"`
	Lng              *float64   `json:"lng"`
	Location         *geo.Point `json:"location"`
	TargetDistanceM  int        `json:"target_distance_m"`
	CreatedAt        *time.Time `json:"created_at"`
}

// ToDuel decodes the row into the domain model. Rows without a usable
// coordinate fall back to the given map center rather than failing.
func (r DuelRow) ToDuel(fallback geo.Coordinates) models.Duel {
	d := models.Duel{
		ID:               r.ID,
		HostUserID:       r.HostUserID,
		ChallengerUserID: r.ChallengerUserID,
		Status:           models.DuelStatus(r.Status),
		TargetDistanceM:  r.TargetDistanceM,
	}

	switch {
	case r.Lat != nil && r.Lng != nil:
		d.Location = geo.Coordinates{Lat: *r.Lat, Lng: *r.Lng}
	case r.Location != nil:
		d.Location = geo.FromPoint(*r.Location)
	default:
		d.Location = fallback
	}

	if r.CreatedAt != nil {
		d.CreatedAt = *r.CreatedAt
	}

	return d
}

// GhostRunRow is the wire shape of a ranked ghost-run entry.
type GhostRunRow struct {
	ID             string   `json:"id"`
	Username       string   `json:"username"`
	TimeMs         int64    `json:"time_ms"`
	DistanceMeters int      `json:"distance_m"`
	Lat            *float64 `json:"lat"`
	Lng            *float64 `json:"lng"`
}

// PlaceholderUsername generates a stable display name for rows that arrive
// without one.
func PlaceholderUsername(id string) string {
	if len(id) >= 8 {
		return "runner-" + id[:8]
	}
	if id != "" {
		return "runner-" + id
	}
	return "runner-" + uuid.NewString()[:8]
}
