// Package leaderboard projects ranked ghost-run best times for a city. Rank
// is the gateway's return order; the projector never re-sorts.
package leaderboard

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Tokioace/Runnit/internal/gateway"
	"github.com/Tokioace/Runnit/internal/geo"
	"github.com/Tokioace/Runnit/internal/models"
)

// DefaultLimit caps the ranking when the caller does not.
const DefaultLimit = 100

// GhostRunGateway defines what the projector needs from the remote boundary.
type GhostRunGateway interface {
	GetTopGhostRuns(ctx context.Context, city string, limit int) ([]gateway.GhostRunRow, error)
}

// Projector owns the player-ranking collection, rebuilt from scratch on each
// load.
type Projector struct {
	gw  GhostRunGateway
	log zerolog.Logger
}

// NewProjector creates a leaderboard projector.
func NewProjector(gw GhostRunGateway, logger zerolog.Logger) *Projector {
	return &Projector{gw: gw, log: logger}
}

// LoadTop fetches the ranked entries for a city. Entries without a coordinate
// are placed at the map center; entries without a username get a generated
// placeholder. The identity color is derived from the username.
func (p *Projector) LoadTop(ctx context.Context, city string, center geo.Coordinates, limit int) ([]models.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := p.gw.GetTopGhostRuns(ctx, city, limit)
	if err != nil {
		p.log.Warn().Err(err).Str("city", city).Msg("leaderboard load failed")
		return nil, fmt.Errorf("load top ghost runs: %w", err)
	}

	entries := make([]models.LeaderboardEntry, 0, len(rows))
	for i, row := range rows {
		username := row.Username
		if username == "" {
			username = gateway.PlaceholderUsername(row.ID)
		}

		entry := models.LeaderboardEntry{
			ID:              row.ID,
			Username:        username,
			Rank:            i + 1, // return order is rank order
			BestTimeSeconds: float64(row.TimeMs) / 1000,
			DistanceMeters:  row.DistanceMeters,
			ColorHex:        ColorHex(username),
		}
		if row.Lat != nil && row.Lng != nil {
			entry.Location = &geo.Coordinates{Lat: *row.Lat, Lng: *row.Lng}
		} else {
			fallback := center
			entry.Location = &fallback
		}
		entries = append(entries, entry)
	}

	p.log.Info().Str("city", city).Int("count", len(entries)).Msg("leaderboard loaded")
	return entries, nil
}
