// Package gateway is the remote data boundary of the client. All durable
// state lives behind it; the rest of the module only sees decoded rows and
// explicit request/response operations.
package gateway

import (
	"context"

	"github.com/Tokioace/Runnit/internal/geo"
	"github.com/Tokioace/Runnit/internal/models"
)

// CreateDuelParams describes a duel to be created at the caller's location.
type CreateDuelParams struct {
	HostUserID      string
	Location        geo.Coordinates
	DistanceKm      float64
	TargetDistanceM int
}

// Gateway defines the remote operations the client core depends on. The
// change-subscription side of the boundary lives in the feed package.
type Gateway interface {
	// CreateDuel inserts a new open duel. The created row arrives through
	// the change feed, not the return value.
	CreateDuel(ctx context.Context, params CreateDuelParams) error

	// GetNearbyDuels returns raw duel rows within radiusKm of center.
	GetNearbyDuels(ctx context.Context, center geo.Coordinates, radiusKm float64) ([]DuelRow, error)

	// GetTopGhostRuns returns ranked ghost-run rows for a city. Return
	// order is rank order.
	GetTopGhostRuns(ctx context.Context, city string, limit int) ([]GhostRunRow, error)

	// GetUsernames resolves user ids to display names in a single batched
	// lookup.
	GetUsernames(ctx context.Context, userIDs []string) (map[string]string, error)

	// JoinDuel claims an open duel for the current session's user.
	JoinDuel(ctx context.Context, duelID string) error

	// ReadyForDuel signals that the current user is at the start line.
	ReadyForDuel(ctx context.Context, duelID string) error

	// SubmitDuelResult records the finish time and optional kinematics.
	SubmitDuelResult(ctx context.Context, duelID string, timeMs int64, metrics *models.RunMetrics) error

	// GetDuelResults returns both runners' confirmed times.
	GetDuelResults(ctx context.Context, duelID string) ([]models.DuelResult, error)
}
