// Package store holds duel state for the development backend. Two
// implementations exist: an in-memory store for tests and single-process
// runs, and a Postgres store for anything longer lived.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Tokioace/Runnit/internal/models"
)

var (
	// ErrNotFound is returned when a duel id resolves to nothing.
	ErrNotFound = errors.New("duel not found")
	// ErrNotOpen is returned when a claim races another challenger or
	// targets a duel past its open phase.
	ErrNotOpen = errors.New("duel is not open")
	// ErrDuplicateResult is returned when a runner submits twice.
	ErrDuplicateResult = errors.New("result already submitted")
)

// Duel is a stored duel row.
type Duel struct {
	ID               string
	HostUserID       string
	ChallengerUserID string
	Status           models.DuelStatus
	Lat              float64
	Lng              float64
	MaxDistanceKm    int
	TargetDistanceM  int
	CreatedAt        time.Time
}

// Result is one runner's submitted finish for a duel.
type Result struct {
	UserID      string
	TimeMs      int64
	Metrics     *models.RunMetrics
	SubmittedAt time.Time
}

// GhostRun is one leaderboard entry, ranked by time ascending within a city.
type GhostRun struct {
	ID        string
	UserID    string
	Username  string
	City      string
	TimeMs    int64
	DistanceM int
	Lat       float64
	Lng       float64
}

// Profile maps a user id to a display name.
type Profile struct {
	ID       string
	Username string
}

// Store is what the sim server needs from its persistence layer.
type Store interface {
	InsertDuel(ctx context.Context, d Duel) (Duel, error)
	GetDuel(ctx context.Context, id string) (Duel, error)

	// NearbyDuels returns open duels within radiusKm of (lat, lng).
	NearbyDuels(ctx context.Context, lat, lng, radiusKm float64) ([]Duel, error)

	// ClaimDuel transitions an open duel to matched for exactly one
	// challenger. Losers of the race get ErrNotOpen.
	ClaimDuel(ctx context.Context, duelID, challengerID string) (Duel, error)

	// MarkReady records that a runner reached the start line and reports
	// whether both runners are now ready.
	MarkReady(ctx context.Context, duelID, userID string) (bool, error)

	// InsertResult records a finish and reports whether the duel now has
	// both results.
	InsertResult(ctx context.Context, duelID string, res Result) (bool, error)
	DuelResults(ctx context.Context, duelID string) ([]Result, error)

	// CompleteDuel moves a matched duel to completed.
	CompleteDuel(ctx context.Context, duelID string) (Duel, error)

	InsertGhostRun(ctx context.Context, run GhostRun) error
	TopGhostRuns(ctx context.Context, city string, limit int) ([]GhostRun, error)

	UpsertProfile(ctx context.Context, p Profile) error
	ProfilesByID(ctx context.Context, ids []string) ([]Profile, error)
}

// sortGhostRuns orders runs fastest first, with ids as a stable tiebreak.
func sortGhostRuns(runs []GhostRun) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].TimeMs != runs[j].TimeMs {
			return runs[i].TimeMs < runs[j].TimeMs
		}
		return runs[i].ID < runs[j].ID
	})
}
