package models

import (
	"time"

	"github.com/Tokioace/Runnit/internal/geo"
)

// DuelStatus defines the lifecycle status of a duel.
type DuelStatus string

const (
	DuelStatusOpen      DuelStatus = "open"
	DuelStatusMatched   DuelStatus = "matched"
	DuelStatusCompleted DuelStatus = "completed"
	DuelStatusCancelled DuelStatus = "cancelled"
)

// Duel represents a 1v1 sprint challenge. Only open duels are rendered as
// joinable; location is fixed at creation time.
type Duel struct {
	ID               string          `json:"id"`
	HostUserID       string          `json:"host_user_id,omitempty"`
	HostName         string          `json:"host_name,omitempty"`
	ChallengerUserID string          `json:"challenger_user_id,omitempty"`
	Status           DuelStatus      `json:"status"`
	Location         geo.Coordinates `json:"location"`
	TargetDistanceM  int             `json:"target_distance_m"`
	CreatedAt        time.Time       `json:"created_at,omitempty"`
}

// IsOpen reports whether the duel is still joinable.
func (d Duel) IsOpen() bool {
	return d.Status == DuelStatusOpen
}

// InvolvesUser reports whether the given user is the host or the challenger.
func (d Duel) InvolvesUser(userID string) bool {
	if userID == "" {
		return false
	}
	return d.HostUserID == userID || d.ChallengerUserID == userID
}
