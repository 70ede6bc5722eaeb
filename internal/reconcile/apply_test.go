package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tokioace/Runnit/internal/feed"
	"github.com/Tokioace/Runnit/internal/gateway"
	"github.com/Tokioace/Runnit/internal/geo"
	"github.com/Tokioace/Runnit/internal/models"
)

var center = geo.Coordinates{Lat: 52.52, Lng: 13.40}

func openDuel(id, host string) models.Duel {
	return models.Duel{
		ID:         id,
		HostUserID: host,
		Status:     models.DuelStatusOpen,
		Location:   center,
	}
}

func row(id, host, status string) *gateway.DuelRow {
	return &gateway.DuelRow{ID: id, HostUserID: host, Status: status}
}

func ids(duels []models.Duel) []string {
	out := make([]string, len(duels))
	for i, d := range duels {
		out[i] = d.ID
	}
	return out
}

func TestApplyInsertPrepends(t *testing.T) {
	duels := []models.Duel{openDuel("d1", "u1")}

	out := Apply(duels, feed.Event{Type: feed.EventInsert, New: row("d2", "u2", "open")}, center)

	assert.Equal(t, []string{"d2", "d1"}, ids(out))
	assert.Equal(t, FeedHostPlaceholder, out[0].HostName)
}

func TestApplyInsertExistingIDReplacesInPlace(t *testing.T) {
	duels := []models.Duel{openDuel("d1", "u1"), openDuel("d2", "u2")}

	updated := row("d2", "u2", "open")
	updated.TargetDistanceM = 100
	out := Apply(duels, feed.Event{Type: feed.EventInsert, New: updated}, center)

	require.Equal(t, []string{"d1", "d2"}, ids(out), "no duplicate, position preserved")
	assert.Equal(t, 100, out[1].TargetDistanceM)
}

func TestApplyUpdateAwayFromOpenRemovesExactlyThatEntry(t *testing.T) {
	duels := []models.Duel{openDuel("d1", "u1"), openDuel("d2", "u2"), openDuel("d3", "u3")}

	out := Apply(duels, feed.Event{Type: feed.EventUpdate, New: row("d2", "u2", "matched")}, center)

	assert.Equal(t, []string{"d1", "d3"}, ids(out))
	// Others untouched.
	assert.Equal(t, duels[0], out[0])
	assert.Equal(t, duels[2], out[1])
}

func TestApplyDeleteIsIdempotent(t *testing.T) {
	duels := []models.Duel{openDuel("d1", "u1")}
	ev := feed.Event{Type: feed.EventDelete, Old: row("d1", "u1", "open")}

	once := Apply(duels, ev, center)
	assert.Empty(t, once)

	twice := Apply(once, ev, center)
	assert.Empty(t, twice)
}

func TestApplyRemovalOfAbsentIDIsNoop(t *testing.T) {
	duels := []models.Duel{openDuel("d1", "u1")}

	out := Apply(duels, feed.Event{Type: feed.EventUpdate, New: row("dX", "uX", "cancelled")}, center)
	assert.Equal(t, []string{"d1"}, ids(out))
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	duels := []models.Duel{openDuel("d1", "u1"), openDuel("d2", "u2")}
	snapshot := make([]models.Duel, len(duels))
	copy(snapshot, duels)

	Apply(duels, feed.Event{Type: feed.EventUpdate, New: row("d1", "u1", "matched")}, center)
	Apply(duels, feed.Event{Type: feed.EventInsert, New: row("d3", "u3", "open")}, center)

	assert.Equal(t, snapshot, duels)
}

func TestApplyMissingRowOrIDIsNoop(t *testing.T) {
	duels := []models.Duel{openDuel("d1", "u1")}

	assert.Equal(t, duels, Apply(duels, feed.Event{Type: feed.EventInsert}, center))
	assert.Equal(t, duels, Apply(duels, feed.Event{Type: feed.EventUpdate, New: &gateway.DuelRow{}}, center))
}

func TestExpireStale(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	maxAge := 30 * time.Minute

	old := openDuel("old", "u1")
	old.CreatedAt = now.Add(-31 * time.Minute)
	fresh := openDuel("fresh", "u2")
	fresh.CreatedAt = now.Add(-29 * time.Minute)
	undated := openDuel("undated", "u3")

	out := ExpireStale([]models.Duel{old, fresh, undated}, now, maxAge)

	assert.Equal(t, []string{"fresh", "undated"}, ids(out))
}

func TestExpireStaleKeepsUndatedForever(t *testing.T) {
	now := time.Now()
	undated := openDuel("undated", "u1")

	out := ExpireStale([]models.Duel{undated}, now.Add(24*time.Hour), 30*time.Minute)
	assert.Equal(t, []string{"undated"}, ids(out))
}
