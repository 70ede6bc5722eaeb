package reconcile

import (
	"time"

	"github.com/Tokioace/Runnit/internal/feed"
	"github.com/Tokioace/Runnit/internal/geo"
	"github.com/Tokioace/Runnit/internal/models"
)

// FeedHostPlaceholder labels feed-sourced rows whose host name has not been
// joined against the user directory. The next full load restores the real
// name; this avoids a network round-trip per event.
const FeedHostPlaceholder = "host"

// Apply merges one change-feed event into the open-duel collection and
// returns the new collection. It is a pure function: the input slice is not
// mutated, and the same inputs always produce the same output.
//
// Rules:
//   - DELETE, or UPDATE away from open: remove by id (no-op if absent).
//   - INSERT or UPDATE with status open: upsert by id, replacing in place if
//     present, else prepending.
func Apply(duels []models.Duel, ev feed.Event, fallback geo.Coordinates) []models.Duel {
	id := ev.RowID()
	if id == "" {
		return duels
	}

	switch ev.Type {
	case feed.EventDelete:
		return removeByID(duels, id)

	case feed.EventInsert, feed.EventUpdate:
		if ev.New == nil {
			return duels
		}
		d := ev.New.ToDuel(fallback)
		if !d.IsOpen() {
			return removeByID(duels, id)
		}
		d.HostName = FeedHostPlaceholder
		return upsert(duels, d)
	}
	return duels
}

// ExpireStale drops entries older than maxAge. Entries without a creation
// timestamp are never expired by this path; missing data must not cause
// removal. This is a view-level filter, not an authoritative state change.
func ExpireStale(duels []models.Duel, now time.Time, maxAge time.Duration) []models.Duel {
	out := make([]models.Duel, 0, len(duels))
	for _, d := range duels {
		if !d.CreatedAt.IsZero() && now.Sub(d.CreatedAt) > maxAge {
			continue
		}
		out = append(out, d)
	}
	return out
}

func upsert(duels []models.Duel, d models.Duel) []models.Duel {
	for i, existing := range duels {
		if existing.ID == d.ID {
			out := make([]models.Duel, len(duels))
			copy(out, duels)
			out[i] = d
			return out
		}
	}
	out := make([]models.Duel, 0, len(duels)+1)
	out = append(out, d)
	return append(out, duels...)
}

func removeByID(duels []models.Duel, id string) []models.Duel {
	out := make([]models.Duel, 0, len(duels))
	for _, d := range duels {
		if d.ID == id {
			continue
		}
		out = append(out, d)
	}
	return out
}
