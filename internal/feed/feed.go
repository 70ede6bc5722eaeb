// Package feed is the change-subscription side of the remote boundary: a
// stream of row-level insert/update/delete events on the duel collection.
// Sources deliver decoded events over a channel; the reconciler's merge logic
// stays a pure function of (collection, event).
package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Tokioace/Runnit/internal/gateway"
)

// EventType is the kind of row change carried by a feed event.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is a single row-level change on the duel collection. New is set for
// inserts and updates, Old for updates and deletes; either can be partial.
type Event struct {
	Type EventType
	New  *gateway.DuelRow
	Old  *gateway.DuelRow
}

// RowID returns the id of the affected row, preferring the new image.
func (e Event) RowID() string {
	if e.New != nil && e.New.ID != "" {
		return e.New.ID
	}
	if e.Old != nil {
		return e.Old.ID
	}
	return ""
}

// Source is a long-lived change-feed connection. Close tears the connection
// down and guarantees no further delivery on Events.
type Source interface {
	Events() <-chan Event
	Close() error
}

// Envelope is the wire format of a feed message.
type Envelope struct {
	EventID   string          `json:"event_id,omitempty"`
	EventType string          `json:"event_type"`
	Table     string          `json:"table"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
}

// ParseEnvelope decodes a wire message into an Event. Messages for tables
// other than duels are reported via the returned ok flag, not as errors.
func ParseEnvelope(data []byte) (Event, bool, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, false, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if env.Table != "" && env.Table != "duels" {
		return Event{}, false, nil
	}

	ev := Event{Type: EventType(env.EventType)}
	switch ev.Type {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return Event{}, false, fmt.Errorf("unknown event type %q", env.EventType)
	}

	if len(env.New) > 0 {
		var row gateway.DuelRow
		if err := json.Unmarshal(env.New, &row); err != nil {
			return Event{}, false, fmt.Errorf("unmarshal new row: %w", err)
		}
		ev.New = &row
	}
	if len(env.Old) > 0 {
		var row gateway.DuelRow
		if err := json.Unmarshal(env.Old, &row); err != nil {
			return Event{}, false, fmt.Errorf("unmarshal old row: %w", err)
		}
		ev.Old = &row
	}
	return ev, true, nil
}

// MarshalEnvelope encodes an event as a wire message. Used by the feed's
// publishing side (the development backend) and by tests.
func MarshalEnvelope(eventID string, ev Event, at time.Time) ([]byte, error) {
	env := Envelope{
		EventID:   eventID,
		EventType: string(ev.Type),
		Table:     "duels",
		Timestamp: at,
	}
	var err error
	if ev.New != nil {
		if env.New, err = json.Marshal(ev.New); err != nil {
			return nil, fmt.Errorf("marshal new row: %w", err)
		}
	}
	if ev.Old != nil {
		if env.Old, err = json.Marshal(ev.Old); err != nil {
			return nil, fmt.Errorf("marshal old row: %w", err)
		}
	}
	return json.Marshal(env)
}
