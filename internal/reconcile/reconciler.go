// Package reconcile owns the authoritative in-memory view of open duels for
// the current map session. It merges full refetches with incremental change
// feed events, expires stale entries on a timer, and raises match-found
// transitions for the current user.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/Tokioace/Runnit/internal/feed"
	"github.com/Tokioace/Runnit/internal/gateway"
	"github.com/Tokioace/Runnit/internal/geo"
	"github.com/Tokioace/Runnit/internal/models"
	"github.com/Tokioace/Runnit/internal/session"
)

var (
	// ErrAuthRequired is returned when hosting or joining without a
	// session; callers redirect to the auth flow.
	ErrAuthRequired = errors.New("authentication required")

	// ErrNoLocation is returned when hosting without a known coordinate.
	ErrNoLocation = errors.New("current location unknown")
)

// DuelGateway defines what the reconciler needs from the remote boundary.
type DuelGateway interface {
	CreateDuel(ctx context.Context, params gateway.CreateDuelParams) error
	GetNearbyDuels(ctx context.Context, center geo.Coordinates, radiusKm float64) ([]gateway.DuelRow, error)
	GetUsernames(ctx context.Context, userIDs []string) (map[string]string, error)
	JoinDuel(ctx context.Context, duelID string) error
}

// MatchFound signals that a duel involving the current user was matched. The
// countdown start is anchored a fixed lead after the event arrives.
type MatchFound struct {
	DuelID   string
	StartsAt time.Time
}

// Config holds reconciler tunables.
type Config struct {
	RadiusKm       float64       // nearby query radius
	MaxDuelAge     time.Duration // view-level expiry for open duels
	ExpireInterval time.Duration // how often the expiry sweep runs
	CountdownLead  time.Duration // lead time before a matched duel starts
}

// DefaultConfig returns the operational defaults.
func DefaultConfig() Config {
	return Config{
		RadiusKm:       5,
		MaxDuelAge:     30 * time.Minute,
		ExpireInterval: 60 * time.Second,
		CountdownLead:  3 * time.Second,
	}
}

// Reconciler owns the mutable open-duel collection. Only its own loop and
// methods write the collection; snapshots handed out are copies, so a Load
// replacement is atomic from any reader's perspective.
type Reconciler struct {
	gw       DuelGateway
	sessions *session.Store
	cfg      Config
	clock    clockwork.Clock
	log      zerolog.Logger

	mu     sync.RWMutex
	duels  []models.Duel
	center geo.Coordinates
	gen    uint64 // load generation; stale responses are discarded

	updates chan struct{}
	matches chan MatchFound

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a reconciler. Run must be called for feed merging and expiry.
func New(gw DuelGateway, sessions *session.Store, cfg Config, clock clockwork.Clock, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		gw:       gw,
		sessions: sessions,
		cfg:      cfg,
		clock:    clock,
		log:      logger,
		center:   geo.DefaultCenter,
		updates:  make(chan struct{}, 1),
		matches:  make(chan MatchFound, 8),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Snapshot returns a copy of the current open-duel collection.
func (r *Reconciler) Snapshot() []models.Duel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Duel, len(r.duels))
	copy(out, r.duels)
	return out
}

// Center returns the coordinate the collection is scoped to.
func (r *Reconciler) Center() geo.Coordinates {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.center
}

// Updates signals that the collection changed; notifications are coalesced.
func (r *Reconciler) Updates() <-chan struct{} {
	return r.updates
}

// Matches delivers match-found transitions for the current user.
func (r *Reconciler) Matches() <-chan MatchFound {
	return r.matches
}

// Load replaces the whole collection with the nearby result around center,
// each entry enriched with its host's display name through one batched
// directory lookup. A failed load leaves the existing collection unchanged.
// Responses from a Load that was superseded by a newer one are discarded.
func (r *Reconciler) Load(ctx context.Context, center geo.Coordinates) error {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.center = center
	r.mu.Unlock()

	rows, err := r.gw.GetNearbyDuels(ctx, center, r.cfg.RadiusKm)
	if err != nil {
		r.log.Warn().Err(err).Msg("nearby duels load failed; keeping previous collection")
		return fmt.Errorf("load nearby duels: %w", err)
	}

	duels := make([]models.Duel, 0, len(rows))
	hostIDs := make([]string, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		d := row.ToDuel(center)
		if !d.IsOpen() {
			continue
		}
		duels = append(duels, d)
		if d.HostUserID != "" && !seen[d.HostUserID] {
			seen[d.HostUserID] = true
			hostIDs = append(hostIDs, d.HostUserID)
		}
	}

	names, err := r.gw.GetUsernames(ctx, hostIDs)
	if err != nil {
		r.log.Warn().Err(err).Msg("host name lookup failed; using placeholders")
		names = nil
	}
	for i := range duels {
		if name, ok := names[duels[i].HostUserID]; ok {
			duels[i].HostName = name
		} else {
			duels[i].HostName = gateway.PlaceholderUsername(duels[i].HostUserID)
		}
	}

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		r.log.Debug().Uint64("generation", gen).Msg("discarding stale load response")
		return nil
	}
	r.duels = duels
	r.mu.Unlock()

	r.notify()
	r.log.Info().Int("count", len(duels)).Float64("radius_km", r.cfg.RadiusKm).Msg("open duels loaded")
	return nil
}

// HostDuel creates a duel at the given coordinate. The sprint distance in
// meters is converted to the gateway's kilometer unit, rounded to one decimal
// with a 0.1 km floor. The created row is not inserted optimistically; it
// arrives through the feed.
func (r *Reconciler) HostDuel(ctx context.Context, coords geo.Coordinates, hasCoords bool, distanceMeters int) error {
	sess := r.sessions.Current()
	if sess == nil {
		return ErrAuthRequired
	}
	if !hasCoords {
		return ErrNoLocation
	}

	params := gateway.CreateDuelParams{
		HostUserID:      sess.UserID,
		Location:        coords,
		DistanceKm:      DistanceKmForSprint(distanceMeters),
		TargetDistanceM: distanceMeters,
	}
	if err := r.gw.CreateDuel(ctx, params); err != nil {
		r.log.Error().Err(err).Int("distance_m", distanceMeters).Msg("hosting duel failed")
		return fmt.Errorf("host duel: %w", err)
	}

	r.log.Info().Str("host", sess.Username).Int("distance_m", distanceMeters).Msg("duel hosted")
	return nil
}

// JoinDuel claims an open duel. On failure the duel stays in the open list
// for retry; success is confirmed through the feed, not assumed.
func (r *Reconciler) JoinDuel(ctx context.Context, duel models.Duel) error {
	sess := r.sessions.Current()
	if sess == nil {
		return ErrAuthRequired
	}

	if err := r.gw.JoinDuel(ctx, duel.ID); err != nil {
		r.log.Warn().Err(err).Str("duel_id", duel.ID).Msg("joining duel failed")
		return fmt.Errorf("join duel: %w", err)
	}

	r.log.Info().Str("duel_id", duel.ID).Str("user", sess.Username).Msg("join requested")
	return nil
}

// Run consumes feed events and runs the periodic expiry sweep until the
// context ends or Stop is called.
func (r *Reconciler) Run(ctx context.Context, events <-chan feed.Event) {
	defer close(r.done)

	ticker := r.clock.NewTicker(r.cfg.ExpireInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.Chan():
			r.expireStale()
		case ev, ok := <-events:
			if !ok {
				// Feed gone; keep expiring what we have.
				events = nil
				continue
			}
			r.handleEvent(ev)
		}
	}
}

// Stop ends Run and waits for it to finish. No signal fires after Stop
// returns.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// handleEvent merges one feed event and raises match-found transitions.
func (r *Reconciler) handleEvent(ev feed.Event) {
	sess := r.sessions.Current()

	r.mu.Lock()
	before := len(r.duels)
	r.duels = Apply(r.duels, ev, r.center)
	// The current user's own duels carry their session name; everyone
	// else keeps the placeholder until the next full load.
	if sess != nil && ev.New != nil && ev.New.HostUserID == sess.UserID {
		for i := range r.duels {
			if r.duels[i].ID == ev.New.ID {
				r.duels[i].HostName = sess.Username
			}
		}
	}
	after := len(r.duels)
	r.mu.Unlock()

	r.log.Debug().
		Str("event_type", string(ev.Type)).
		Str("duel_id", ev.RowID()).
		Int("open_duels", after).
		Msg("feed event applied")
	if before != after || ev.Type == feed.EventUpdate {
		r.notify()
	}

	r.detectMatch(ev)
}

// detectMatch raises a MatchFound signal when an update moves a duel
// involving the current user to matched. The signal is distinct from the
// collection mutation and drives the countdown timer.
func (r *Reconciler) detectMatch(ev feed.Event) {
	if ev.Type != feed.EventUpdate || ev.New == nil {
		return
	}
	if models.DuelStatus(ev.New.Status) != models.DuelStatusMatched {
		return
	}
	sess := r.sessions.Current()
	if sess == nil {
		return
	}
	if ev.New.HostUserID != sess.UserID && ev.New.ChallengerUserID != sess.UserID {
		return
	}

	match := MatchFound{
		DuelID:   ev.New.ID,
		StartsAt: r.clock.Now().Add(r.cfg.CountdownLead),
	}
	select {
	case r.matches <- match:
		r.log.Info().Str("duel_id", match.DuelID).Time("starts_at", match.StartsAt).Msg("match found")
	default:
		r.log.Warn().Str("duel_id", match.DuelID).Msg("match signal dropped: channel full")
	}
}

// expireStale applies the view-level age filter to the collection.
func (r *Reconciler) expireStale() {
	now := r.clock.Now()
	r.mu.Lock()
	before := len(r.duels)
	r.duels = ExpireStale(r.duels, now, r.cfg.MaxDuelAge)
	after := len(r.duels)
	r.mu.Unlock()

	if before != after {
		r.log.Info().Int("expired", before-after).Msg("stale duels expired")
		r.notify()
	}
}

func (r *Reconciler) notify() {
	select {
	case r.updates <- struct{}{}:
	default:
	}
}

// DistanceKmForSprint converts a sprint distance in meters to the gateway's
// kilometer unit, rounded to one decimal with a 0.1 km floor.
func DistanceKmForSprint(meters int) float64 {
	km := math.Round(float64(meters)/100) / 10
	return math.Max(0.1, km)
}
