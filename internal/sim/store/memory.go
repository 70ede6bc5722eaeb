package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Tokioace/Runnit/internal/geo"
	"github.com/Tokioace/Runnit/internal/models"
)

// Memory is the in-memory Store. All methods are safe for concurrent use;
// ClaimDuel in particular serializes racing challengers on one mutex.
type Memory struct {
	clock clockwork.Clock

	mu       sync.Mutex
	duels    map[string]Duel
	ready    map[string]map[string]bool
	results  map[string][]Result
	runs     []GhostRun
	profiles map[string]Profile
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory(clock clockwork.Clock) *Memory {
	return &Memory{
		clock:    clock,
		duels:    make(map[string]Duel),
		ready:    make(map[string]map[string]bool),
		results:  make(map[string][]Result),
		profiles: make(map[string]Profile),
	}
}

func (m *Memory) InsertDuel(_ context.Context, d Duel) (Duel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = models.DuelStatusOpen
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = m.clock.Now().UTC()
	}
	if _, exists := m.duels[d.ID]; exists {
		return Duel{}, fmt.Errorf("duel %s already exists", d.ID)
	}
	m.duels[d.ID] = d
	return d, nil
}

func (m *Memory) GetDuel(_ context.Context, id string) (Duel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.duels[id]
	if !ok {
		return Duel{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) NearbyDuels(_ context.Context, lat, lng, radiusKm float64) ([]Duel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	center := geo.Coordinates{Lat: lat, Lng: lng}
	var out []Duel
	for _, d := range m.duels {
		if d.Status != models.DuelStatusOpen {
			continue
		}
		if geo.DistanceKm(center, geo.Coordinates{Lat: d.Lat, Lng: d.Lng}) <= radiusKm {
			out = append(out, d)
		}
	}
	// Newest first, and a stable order for tests.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) ClaimDuel(_ context.Context, duelID, challengerID string) (Duel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.duels[duelID]
	if !ok {
		return Duel{}, ErrNotFound
	}
	if d.Status != models.DuelStatusOpen || d.HostUserID == challengerID {
		return Duel{}, ErrNotOpen
	}
	d.Status = models.DuelStatusMatched
	d.ChallengerUserID = challengerID
	m.duels[duelID] = d
	return d, nil
}

func (m *Memory) MarkReady(_ context.Context, duelID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.duels[duelID]
	if !ok {
		return false, ErrNotFound
	}
	if m.ready[duelID] == nil {
		m.ready[duelID] = make(map[string]bool)
	}
	m.ready[duelID][userID] = true
	return m.ready[duelID][d.HostUserID] && m.ready[duelID][d.ChallengerUserID], nil
}

func (m *Memory) InsertResult(_ context.Context, duelID string, res Result) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.duels[duelID]; !ok {
		return false, ErrNotFound
	}
	for _, existing := range m.results[duelID] {
		if existing.UserID == res.UserID {
			return false, ErrDuplicateResult
		}
	}
	if res.SubmittedAt.IsZero() {
		res.SubmittedAt = m.clock.Now().UTC()
	}
	m.results[duelID] = append(m.results[duelID], res)
	return len(m.results[duelID]) >= 2, nil
}

func (m *Memory) DuelResults(_ context.Context, duelID string) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Result, len(m.results[duelID]))
	copy(out, m.results[duelID])
	return out, nil
}

func (m *Memory) CompleteDuel(_ context.Context, duelID string) (Duel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.duels[duelID]
	if !ok {
		return Duel{}, ErrNotFound
	}
	d.Status = models.DuelStatusCompleted
	m.duels[duelID] = d
	return d, nil
}

func (m *Memory) InsertGhostRun(_ context.Context, run GhostRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) TopGhostRuns(_ context.Context, city string, limit int) ([]GhostRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Best run per user for the city, fastest first.
	best := make(map[string]GhostRun)
	for _, run := range m.runs {
		if run.City != city {
			continue
		}
		if cur, ok := best[run.UserID]; !ok || run.TimeMs < cur.TimeMs {
			best[run.UserID] = run
		}
	}
	out := make([]GhostRun, 0, len(best))
	for _, run := range best {
		out = append(out, run)
	}
	sortGhostRuns(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpsertProfile(_ context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profiles[p.ID] = p
	return nil
}

func (m *Memory) ProfilesByID(_ context.Context, ids []string) ([]Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
