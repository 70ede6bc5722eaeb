package sim

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tokioace/Runnit/internal/feed"
	"github.com/Tokioace/Runnit/internal/feed/wsfeed"
	"github.com/Tokioace/Runnit/internal/gateway"
	"github.com/Tokioace/Runnit/internal/geo"
	"github.com/Tokioace/Runnit/internal/models"
	"github.com/Tokioace/Runnit/internal/sim/store"
)

type testBackend struct {
	store  *store.Memory
	server *httptest.Server
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	clock := clockwork.NewRealClock()
	st := store.NewMemory(clock)
	hub := NewHub(DefaultHubConfig(), clock, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Start(ctx)
	t.Cleanup(cancel)

	srv := NewServer(DefaultServerConfig(), st, hub, clock, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testBackend{store: st, server: ts}
}

func (b *testBackend) client(t *testing.T, userID string) *gateway.Client {
	t.Helper()
	c := gateway.NewClient(gateway.ClientConfig{BaseURL: b.server.URL}, zerolog.Nop())
	if userID != "" {
		c.SetAccessToken(userID)
	}
	return c
}

func (b *testBackend) feed(t *testing.T) *wsfeed.Feed {
	t.Helper()
	cfg := wsfeed.DefaultConfig()
	cfg.URL = "ws" + strings.TrimPrefix(b.server.URL, "http") + "/realtime"
	f, err := wsfeed.Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func waitEvent(t *testing.T, f *wsfeed.Feed) feed.Event {
	t.Helper()
	select {
	case ev := <-f.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no feed event received")
		return feed.Event{}
	}
}

func TestCreateDuelVisibleInNearbyQuery(t *testing.T) {
	b := newTestBackend(t)
	host := b.client(t, "host-1")
	ctx := context.Background()

	err := host.CreateDuel(ctx, gateway.CreateDuelParams{
		HostUserID:      "host-1",
		Location:        geo.Coordinates{Lat: 52.5201, Lng: 13.4050},
		DistanceKm:      2.5,
		TargetDistanceM: 100,
	})
	require.NoError(t, err)

	rows, err := host.GetNearbyDuels(ctx, geo.Coordinates{Lat: 52.5200, Lng: 13.4049}, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "host-1", rows[0].HostUserID)
	assert.Equal(t, string(models.DuelStatusOpen), rows[0].Status)
	require.NotNil(t, rows[0].Lat)
	assert.InDelta(t, 52.5201, *rows[0].Lat, 1e-9)
	require.NotNil(t, rows[0].CreatedAt)

	far, err := host.GetNearbyDuels(ctx, geo.Coordinates{Lat: 53.5, Lng: 10.0}, 5)
	require.NoError(t, err)
	assert.Empty(t, far)
}

func TestJoinBroadcastsMatchedUpdate(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	host := b.client(t, "host-1")
	challenger := b.client(t, "challenger-1")
	f := b.feed(t)

	err := host.CreateDuel(ctx, gateway.CreateDuelParams{
		HostUserID: "host-1",
		Location:   geo.Coordinates{Lat: 52.52, Lng: 13.40},
		DistanceKm: 5,
	})
	require.NoError(t, err)

	inserted := waitEvent(t, f)
	require.Equal(t, feed.EventInsert, inserted.Type)
	require.NotNil(t, inserted.New)
	duelID := inserted.New.ID

	require.NoError(t, challenger.JoinDuel(ctx, duelID))

	updated := waitEvent(t, f)
	require.Equal(t, feed.EventUpdate, updated.Type)
	require.NotNil(t, updated.New)
	assert.Equal(t, duelID, updated.New.ID)
	assert.Equal(t, string(models.DuelStatusMatched), updated.New.Status)
	assert.Equal(t, "host-1", updated.New.HostUserID)
	assert.Equal(t, "challenger-1", updated.New.ChallengerUserID)
	require.NotNil(t, updated.Old)
	assert.Equal(t, string(models.DuelStatusOpen), updated.Old.Status)

	// The race has one winner; a second claim is rejected.
	late := b.client(t, "challenger-2")
	err = late.JoinDuel(ctx, duelID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestJoinRequiresAuth(t *testing.T) {
	b := newTestBackend(t)
	anon := b.client(t, "")

	err := anon.JoinDuel(context.Background(), "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestResultsFlowCompletesDuelAndFeedsLeaderboard(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	host := b.client(t, "host-1")
	challenger := b.client(t, "challenger-1")
	f := b.feed(t)

	require.NoError(t, b.store.UpsertProfile(ctx, store.Profile{ID: "host-1", Username: "alice"}))
	require.NoError(t, b.store.UpsertProfile(ctx, store.Profile{ID: "challenger-1", Username: "bob"}))

	require.NoError(t, host.CreateDuel(ctx, gateway.CreateDuelParams{
		HostUserID:      "host-1",
		Location:        geo.Coordinates{Lat: 52.52, Lng: 13.40},
		DistanceKm:      5,
		TargetDistanceM: 100,
	}))
	inserted := waitEvent(t, f)
	duelID := inserted.New.ID

	require.NoError(t, challenger.JoinDuel(ctx, duelID))
	waitEvent(t, f) // matched update

	require.NoError(t, host.ReadyForDuel(ctx, duelID))
	require.NoError(t, challenger.ReadyForDuel(ctx, duelID))

	require.NoError(t, host.SubmitDuelResult(ctx, duelID, 58000, &models.RunMetrics{StepCount: 62}))
	require.NoError(t, challenger.SubmitDuelResult(ctx, duelID, 61000, nil))

	completed := waitEvent(t, f)
	require.Equal(t, feed.EventUpdate, completed.Type)
	assert.Equal(t, string(models.DuelStatusCompleted), completed.New.Status)

	results, err := host.GetDuelResults(ctx, duelID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	byUser := map[string]models.DuelResult{}
	for _, res := range results {
		byUser[res.UserID] = res
	}
	assert.Equal(t, int64(58000), byUser["host-1"].TimeMs)
	assert.Equal(t, "alice", byUser["host-1"].Username)
	assert.Equal(t, int64(61000), byUser["challenger-1"].TimeMs)
	assert.Equal(t, "bob", byUser["challenger-1"].Username)

	// Both finishes land on the city leaderboard, fastest first.
	runs, err := host.GetTopGhostRuns(ctx, DefaultServerConfig().City, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "alice", runs[0].Username)
	assert.Equal(t, "bob", runs[1].Username)

	// A duplicate submission is rejected.
	err = host.SubmitDuelResult(ctx, duelID, 50000, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestProfilesBatchedLookup(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.store.UpsertProfile(ctx, store.Profile{ID: "u1", Username: "alice"}))
	require.NoError(t, b.store.UpsertProfile(ctx, store.Profile{ID: "u2", Username: "bob"}))

	c := b.client(t, "")
	names, err := c.GetUsernames(ctx, []string{"u1", "u2", "u3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"u1": "alice", "u2": "bob"}, names)
}

func TestParseInFilter(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseInFilter("in.(a,b)"))
	assert.Equal(t, []string{"a"}, parseInFilter("in.(a)"))
	assert.Nil(t, parseInFilter("in.()"))
	assert.Nil(t, parseInFilter("eq.a"))
	assert.Nil(t, parseInFilter(""))
}
