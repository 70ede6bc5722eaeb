package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tokioace/Runnit/internal/geo"
	"github.com/Tokioace/Runnit/internal/models"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Method = r.Method
		captured.Path = r.URL.Path
		captured.Query = r.URL.RawQuery
		if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
			_ = json.Unmarshal(body, &captured.Body)
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	return NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "anon"}, zerolog.Nop()), captured
}

func respondJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestCreateDuelPayload(t *testing.T) {
	client, captured := newTestClient(t, respondJSON(`[]`))

	err := client.CreateDuel(context.Background(), CreateDuelParams{
		HostUserID:      "alice-id",
		Location:        geo.Coordinates{Lat: 52.52, Lng: 13.40},
		DistanceKm:      0.1,
		TargetDistanceM: 75,
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, captured.Method)
	assert.Equal(t, "/rest/v1/duels", captured.Path)
	assert.Equal(t, "alice-id", captured.Body["host_user_id"])
	assert.Equal(t, "open", captured.Body["status"])
	// Integer km radius with a floor of 1.
	assert.Equal(t, float64(1), captured.Body["max_distance_km"])
	assert.Equal(t, float64(75), captured.Body["target_distance_m"])

	loc, ok := captured.Body["location"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Point", loc["type"])
	coords, ok := loc["coordinates"].([]any)
	require.True(t, ok)
	assert.Equal(t, 13.40, coords[0]) // lng first
	assert.Equal(t, 52.52, coords[1])
}

func TestGetNearbyDuels(t *testing.T) {
	client, captured := newTestClient(t, respondJSON(
		`[{"id":"d1","host_user_id":"u1","status":"open","lat":52.53,"lng":13.41,"target_distance_m":50}]`))

	rows, err := client.GetNearbyDuels(context.Background(), geo.Coordinates{Lat: 52.52, Lng: 13.40}, 5)
	require.NoError(t, err)

	assert.Equal(t, "/rest/v1/rpc/get_duels_nearby", captured.Path)
	assert.Equal(t, 52.52, captured.Body["lat"])
	assert.Equal(t, 13.40, captured.Body["lng"])
	assert.Equal(t, float64(5), captured.Body["radius_km"])

	require.Len(t, rows, 1)
	assert.Equal(t, "d1", rows[0].ID)
	assert.Equal(t, 50, rows[0].TargetDistanceM)
}

func TestGetTopGhostRunsDefaultsLimit(t *testing.T) {
	client, captured := newTestClient(t, respondJSON(`[]`))

	_, err := client.GetTopGhostRuns(context.Background(), "Berlin", 0)
	require.NoError(t, err)

	assert.Equal(t, "/rest/v1/rpc/get_top_ghost_runs", captured.Path)
	assert.Equal(t, "Berlin", captured.Body["city_name"])
	assert.Equal(t, float64(100), captured.Body["limit_count"])
}

func TestGetUsernamesBatchesIntoOneLookup(t *testing.T) {
	calls := 0
	client, captured := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		respondJSON(`[{"id":"u1","username":"alice"},{"id":"u2","username":"bob"},{"id":"u3","username":""}]`)(w, r)
	})

	names, err := client.GetUsernames(context.Background(), []string{"u1", "u2", "u3"})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.MethodGet, captured.Method)
	assert.Equal(t, "/rest/v1/profiles", captured.Path)
	assert.Contains(t, captured.Query, "in.%28u1%2Cu2%2Cu3%29")

	assert.Equal(t, map[string]string{"u1": "alice", "u2": "bob"}, names)
}

func TestGetUsernamesEmptyInputSkipsRequest(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty id set")
	})

	names, err := client.GetUsernames(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSubmitDuelResultPayload(t *testing.T) {
	client, captured := newTestClient(t, respondJSON(`null`))

	err := client.SubmitDuelResult(context.Background(), "d1", 8450, nil)
	require.NoError(t, err)

	assert.Equal(t, "/rest/v1/rpc/submit_duel_result", captured.Path)
	assert.Equal(t, "d1", captured.Body["p_duel_id"])
	assert.Equal(t, float64(8450), captured.Body["p_time_ms"])
	_, hasMetrics := captured.Body["p_metrics"]
	assert.False(t, hasMetrics)

	err = client.SubmitDuelResult(context.Background(), "d1", 8450, &models.RunMetrics{StepCount: 42, MaxSpeedMS: 8.1})
	require.NoError(t, err)
	metrics, ok := captured.Body["p_metrics"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), metrics["step_count"])
	assert.Equal(t, 8.1, metrics["max_speed_ms"])
}

func TestErrorStatusSurfacesBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "duel already matched", http.StatusConflict)
	})

	err := client.JoinDuel(context.Background(), "d1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "duel already matched")
}
