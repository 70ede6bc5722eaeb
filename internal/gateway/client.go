package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tokioace/Runnit/internal/geo"
	"github.com/Tokioace/Runnit/internal/models"
)

// ClientConfig holds connection settings for the REST gateway backend.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// DefaultClientConfig returns default REST client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout: 30 * time.Second,
	}
}

// Client is the REST implementation of Gateway, speaking the backend's
// PostgREST-style surface: rpc functions under /rest/v1/rpc and row inserts
// under /rest/v1/<table>. Clients are constructed explicitly and passed in;
// there is no shared ambient instance.
type Client struct {
	baseURL     string
	apiKey      string
	accessToken string
	client      *http.Client
	log         zerolog.Logger
}

var _ Gateway = (*Client)(nil)

// NewClient creates a REST gateway client.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultClientConfig().Timeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		log:     logger,
	}
}

// SetAccessToken attaches the session's bearer token to subsequent requests.
func (c *Client) SetAccessToken(token string) {
	c.accessToken = token
}

// CreateDuel inserts a new open duel row. The km radius is stored as an
// integer with a floor of 1, matching the backend schema.
func (c *Client) CreateDuel(ctx context.Context, params CreateDuelParams) error {
	targetM := params.TargetDistanceM
	if targetM < 1 {
		targetM = 100
	}
	body := map[string]any{
		"host_user_id":      params.HostUserID,
		"location":          params.Location.GeoJSON(),
		"max_distance_km":   int(math.Max(1, math.Round(params.DistanceKm))),
		"target_distance_m": targetM,
		"status":            string(models.DuelStatusOpen),
	}
	if err := c.post(ctx, "/rest/v1/duels", body, nil); err != nil {
		return fmt.Errorf("create duel: %w", err)
	}
	return nil
}

// GetNearbyDuels calls the nearby rpc scoped to a radius around center.
func (c *Client) GetNearbyDuels(ctx context.Context, center geo.Coordinates, radiusKm float64) ([]DuelRow, error) {
	params := map[string]any{
		"lat":       center.Lat,
		"lng":       center.Lng,
		"radius_km": radiusKm,
	}
	var rows []DuelRow
	if err := c.rpc(ctx, "get_duels_nearby", params, &rows); err != nil {
		return nil, fmt.Errorf("get nearby duels: %w", err)
	}
	return rows, nil
}

// GetTopGhostRuns calls the ranked ghost-run rpc for a city.
func (c *Client) GetTopGhostRuns(ctx context.Context, city string, limit int) ([]GhostRunRow, error) {
	if limit <= 0 {
		limit = 100
	}
	params := map[string]any{
		"city_name":   city,
		"limit_count": limit,
	}
	var rows []GhostRunRow
	if err := c.rpc(ctx, "get_top_ghost_runs", params, &rows); err != nil {
		return nil, fmt.Errorf("get top ghost runs: %w", err)
	}
	return rows, nil
}

// GetUsernames resolves user ids to usernames with one request for the whole
// batch.
func (c *Client) GetUsernames(ctx context.Context, userIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}

	query := url.Values{}
	query.Set("select", "id,username")
	query.Set("id", "in.("+strings.Join(userIDs, ",")+")")

	var rows []struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := c.get(ctx, "/rest/v1/profiles?"+query.Encode(), &rows); err != nil {
		return nil, fmt.Errorf("get usernames: %w", err)
	}
	for _, row := range rows {
		if row.Username != "" {
			names[row.ID] = row.Username
		}
	}
	return names, nil
}

// JoinDuel claims an open duel for the authenticated user.
func (c *Client) JoinDuel(ctx context.Context, duelID string) error {
	if err := c.rpc(ctx, "join_duel", map[string]any{"duel_id": duelID}, nil); err != nil {
		return fmt.Errorf("join duel: %w", err)
	}
	return nil
}

// ReadyForDuel marks the authenticated user ready at the start line.
func (c *Client) ReadyForDuel(ctx context.Context, duelID string) error {
	if err := c.rpc(ctx, "ready_for_duel", map[string]any{"p_duel_id": duelID}, nil); err != nil {
		return fmt.Errorf("ready for duel: %w", err)
	}
	return nil
}

// SubmitDuelResult records the finish time and optional kinematic metrics.
func (c *Client) SubmitDuelResult(ctx context.Context, duelID string, timeMs int64, metrics *models.RunMetrics) error {
	params := map[string]any{
		"p_duel_id": duelID,
		"p_time_ms": timeMs,
	}
	if metrics != nil {
		params["p_metrics"] = metrics
	}
	if err := c.rpc(ctx, "submit_duel_result", params, nil); err != nil {
		return fmt.Errorf("submit duel result: %w", err)
	}
	return nil
}

// GetDuelResults returns both runners' confirmed times for a duel.
func (c *Client) GetDuelResults(ctx context.Context, duelID string) ([]models.DuelResult, error) {
	var results []models.DuelResult
	if err := c.rpc(ctx, "get_duel_results", map[string]any{"p_duel_id": duelID}, &results); err != nil {
		return nil, fmt.Errorf("get duel results: %w", err)
	}
	return results, nil
}

// rpc posts to a backend rpc function and optionally decodes the response.
func (c *Client) rpc(ctx context.Context, fn string, params any, out any) error {
	return c.post(ctx, "/rest/v1/rpc/"+fn, params, out)
}

func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(payload), out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway returned status code: %d, response: %s", resp.StatusCode, string(responseBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
