// Package geocode resolves coordinates to human-readable city names and
// throttles how often that lookup runs as the user moves.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Tokioace/Runnit/internal/geo"
)

// Resolver is the reverse-lookup boundary: best-effort place name or none.
type Resolver interface {
	ReverseCity(ctx context.Context, coords geo.Coordinates) (string, error)
}

// ClientConfig holds settings for the HTTP reverse geocoder.
type ClientConfig struct {
	BaseURL   string // Nominatim-compatible endpoint
	UserAgent string
	Timeout   time.Duration
}

// DefaultClientConfig returns default reverse geocoder configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:   "https://nominatim.openstreetmap.org",
		UserAgent: "runnit/1.0",
		Timeout:   8 * time.Second,
	}
}

// Client resolves city names against a Nominatim-compatible service.
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

var _ Resolver = (*Client)(nil)

// NewClient creates a reverse geocoding client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultClientConfig().Timeout
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

// ReverseCity looks up the best-effort city name for a coordinate.
func (c *Client) ReverseCity(ctx context.Context, coords geo.Coordinates) (string, error) {
	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(coords.Lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(coords.Lng, 'f', -1, 64))
	query.Set("format", "jsonv2")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("geocoder returned status code: %d, response: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Address struct {
			City    string `json:"city"`
			Town    string `json:"town"`
			Village string `json:"village"`
		} `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}

	switch {
	case payload.Address.City != "":
		return payload.Address.City, nil
	case payload.Address.Town != "":
		return payload.Address.Town, nil
	case payload.Address.Village != "":
		return payload.Address.Village, nil
	}
	return "", nil
}
