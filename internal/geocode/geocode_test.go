package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tokioace/Runnit/internal/geo"
)

func TestReverseCity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "52.52", r.URL.Query().Get("lat"))
		assert.Equal(t, "13.4", r.URL.Query().Get("lon"))
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"address":{"city":"Berlin"}}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, UserAgent: "runnit-test"})
	city, err := client.ReverseCity(context.Background(), geo.Coordinates{Lat: 52.52, Lng: 13.4})
	require.NoError(t, err)
	assert.Equal(t, "Berlin", city)
}

func TestReverseCityFallsBackToTown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"address":{"town":"Potsdam"}}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	city, err := client.ReverseCity(context.Background(), geo.DefaultCenter)
	require.NoError(t, err)
	assert.Equal(t, "Potsdam", city)
}

func TestReverseCityNoPlaceName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"address":{}}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	city, err := client.ReverseCity(context.Background(), geo.DefaultCenter)
	require.NoError(t, err)
	assert.Empty(t, city)
}

func TestReverseCityServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := client.ReverseCity(context.Background(), geo.DefaultCenter)
	assert.Error(t, err)
}
