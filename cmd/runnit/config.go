package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/Tokioace/Runnit/internal/geo"
)

// Config is the client configuration, loaded from a yaml file with
// environment overrides on top.
type Config struct {
	Backend struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"backend"`

	Feed struct {
		Kind    string `yaml:"kind"` // "ws" or "nats"
		URL     string `yaml:"url"`
		NatsURL string `yaml:"nats_url"`
	} `yaml:"feed"`

	Map struct {
		Lat      float64 `yaml:"lat"`
		Lng      float64 `yaml:"lng"`
		RadiusKm float64 `yaml:"radius_km"`
	} `yaml:"map"`

	Geocode struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"geocode"`

	User struct {
		ID          string `yaml:"id"`
		Username    string `yaml:"username"`
		AccessToken string `yaml:"access_token"`
	} `yaml:"user"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.Backend.BaseURL = "http://localhost:8080"
	cfg.Feed.Kind = "ws"
	cfg.Feed.URL = "ws://localhost:8080/realtime"
	cfg.Feed.NatsURL = "nats://localhost:4222"
	cfg.Map.Lat = geo.DefaultCenter.Lat
	cfg.Map.Lng = geo.DefaultCenter.Lng
	cfg.Map.RadiusKm = 5
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// loadConfig reads path if it exists and applies environment overrides. A
// missing file is not an error; the defaults serve.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.Backend.BaseURL = getEnv("RUNNIT_BACKEND_URL", cfg.Backend.BaseURL)
	cfg.Backend.APIKey = getEnv("RUNNIT_API_KEY", cfg.Backend.APIKey)
	cfg.Feed.Kind = getEnv("RUNNIT_FEED_KIND", cfg.Feed.Kind)
	cfg.Feed.URL = getEnv("RUNNIT_FEED_URL", cfg.Feed.URL)
	cfg.Feed.NatsURL = getEnv("NATS_URL", cfg.Feed.NatsURL)
	cfg.Map.Lat = getEnvAsFloat("RUNNIT_LAT", cfg.Map.Lat)
	cfg.Map.Lng = getEnvAsFloat("RUNNIT_LNG", cfg.Map.Lng)
	cfg.Map.RadiusKm = getEnvAsFloat("RUNNIT_RADIUS_KM", cfg.Map.RadiusKm)
	cfg.Geocode.BaseURL = getEnv("RUNNIT_GEOCODE_URL", cfg.Geocode.BaseURL)
	cfg.User.ID = getEnv("RUNNIT_USER_ID", cfg.User.ID)
	cfg.User.Username = getEnv("RUNNIT_USERNAME", cfg.User.Username)
	cfg.User.AccessToken = getEnv("RUNNIT_ACCESS_TOKEN", cfg.User.AccessToken)

	return cfg, nil
}
