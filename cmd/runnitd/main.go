// Command runnitd is the development backend: the duel REST surface plus a
// websocket change feed over an in-memory or Postgres store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/Tokioace/Runnit/internal/sim"
	"github.com/Tokioace/Runnit/internal/sim/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	port := getEnv("PORT", "8080")
	city := getEnv("RUNNIT_CITY", sim.DefaultServerConfig().City)
	databaseURL := os.Getenv("DATABASE_URL")

	clock := clockwork.NewRealClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st store.Store
	if databaseURL != "" {
		pg, err := store.ConnectPostgres(ctx, databaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pg.Close()
		st = pg
		log.Info().Msg("using postgres store")
	} else {
		st = store.NewMemory(clock)
		log.Info().Msg("using in-memory store")
	}

	hub := sim.NewHub(sim.DefaultHubConfig(), clock, log.Logger)
	go hub.Start(ctx)

	srv := sim.NewServer(sim.ServerConfig{City: city}, st, hub, clock, log.Logger)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	handler := c.Handler(srv.Handler())

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", port),
		Handler:     h2c.NewHandler(handler, &http2.Server{}),
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("port", port).Str("city", city).Msg("runnitd listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
	cancel()
}
