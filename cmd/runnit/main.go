// Command runnit is the duel client: it watches nearby open duels, hosts and
// joins sprints, and shows the city leaderboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tokioace/Runnit/internal/countdown"
	"github.com/Tokioace/Runnit/internal/feed"
	"github.com/Tokioace/Runnit/internal/feed/natsfeed"
	"github.com/Tokioace/Runnit/internal/feed/wsfeed"
	"github.com/Tokioace/Runnit/internal/gateway"
	"github.com/Tokioace/Runnit/internal/geo"
	"github.com/Tokioace/Runnit/internal/geocode"
	"github.com/Tokioace/Runnit/internal/leaderboard"
	"github.com/Tokioace/Runnit/internal/location"
	"github.com/Tokioace/Runnit/internal/models"
	"github.com/Tokioace/Runnit/internal/reconcile"
	"github.com/Tokioace/Runnit/internal/session"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := flag.String("config", "runnit.yaml", "path to config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	command := flag.Arg(0)
	if command == "" {
		command = "watch"
	}

	switch command {
	case "watch":
		err = runWatch(ctx, cfg)
	case "host":
		meters := 100
		if arg := flag.Arg(1); arg != "" {
			meters, err = strconv.Atoi(arg)
			if err != nil {
				log.Fatal().Str("arg", arg).Msg("host distance must be an integer meter count")
			}
		}
		err = runHost(ctx, cfg, meters)
	case "join":
		duelID := flag.Arg(1)
		if duelID == "" {
			log.Fatal().Msg("usage: runnit join <duel-id>")
		}
		err = runJoin(ctx, cfg, duelID)
	case "top":
		city := flag.Arg(1)
		if city == "" {
			log.Fatal().Msg("usage: runnit top <city>")
		}
		err = runTop(ctx, cfg, city)
	default:
		log.Fatal().Str("command", command).Msg("unknown command (watch, host, join, top)")
	}

	if err != nil {
		log.Fatal().Err(err).Str("command", command).Msg("command failed")
	}
}

// app bundles the explicitly constructed client core shared by commands.
type app struct {
	cfg        Config
	sessions   *session.Store
	client     *gateway.Client
	reconciler *reconcile.Reconciler
	clock      clockwork.Clock
}

func newApp(cfg Config) *app {
	clock := clockwork.NewRealClock()

	sessions := session.NewStore()
	if cfg.User.ID != "" {
		sessions.Set(session.Session{
			UserID:      cfg.User.ID,
			Username:    cfg.User.Username,
			AccessToken: cfg.User.AccessToken,
		})
	}

	client := gateway.NewClient(gateway.ClientConfig{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: gateway.DefaultClientConfig().Timeout,
	}, log.Logger)
	if cfg.User.AccessToken != "" {
		client.SetAccessToken(cfg.User.AccessToken)
	}

	recCfg := reconcile.DefaultConfig()
	recCfg.RadiusKm = cfg.Map.RadiusKm
	rec := reconcile.New(client, sessions, recCfg, clock, log.Logger)

	return &app{
		cfg:        cfg,
		sessions:   sessions,
		client:     client,
		reconciler: rec,
		clock:      clock,
	}
}

func (a *app) center() geo.Coordinates {
	return geo.Coordinates{Lat: a.cfg.Map.Lat, Lng: a.cfg.Map.Lng}
}

// openFeed connects the configured change-feed source.
func openFeed(ctx context.Context, cfg Config) (feed.Source, error) {
	switch cfg.Feed.Kind {
	case "nats":
		natsCfg := natsfeed.DefaultConfig()
		natsCfg.URL = cfg.Feed.NatsURL
		return natsfeed.Connect(ctx, natsCfg)
	case "ws", "":
		wsCfg := wsfeed.DefaultConfig()
		wsCfg.URL = cfg.Feed.URL
		return wsfeed.Dial(ctx, wsCfg)
	default:
		return nil, fmt.Errorf("unknown feed kind %q", cfg.Feed.Kind)
	}
}

func runWatch(ctx context.Context, cfg Config) error {
	a := newApp(cfg)

	src, err := openFeed(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open change feed: %w", err)
	}
	defer src.Close()

	go a.reconciler.Run(ctx, src.Events())
	defer a.reconciler.Stop()

	watcher := location.NewWatcher(ctx, location.StaticProvider{Coords: a.center()},
		location.DefaultOptions(), a.clock, log.Logger)
	defer watcher.Stop()

	geocodeCfg := geocode.DefaultClientConfig()
	if cfg.Geocode.BaseURL != "" {
		geocodeCfg.BaseURL = cfg.Geocode.BaseURL
	}
	gate := geocode.NewGate(geocode.NewClient(geocodeCfg), a.clock, log.Logger)

	if err := a.reconciler.Load(ctx, a.center()); err != nil {
		log.Warn().Err(err).Msg("initial load failed, feed will fill in")
	}
	printSnapshot(a.reconciler.Snapshot())

	for {
		select {
		case <-ctx.Done():
			return nil
		case coords := <-watcher.Updates():
			if city, ok := gate.Observe(ctx, coords); ok {
				fmt.Printf("city: %s\n", city)
			}
			if err := a.reconciler.Load(ctx, coords); err != nil {
				log.Warn().Err(err).Msg("reload failed")
			}
		case <-a.reconciler.Updates():
			printSnapshot(a.reconciler.Snapshot())
		case match := <-a.reconciler.Matches():
			if err := showCountdown(ctx, a.clock, match); err != nil {
				return err
			}
		}
	}
}

func printSnapshot(duels []models.Duel) {
	fmt.Printf("--- open duels (%d) ---\n", len(duels))
	for _, d := range duels {
		fmt.Printf("  %s  host=%s  %dm  (%.5f, %.5f)\n",
			d.ID, d.HostName, d.TargetDistanceM, d.Location.Lat, d.Location.Lng)
	}
}

// showCountdown ticks the pre-match countdown to the terminal.
func showCountdown(ctx context.Context, clock clockwork.Clock, match reconcile.MatchFound) error {
	fmt.Printf("match found: duel %s\n", match.DuelID)

	timer := countdown.NewTimer(clock, match.StartsAt, log.Logger)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case secs := <-timer.Remaining():
			if secs > 0 {
				fmt.Printf("starting in %d...\n", secs)
			}
		case <-timer.Done():
			fmt.Println("GO!")
			return nil
		}
	}
}

func runHost(ctx context.Context, cfg Config, meters int) error {
	a := newApp(cfg)

	if err := a.reconciler.HostDuel(ctx, a.center(), true, meters); err != nil {
		return err
	}
	fmt.Printf("hosted a %dm duel at (%.5f, %.5f)\n", meters, a.cfg.Map.Lat, a.cfg.Map.Lng)
	return nil
}

func runJoin(ctx context.Context, cfg Config, duelID string) error {
	a := newApp(cfg)

	if err := a.reconciler.JoinDuel(ctx, models.Duel{ID: duelID}); err != nil {
		return err
	}
	fmt.Printf("join requested for duel %s\n", duelID)
	return nil
}

func runTop(ctx context.Context, cfg Config, city string) error {
	a := newApp(cfg)

	projector := leaderboard.NewProjector(a.client, log.Logger)
	entries, err := projector.LoadTop(ctx, city, a.center(), leaderboard.DefaultLimit)
	if err != nil {
		return err
	}

	fmt.Printf("--- %s top %d ---\n", city, len(entries))
	for _, e := range entries {
		fmt.Printf("  #%-3d %-20s %7.2fs  %4dm  %s\n",
			e.Rank, e.Username, e.BestTimeSeconds, e.DistanceMeters, e.ColorHex)
	}
	return nil
}
