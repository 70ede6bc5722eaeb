package sim

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/Tokioace/Runnit/internal/feed"
	"github.com/Tokioace/Runnit/internal/gateway"
	"github.com/Tokioace/Runnit/internal/geo"
	"github.com/Tokioace/Runnit/internal/models"
	"github.com/Tokioace/Runnit/internal/sim/store"
)

// ServerConfig holds settings for the sim server.
type ServerConfig struct {
	// City is reported for every ghost run recorded by this instance.
	City string
}

// DefaultServerConfig returns default sim server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{City: "Berlin"}
}

// Server exposes the backend's REST surface over a Store and broadcasts row
// changes through the feed hub. Authentication is the development shortcut:
// the bearer token is the user id.
type Server struct {
	config ServerConfig
	store  store.Store
	hub    *Hub
	clock  clockwork.Clock
	log    zerolog.Logger
}

// NewServer creates a sim server.
func NewServer(config ServerConfig, st store.Store, hub *Hub, clock clockwork.Clock, logger zerolog.Logger) *Server {
	return &Server{
		config: config,
		store:  st,
		hub:    hub,
		clock:  clock,
		log:    logger,
	}
}

// Handler returns the routed HTTP surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/signup", s.handleSignup)
	mux.HandleFunc("POST /rest/v1/duels", s.handleCreateDuel)
	mux.HandleFunc("GET /rest/v1/profiles", s.handleProfiles)
	mux.HandleFunc("POST /rest/v1/rpc/get_duels_nearby", s.handleNearby)
	mux.HandleFunc("POST /rest/v1/rpc/get_top_ghost_runs", s.handleTopGhostRuns)
	mux.HandleFunc("POST /rest/v1/rpc/join_duel", s.handleJoin)
	mux.HandleFunc("POST /rest/v1/rpc/ready_for_duel", s.handleReady)
	mux.HandleFunc("POST /rest/v1/rpc/submit_duel_result", s.handleSubmitResult)
	mux.HandleFunc("POST /rest/v1/rpc/get_duel_results", s.handleResults)
	mux.Handle("GET /realtime", s.hub)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.hub.ConnectionCount(),
	})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Username == "" {
		s.writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	userID := uuid.NewString()
	if err := s.store.UpsertProfile(r.Context(), store.Profile{ID: userID, Username: req.Username}); err != nil {
		s.serverError(w, err, "signup failed")
		return
	}

	s.log.Info().Str("user_id", userID).Str("username", req.Username).Msg("user signed up")
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"username":     req.Username,
		"access_token": userID,
	})
}

func (s *Server) handleCreateDuel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HostUserID      string     `json:"host_user_id"`
		Location        *geo.Point `json:"location"`
		MaxDistanceKm   int        `json:"max_distance_km"`
		TargetDistanceM int        `json:"target_distance_m"`
		Status          string     `json:"status"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.HostUserID == "" || req.Location == nil {
		s.writeError(w, http.StatusBadRequest, "host_user_id and location are required")
		return
	}

	coords := geo.FromPoint(*req.Location)
	d, err := s.store.InsertDuel(r.Context(), store.Duel{
		HostUserID:      req.HostUserID,
		Lat:             coords.Lat,
		Lng:             coords.Lng,
		MaxDistanceKm:   req.MaxDistanceKm,
		TargetDistanceM: req.TargetDistanceM,
	})
	if err != nil {
		s.serverError(w, err, "create duel failed")
		return
	}

	row := s.duelRow(d)
	s.hub.Broadcast(feed.Event{Type: feed.EventInsert, New: &row})

	s.log.Info().Str("duel_id", d.ID).Str("host_user_id", d.HostUserID).Msg("duel created")
	s.writeJSON(w, http.StatusCreated, []gateway.DuelRow{row})
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lat      float64 `json:"lat"`
		Lng      float64 `json:"lng"`
		RadiusKm float64 `json:"radius_km"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	duels, err := s.store.NearbyDuels(r.Context(), req.Lat, req.Lng, req.RadiusKm)
	if err != nil {
		s.serverError(w, err, "nearby query failed")
		return
	}

	rows := make([]gateway.DuelRow, 0, len(duels))
	for _, d := range duels {
		rows = append(rows, s.duelRow(d))
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleTopGhostRuns(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CityName   string `json:"city_name"`
		LimitCount int    `json:"limit_count"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	runs, err := s.store.TopGhostRuns(r.Context(), req.CityName, req.LimitCount)
	if err != nil {
		s.serverError(w, err, "ghost run query failed")
		return
	}

	rows := make([]gateway.GhostRunRow, 0, len(runs))
	for _, run := range runs {
		lat, lng := run.Lat, run.Lng
		rows = append(rows, gateway.GhostRunRow{
			ID:             run.ID,
			Username:       run.Username,
			TimeMs:         run.TimeMs,
			DistanceMeters: run.DistanceM,
			Lat:            &lat,
			Lng:            &lng,
		})
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	userID := bearerUser(r)
	if userID == "" {
		s.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req struct {
		DuelID string `json:"duel_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	before, err := s.store.GetDuel(r.Context(), req.DuelID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "duel not found")
		return
	}
	if err != nil {
		s.serverError(w, err, "join lookup failed")
		return
	}

	claimed, err := s.store.ClaimDuel(r.Context(), req.DuelID, userID)
	if errors.Is(err, store.ErrNotOpen) {
		s.writeError(w, http.StatusConflict, "duel is not open")
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "duel not found")
		return
	}
	if err != nil {
		s.serverError(w, err, "join failed")
		return
	}

	oldRow := s.duelRow(before)
	newRow := s.duelRow(claimed)
	s.hub.Broadcast(feed.Event{Type: feed.EventUpdate, New: &newRow, Old: &oldRow})

	s.log.Info().
		Str("duel_id", claimed.ID).
		Str("challenger_user_id", userID).
		Msg("duel matched")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(claimed.Status)})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	userID := bearerUser(r)
	if userID == "" {
		s.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req struct {
		DuelID string `json:"p_duel_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	bothReady, err := s.store.MarkReady(r.Context(), req.DuelID, userID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "duel not found")
		return
	}
	if err != nil {
		s.serverError(w, err, "ready failed")
		return
	}

	s.log.Info().
		Str("duel_id", req.DuelID).
		Str("user_id", userID).
		Bool("both_ready", bothReady).
		Msg("runner ready")
	s.writeJSON(w, http.StatusOK, map[string]bool{"both_ready": bothReady})
}

func (s *Server) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	userID := bearerUser(r)
	if userID == "" {
		s.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req struct {
		DuelID  string             `json:"p_duel_id"`
		TimeMs  int64              `json:"p_time_ms"`
		Metrics *models.RunMetrics `json:"p_metrics"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.TimeMs <= 0 {
		s.writeError(w, http.StatusBadRequest, "p_time_ms must be positive")
		return
	}

	d, err := s.store.GetDuel(r.Context(), req.DuelID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "duel not found")
		return
	}
	if err != nil {
		s.serverError(w, err, "result lookup failed")
		return
	}

	complete, err := s.store.InsertResult(r.Context(), req.DuelID, store.Result{
		UserID:  userID,
		TimeMs:  req.TimeMs,
		Metrics: req.Metrics,
	})
	if errors.Is(err, store.ErrDuplicateResult) {
		s.writeError(w, http.StatusConflict, "result already submitted")
		return
	}
	if err != nil {
		s.serverError(w, err, "result insert failed")
		return
	}

	s.recordGhostRun(r, d, userID, req.TimeMs)

	if complete {
		before := d
		completed, err := s.store.CompleteDuel(r.Context(), req.DuelID)
		if err != nil {
			s.serverError(w, err, "complete duel failed")
			return
		}
		oldRow := s.duelRow(before)
		newRow := s.duelRow(completed)
		s.hub.Broadcast(feed.Event{Type: feed.EventUpdate, New: &newRow, Old: &oldRow})
		s.log.Info().Str("duel_id", completed.ID).Msg("duel completed")
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"complete": complete})
}

// recordGhostRun feeds the city leaderboard from a submitted finish. Failures
// only cost the leaderboard entry, never the result.
func (s *Server) recordGhostRun(r *http.Request, d store.Duel, userID string, timeMs int64) {
	username := ""
	if profiles, err := s.store.ProfilesByID(r.Context(), []string{userID}); err == nil && len(profiles) > 0 {
		username = profiles[0].Username
	}
	if username == "" {
		username = gateway.PlaceholderUsername(userID)
	}

	err := s.store.InsertGhostRun(r.Context(), store.GhostRun{
		UserID:    userID,
		Username:  username,
		City:      s.config.City,
		TimeMs:    timeMs,
		DistanceM: d.TargetDistanceM,
		Lat:       d.Lat,
		Lng:       d.Lng,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("duel_id", d.ID).Msg("ghost run insert failed")
	}
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DuelID string `json:"p_duel_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	results, err := s.store.DuelResults(r.Context(), req.DuelID)
	if err != nil {
		s.serverError(w, err, "results query failed")
		return
	}

	ids := make([]string, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.UserID)
	}
	names := make(map[string]string)
	if profiles, err := s.store.ProfilesByID(r.Context(), ids); err == nil {
		for _, p := range profiles {
			names[p.ID] = p.Username
		}
	}

	out := make([]models.DuelResult, 0, len(results))
	for _, res := range results {
		username := names[res.UserID]
		if username == "" {
			username = gateway.PlaceholderUsername(res.UserID)
		}
		out = append(out, models.DuelResult{
			UserID:   res.UserID,
			Username: username,
			TimeMs:   res.TimeMs,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("id")
	ids := parseInFilter(filter)

	profiles, err := s.store.ProfilesByID(r.Context(), ids)
	if err != nil {
		s.serverError(w, err, "profile query failed")
		return
	}

	type profileRow struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	rows := make([]profileRow, 0, len(profiles))
	for _, p := range profiles {
		rows = append(rows, profileRow{ID: p.ID, Username: p.Username})
	}
	s.writeJSON(w, http.StatusOK, rows)
}

// parseInFilter unpacks a PostgREST "in.(a,b,c)" filter value.
func parseInFilter(filter string) []string {
	if !strings.HasPrefix(filter, "in.(") || !strings.HasSuffix(filter, ")") {
		return nil
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(filter, "in.("), ")")
	if inner == "" {
		return nil
	}
	parts := strings.Split(inner, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (s *Server) duelRow(d store.Duel) gateway.DuelRow {
	lat, lng := d.Lat, d.Lng
	createdAt := d.CreatedAt
	return gateway.DuelRow{
		ID:               d.ID,
		HostUserID:       d.HostUserID,
		ChallengerUserID: d.ChallengerUserID,
		Status:           string(d.Status),
		Lat:              &lat,
		Lng:              &lng,
		TargetDistanceM:  d.TargetDistanceM,
		CreatedAt:        &createdAt,
	}
}

func bearerUser(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ")
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("write response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"message": message})
}

func (s *Server) serverError(w http.ResponseWriter, err error, message string) {
	s.log.Error().Err(err).Msg(message)
	s.writeError(w, http.StatusInternalServerError, message)
}
