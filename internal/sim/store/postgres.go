package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tokioace/Runnit/internal/models"
)

// Postgres is the pgx-backed Store. Schema is applied on construction so a
// fresh database works out of the box.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// ConnectPostgres opens a pool against dsn and ensures the schema exists.
func ConnectPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the underlying pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS duels (
	id                 UUID PRIMARY KEY,
	host_user_id       TEXT NOT NULL,
	challenger_user_id TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'open',
	lat                DOUBLE PRECISION NOT NULL,
	lng                DOUBLE PRECISION NOT NULL,
	max_distance_km    INT NOT NULL DEFAULT 5,
	target_distance_m  INT NOT NULL DEFAULT 100,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS duel_ready (
	duel_id UUID NOT NULL REFERENCES duels(id),
	user_id TEXT NOT NULL,
	PRIMARY KEY (duel_id, user_id)
);
CREATE TABLE IF NOT EXISTS duel_results (
	duel_id      UUID NOT NULL REFERENCES duels(id),
	user_id      TEXT NOT NULL,
	time_ms      BIGINT NOT NULL,
	metrics      JSONB,
	submitted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (duel_id, user_id)
);
CREATE TABLE IF NOT EXISTS ghost_runs (
	id         UUID PRIMARY KEY,
	user_id    TEXT NOT NULL,
	username   TEXT NOT NULL,
	city       TEXT NOT NULL,
	time_ms    BIGINT NOT NULL,
	distance_m INT NOT NULL,
	lat        DOUBLE PRECISION NOT NULL,
	lng        DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS profiles (
	id       TEXT PRIMARY KEY,
	username TEXT NOT NULL
);`
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const duelColumns = `id, host_user_id, challenger_user_id, status, lat, lng, max_distance_km, target_distance_m, created_at`

func scanDuel(row pgx.Row) (Duel, error) {
	var d Duel
	var status string
	err := row.Scan(&d.ID, &d.HostUserID, &d.ChallengerUserID, &status,
		&d.Lat, &d.Lng, &d.MaxDistanceKm, &d.TargetDistanceM, &d.CreatedAt)
	if err != nil {
		return Duel{}, err
	}
	d.Status = models.DuelStatus(status)
	return d, nil
}

func (p *Postgres) InsertDuel(ctx context.Context, d Duel) (Duel, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = models.DuelStatusOpen
	}
	row := p.pool.QueryRow(ctx, `
		INSERT INTO duels (id, host_user_id, status, lat, lng, max_distance_km, target_distance_m)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+duelColumns,
		d.ID, d.HostUserID, string(d.Status), d.Lat, d.Lng, d.MaxDistanceKm, d.TargetDistanceM)
	inserted, err := scanDuel(row)
	if err != nil {
		return Duel{}, fmt.Errorf("insert duel: %w", err)
	}
	return inserted, nil
}

func (p *Postgres) GetDuel(ctx context.Context, id string) (Duel, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+duelColumns+` FROM duels WHERE id = $1`, id)
	d, err := scanDuel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Duel{}, ErrNotFound
	}
	if err != nil {
		return Duel{}, fmt.Errorf("get duel: %w", err)
	}
	return d, nil
}

func (p *Postgres) NearbyDuels(ctx context.Context, lat, lng, radiusKm float64) ([]Duel, error) {
	// Haversine over a small radius; no PostGIS dependency.
	rows, err := p.pool.Query(ctx, `
		SELECT `+duelColumns+`
		FROM duels
		WHERE status = 'open'
		  AND 6371 * 2 * asin(sqrt(
			pow(sin(radians(lat - $1) / 2), 2) +
			cos(radians($1)) * cos(radians(lat)) *
			pow(sin(radians(lng - $2) / 2), 2)
		  )) <= $3
		ORDER BY created_at DESC, id`,
		lat, lng, radiusKm)
	if err != nil {
		return nil, fmt.Errorf("query nearby duels: %w", err)
	}
	defer rows.Close()

	var out []Duel
	for rows.Next() {
		d, err := scanDuel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan duel: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate duels: %w", err)
	}
	return out, nil
}

func (p *Postgres) ClaimDuel(ctx context.Context, duelID, challengerID string) (Duel, error) {
	// The WHERE clause is the whole exactly-once guarantee; losers match
	// zero rows.
	row := p.pool.QueryRow(ctx, `
		UPDATE duels
		SET status = 'matched', challenger_user_id = $2
		WHERE id = $1 AND status = 'open' AND host_user_id <> $2
		RETURNING `+duelColumns,
		duelID, challengerID)
	d, err := scanDuel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := p.GetDuel(ctx, duelID); errors.Is(getErr, ErrNotFound) {
			return Duel{}, ErrNotFound
		}
		return Duel{}, ErrNotOpen
	}
	if err != nil {
		return Duel{}, fmt.Errorf("claim duel: %w", err)
	}
	return d, nil
}

func (p *Postgres) MarkReady(ctx context.Context, duelID, userID string) (bool, error) {
	d, err := p.GetDuel(ctx, duelID)
	if err != nil {
		return false, err
	}
	if _, err := p.pool.Exec(ctx, `
		INSERT INTO duel_ready (duel_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		duelID, userID); err != nil {
		return false, fmt.Errorf("mark ready: %w", err)
	}

	var count int
	err = p.pool.QueryRow(ctx, `
		SELECT count(*) FROM duel_ready
		WHERE duel_id = $1 AND user_id IN ($2, $3)`,
		duelID, d.HostUserID, d.ChallengerUserID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count ready: %w", err)
	}
	return count >= 2, nil
}

func (p *Postgres) InsertResult(ctx context.Context, duelID string, res Result) (bool, error) {
	var metricsJSON []byte
	if res.Metrics != nil {
		var err error
		metricsJSON, err = json.Marshal(res.Metrics)
		if err != nil {
			return false, fmt.Errorf("marshal metrics: %w", err)
		}
	}

	tag, err := p.pool.Exec(ctx, `
		INSERT INTO duel_results (duel_id, user_id, time_ms, metrics)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`,
		duelID, res.UserID, res.TimeMs, metricsJSON)
	if err != nil {
		return false, fmt.Errorf("insert result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, ErrDuplicateResult
	}

	var count int
	if err := p.pool.QueryRow(ctx,
		`SELECT count(*) FROM duel_results WHERE duel_id = $1`,
		duelID).Scan(&count); err != nil {
		return false, fmt.Errorf("count results: %w", err)
	}
	return count >= 2, nil
}

func (p *Postgres) DuelResults(ctx context.Context, duelID string) ([]Result, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT user_id, time_ms, metrics, submitted_at
		FROM duel_results WHERE duel_id = $1
		ORDER BY submitted_at`, duelID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var res Result
		var metricsJSON []byte
		if err := rows.Scan(&res.UserID, &res.TimeMs, &metricsJSON, &res.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if len(metricsJSON) > 0 {
			res.Metrics = &models.RunMetrics{}
			if err := json.Unmarshal(metricsJSON, res.Metrics); err != nil {
				return nil, fmt.Errorf("unmarshal metrics: %w", err)
			}
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

func (p *Postgres) CompleteDuel(ctx context.Context, duelID string) (Duel, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE duels SET status = 'completed'
		WHERE id = $1
		RETURNING `+duelColumns, duelID)
	d, err := scanDuel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Duel{}, ErrNotFound
	}
	if err != nil {
		return Duel{}, fmt.Errorf("complete duel: %w", err)
	}
	return d, nil
}

func (p *Postgres) InsertGhostRun(ctx context.Context, run GhostRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if _, err := p.pool.Exec(ctx, `
		INSERT INTO ghost_runs (id, user_id, username, city, time_ms, distance_m, lat, lng)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.UserID, run.Username, run.City, run.TimeMs, run.DistanceM, run.Lat, run.Lng); err != nil {
		return fmt.Errorf("insert ghost run: %w", err)
	}
	return nil
}

func (p *Postgres) TopGhostRuns(ctx context.Context, city string, limit int) ([]GhostRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT ON (user_id)
			id, user_id, username, city, time_ms, distance_m, lat, lng
		FROM ghost_runs
		WHERE city = $1
		ORDER BY user_id, time_ms`, city)
	if err != nil {
		return nil, fmt.Errorf("query ghost runs: %w", err)
	}
	defer rows.Close()

	var out []GhostRun
	for rows.Next() {
		var run GhostRun
		if err := rows.Scan(&run.ID, &run.UserID, &run.Username, &run.City,
			&run.TimeMs, &run.DistanceM, &run.Lat, &run.Lng); err != nil {
			return nil, fmt.Errorf("scan ghost run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ghost runs: %w", err)
	}

	// DISTINCT ON fixed per-user bests; rank order is by time.
	sortGhostRuns(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p *Postgres) UpsertProfile(ctx context.Context, pr Profile) error {
	if _, err := p.pool.Exec(ctx, `
		INSERT INTO profiles (id, username) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username`,
		pr.ID, pr.Username); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (p *Postgres) ProfilesByID(ctx context.Context, ids []string) ([]Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, username FROM profiles WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var pr Profile
		if err := rows.Scan(&pr.ID, &pr.Username); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return out, nil
}
