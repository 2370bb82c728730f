package divelogs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/freedive-ai/coach/pkg/models"
)

// PostgresStore implements Store on a Postgres database such as Supabase.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const pgCreateDiveLogs = `
CREATE TABLE IF NOT EXISTS dive_logs (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	dive_date       TEXT NOT NULL DEFAULT '',
	discipline      TEXT NOT NULL,
	location        TEXT NOT NULL DEFAULT '',
	target_depth    DOUBLE PRECISION NOT NULL DEFAULT 0,
	reached_depth   DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_dive_time TEXT NOT NULL DEFAULT '',
	squeeze         BOOLEAN NOT NULL DEFAULT FALSE,
	exit_protocol   TEXT NOT NULL DEFAULT '',
	notes           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_dive_logs_user_time ON dive_logs (user_id, created_at DESC);
`

// NewPostgres connects to connURL and creates the dive_logs table if needed.
func NewPostgres(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, pgCreateDiveLogs); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info().Msg("postgres dive log store initialized")
	return &PostgresStore{pool: pool}, nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, d *models.DiveLog) error {
	if err := Validate(d); err != nil {
		return err
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dive_logs (id, user_id, dive_date, discipline, location, target_depth, reached_depth,
			total_dive_time, squeeze, exit_protocol, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
			dive_date = EXCLUDED.dive_date,
			discipline = EXCLUDED.discipline,
			location = EXCLUDED.location,
			target_depth = EXCLUDED.target_depth,
			reached_depth = EXCLUDED.reached_depth,
			total_dive_time = EXCLUDED.total_dive_time,
			squeeze = EXCLUDED.squeeze,
			exit_protocol = EXCLUDED.exit_protocol,
			notes = EXCLUDED.notes`,
		d.ID, d.UserID, d.Date, d.Discipline, d.Location, d.TargetDepth, d.ReachedDepth,
		d.TotalDiveTime, d.Squeeze, d.Exit, d.Notes, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dive log: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.DiveLog, error) {
	row := s.pool.QueryRow(ctx, selectDiveLog+` WHERE id = $1`, id)
	d, err := scanPgDiveLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dive log: %w", err)
	}
	return d, nil
}

// Recent implements Store.
func (s *PostgresStore) Recent(ctx context.Context, userID string, limit int) ([]models.DiveLog, error) {
	rows, err := s.pool.Query(ctx,
		selectDiveLog+` WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query dive logs: %w", err)
	}
	defer rows.Close()

	var logs []models.DiveLog
	for rows.Next() {
		d, err := scanPgDiveLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dive log: %w", err)
		}
		logs = append(logs, *d)
	}
	return logs, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPgDiveLog(row pgx.Row) (*models.DiveLog, error) {
	var d models.DiveLog
	if err := row.Scan(&d.ID, &d.UserID, &d.Date, &d.Discipline, &d.Location, &d.TargetDepth,
		&d.ReachedDepth, &d.TotalDiveTime, &d.Squeeze, &d.Exit, &d.Notes, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
