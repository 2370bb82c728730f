package divelogs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/freedive-ai/coach/pkg/models"
)

// SQLiteStore implements Store with a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const createDiveLogs = `
CREATE TABLE IF NOT EXISTS dive_logs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	dive_date TEXT NOT NULL DEFAULT '',
	discipline TEXT NOT NULL,
	location TEXT NOT NULL DEFAULT '',
	target_depth REAL NOT NULL DEFAULT 0,
	reached_depth REAL NOT NULL DEFAULT 0,
	total_dive_time TEXT NOT NULL DEFAULT '',
	squeeze INTEGER NOT NULL DEFAULT 0,
	exit_protocol TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dive_logs_user_time ON dive_logs(user_id, created_at);
`

const selectDiveLog = `SELECT id, user_id, dive_date, discipline, location, target_depth, reached_depth,
	total_dive_time, squeeze, exit_protocol, notes, created_at FROM dive_logs`

// NewSQLite creates a SQLiteStore and runs auto-migration.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open dive log db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createDiveLogs); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate dive log db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, log *models.DiveLog) error {
	if err := Validate(log); err != nil {
		return err
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	squeeze := 0
	if log.Squeeze {
		squeeze = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO dive_logs (id, user_id, dive_date, discipline, location, target_depth, reached_depth,
			total_dive_time, squeeze, exit_protocol, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.UserID, log.Date, log.Discipline, log.Location, log.TargetDepth, log.ReachedDepth,
		log.TotalDiveTime, squeeze, log.Exit, log.Notes, log.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert dive log: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.DiveLog, error) {
	row := s.db.QueryRowContext(ctx, selectDiveLog+` WHERE id = ?`, id)
	log, err := scanDiveLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dive log: %w", err)
	}
	return log, nil
}

// Recent implements Store.
func (s *SQLiteStore) Recent(ctx context.Context, userID string, limit int) ([]models.DiveLog, error) {
	rows, err := s.db.QueryContext(ctx,
		selectDiveLog+` WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query dive logs: %w", err)
	}
	defer rows.Close()

	var logs []models.DiveLog
	for rows.Next() {
		log, err := scanDiveLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dive log: %w", err)
		}
		logs = append(logs, *log)
	}
	return logs, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDiveLog(sc scanner) (*models.DiveLog, error) {
	var log models.DiveLog
	var squeeze int
	if err := sc.Scan(&log.ID, &log.UserID, &log.Date, &log.Discipline, &log.Location, &log.TargetDepth,
		&log.ReachedDepth, &log.TotalDiveTime, &squeeze, &log.Exit, &log.Notes, &log.CreatedAt); err != nil {
		return nil, err
	}
	log.Squeeze = squeeze == 1
	return &log, nil
}
