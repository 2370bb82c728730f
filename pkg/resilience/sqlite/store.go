// Package sqlite provides a SQLite-backed circuit state store shared by
// every process pointed at the same database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/freedive-ai/coach/pkg/models"
	"github.com/freedive-ai/coach/pkg/resilience"
)

var _ resilience.SharedStore = (*Store)(nil)

const createCircuitTable = `
CREATE TABLE IF NOT EXISTS circuit_breaker_state (
	endpoint_name TEXT PRIMARY KEY,
	failure_count INTEGER NOT NULL DEFAULT 0,
	last_failure_time DATETIME,
	state TEXT NOT NULL DEFAULT 'closed',
	next_attempt_time DATETIME
);
`

// Store persists circuit state in SQLite. Failure counts and half-open
// trial claims are single statements, so processes sharing the file never
// lose an increment or both win a trial. Times are bound as UTC, whose text
// form sorts chronologically.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the circuit state table at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open circuit db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCircuitTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate circuit db: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the state for endpoint and whether a row exists.
func (s *Store) Get(ctx context.Context, endpoint string) (models.CircuitState, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT endpoint_name, failure_count, last_failure_time, state, next_attempt_time
		 FROM circuit_breaker_state WHERE endpoint_name = ?`, endpoint)

	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CircuitState{}, false, nil
	}
	if err != nil {
		return models.CircuitState{}, false, fmt.Errorf("get circuit state: %w", err)
	}
	return st, true, nil
}

// Set upserts the state row for state.Endpoint.
func (s *Store) Set(ctx context.Context, state models.CircuitState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO circuit_breaker_state (endpoint_name, failure_count, last_failure_time, state, next_attempt_time)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint_name) DO UPDATE SET
			failure_count = excluded.failure_count,
			last_failure_time = excluded.last_failure_time,
			state = excluded.state,
			next_attempt_time = excluded.next_attempt_time`,
		state.Endpoint, state.FailureCount, nullTime(state.LastFailureTime), string(state.State), nullTime(state.NextAttemptTime),
	)
	if err != nil {
		return fmt.Errorf("set circuit state: %w", err)
	}
	return nil
}

// AddFailure increments the failure count for endpoint and opens the circuit
// when threshold is reached or a half-open trial failed.
func (s *Store) AddFailure(ctx context.Context, endpoint string, now time.Time, threshold int, cooldown time.Duration) (models.CircuitState, error) {
	now = now.UTC()
	next := now.Add(cooldown)

	var count int
	var state string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO circuit_breaker_state (endpoint_name, failure_count, last_failure_time, state, next_attempt_time)
		 VALUES (?, 1, ?, CASE WHEN ? <= 1 THEN 'open' ELSE 'closed' END, CASE WHEN ? <= 1 THEN ? END)
		 ON CONFLICT(endpoint_name) DO UPDATE SET
			failure_count = failure_count + 1,
			last_failure_time = excluded.last_failure_time,
			state = CASE WHEN state = 'half-open' OR failure_count + 1 >= ? THEN 'open' ELSE state END,
			next_attempt_time = CASE WHEN state = 'half-open' OR failure_count + 1 >= ? THEN ? ELSE next_attempt_time END
		 RETURNING failure_count, state`,
		endpoint, now, threshold, threshold, next, threshold, threshold, next,
	).Scan(&count, &state)
	if err != nil {
		return models.CircuitState{}, fmt.Errorf("add circuit failure: %w", err)
	}

	st := models.CircuitState{
		Endpoint:        endpoint,
		FailureCount:    count,
		LastFailureTime: &now,
		State:           models.BreakerState(state),
	}
	if st.State == models.BreakerOpen {
		st.NextAttemptTime = &next
	}
	return st, nil
}

// ClaimTrial moves endpoint to half-open with a lease ending at now+lease if
// its cooldown or previous lease has run out. It reports whether this caller
// got the trial.
func (s *Store) ClaimTrial(ctx context.Context, endpoint string, now time.Time, lease time.Duration) (bool, error) {
	now = now.UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE circuit_breaker_state
		 SET state = 'half-open', next_attempt_time = ?
		 WHERE endpoint_name = ? AND state IN ('open', 'half-open')
		   AND (next_attempt_time IS NULL OR next_attempt_time <= ?)`,
		now.Add(lease), endpoint, now,
	)
	if err != nil {
		return false, fmt.Errorf("claim circuit trial: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim circuit trial: %w", err)
	}
	return n == 1, nil
}

// List returns all circuit rows ordered by endpoint.
func (s *Store) List(ctx context.Context) ([]models.CircuitState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint_name, failure_count, last_failure_time, state, next_attempt_time
		 FROM circuit_breaker_state ORDER BY endpoint_name`)
	if err != nil {
		return nil, fmt.Errorf("list circuit states: %w", err)
	}
	defer rows.Close()

	var out []models.CircuitState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan circuit state: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(sc scanner) (models.CircuitState, error) {
	var st models.CircuitState
	var state string
	var last, next sql.NullTime
	if err := sc.Scan(&st.Endpoint, &st.FailureCount, &last, &state, &next); err != nil {
		return models.CircuitState{}, err
	}
	st.State = models.BreakerState(state)
	if last.Valid {
		t := last.Time
		st.LastFailureTime = &t
	}
	if next.Valid {
		t := next.Time
		st.NextAttemptTime = &t
	}
	return st, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
