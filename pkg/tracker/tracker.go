package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/freedive-ai/coach/pkg/models"
)

// Tracker records and queries model usage.
type Tracker interface {
	// Record stores a usage record and folds it into the hourly rollup.
	Record(ctx context.Context, rec models.UsageRecord) error
	// Query returns usage records since a given time, newest first.
	Query(ctx context.Context, opts QueryOpts) ([]models.UsageRecord, error)
	// Totals aggregates all usage since a given time.
	Totals(ctx context.Context, since time.Time) (models.UsageTotals, error)
	// Rollups returns hourly rollups since a given time, optionally for one endpoint.
	Rollups(ctx context.Context, since time.Time, endpoint string) ([]models.HourlyRollup, error)
	// Summary returns usage grouped by endpoint and model since a given time.
	Summary(ctx context.Context, since time.Time) ([]models.UsageSummary, error)
	// CostReport returns token and cost totals grouped by endpoint and model.
	CostReport(ctx context.Context, since time.Time) ([]models.CostReport, error)
	// TotalCostByUser returns the summed cost estimate for a user since a given time.
	TotalCostByUser(ctx context.Context, userID string, since time.Time) (float64, error)
	// Close releases resources.
	Close() error
}

// QueryOpts filters usage record queries.
type QueryOpts struct {
	Since    time.Time
	Endpoint string
	UserID   string
	Limit    int
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTables = `
CREATE TABLE IF NOT EXISTS usage_analytics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL DEFAULT '',
	endpoint TEXT NOT NULL,
	model_used TEXT NOT NULL DEFAULT '',
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	cost_estimate REAL NOT NULL DEFAULT 0,
	success INTEGER NOT NULL,
	error_type TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_time ON usage_analytics(created_at);
CREATE INDEX IF NOT EXISTS idx_usage_user_time ON usage_analytics(user_id, created_at);

CREATE TABLE IF NOT EXISTS hourly_rollups (
	hour DATETIME NOT NULL,
	endpoint TEXT NOT NULL,
	request_count INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	total_response_ms INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	total_cost REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (hour, endpoint)
);
`

// upsertRollup increments the bucket in place so concurrent writers never
// lose updates.
const upsertRollup = `
INSERT INTO hourly_rollups (hour, endpoint, request_count, success_count, total_response_ms, total_tokens, total_cost)
VALUES (?, ?, 1, ?, ?, ?, ?)
ON CONFLICT(hour, endpoint) DO UPDATE SET
	request_count = request_count + 1,
	success_count = success_count + excluded.success_count,
	total_response_ms = total_response_ms + excluded.total_response_ms,
	total_tokens = total_tokens + excluded.total_tokens,
	total_cost = total_cost + excluded.total_cost
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores a usage record and updates its hourly rollup in one transaction.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	createdAt := rec.CreatedAt.UTC()

	meta := []byte("{}")
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encode usage metadata: %w", err)
		}
		meta = b
	}

	success := 0
	if rec.Success {
		success = 1
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO usage_analytics (user_id, endpoint, model_used, prompt_tokens, completion_tokens, tokens_used,
			response_time_ms, cost_estimate, success, error_type, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.Endpoint, rec.ModelUsed, rec.PromptTokens, rec.CompletionTokens, rec.TokensUsed,
		rec.ResponseTimeMs, rec.CostEstimate, success, rec.ErrorType, string(meta), createdAt,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}

	_, err = tx.ExecContext(ctx, upsertRollup,
		createdAt.Truncate(time.Hour), rec.Endpoint, success, rec.ResponseTimeMs, rec.TokensUsed, rec.CostEstimate,
	)
	if err != nil {
		return fmt.Errorf("update rollup: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage: %w", err)
	}
	return nil
}

// Query returns usage records matching opts, newest first.
func (t *SQLiteTracker) Query(ctx context.Context, opts QueryOpts) ([]models.UsageRecord, error) {
	query := `SELECT id, user_id, endpoint, model_used, prompt_tokens, completion_tokens, tokens_used,
		response_time_ms, cost_estimate, success, error_type, metadata, created_at
		FROM usage_analytics WHERE created_at >= ?`
	args := []any{opts.Since.UTC()}
	if opts.Endpoint != "" {
		query += ` AND endpoint = ?`
		args = append(args, opts.Endpoint)
	}
	if opts.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, opts.UserID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		var success int
		var meta string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Endpoint, &r.ModelUsed, &r.PromptTokens, &r.CompletionTokens,
			&r.TokensUsed, &r.ResponseTimeMs, &r.CostEstimate, &success, &r.ErrorType, &meta, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		r.Success = success == 1
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode usage metadata: %w", err)
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Totals aggregates all usage since a given time.
func (t *SQLiteTracker) Totals(ctx context.Context, since time.Time) (models.UsageTotals, error) {
	var tot models.UsageTotals
	err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(AVG(response_time_ms), 0),
			COALESCE(SUM(tokens_used), 0), COALESCE(SUM(cost_estimate), 0)
		 FROM usage_analytics WHERE created_at >= ?`,
		since.UTC(),
	).Scan(&tot.RequestCount, &tot.SuccessCount, &tot.AvgResponseMs, &tot.TotalTokens, &tot.TotalCost)
	if err != nil {
		return models.UsageTotals{}, fmt.Errorf("usage totals: %w", err)
	}
	if tot.RequestCount > 0 {
		tot.SuccessRate = float64(tot.SuccessCount) / float64(tot.RequestCount)
	}
	return tot, nil
}

// Rollups returns hourly rollups since a given time, oldest first.
func (t *SQLiteTracker) Rollups(ctx context.Context, since time.Time, endpoint string) ([]models.HourlyRollup, error) {
	query := `SELECT hour, endpoint, request_count, success_count, total_response_ms, total_tokens, total_cost
		FROM hourly_rollups WHERE hour >= ?`
	args := []any{since.UTC().Truncate(time.Hour)}
	if endpoint != "" {
		query += ` AND endpoint = ?`
		args = append(args, endpoint)
	}
	query += ` ORDER BY hour, endpoint`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rollups: %w", err)
	}
	defer rows.Close()

	var out []models.HourlyRollup
	for rows.Next() {
		var r models.HourlyRollup
		if err := rows.Scan(&r.Hour, &r.Endpoint, &r.RequestCount, &r.SuccessCount, &r.TotalResponseMs, &r.TotalTokens, &r.TotalCost); err != nil {
			return nil, fmt.Errorf("scan rollup: %w", err)
		}
		if r.RequestCount > 0 {
			r.AvgResponseMs = float64(r.TotalResponseMs) / float64(r.RequestCount)
			r.SuccessRate = float64(r.SuccessCount) / float64(r.RequestCount)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary returns aggregated usage grouped by endpoint and model.
func (t *SQLiteTracker) Summary(ctx context.Context, since time.Time) ([]models.UsageSummary, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT endpoint, model_used, COUNT(*), SUM(success), SUM(tokens_used), SUM(cost_estimate), AVG(response_time_ms)
		 FROM usage_analytics WHERE created_at >= ?
		 GROUP BY endpoint, model_used ORDER BY endpoint, model_used`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.Endpoint, &s.Model, &s.RequestCount, &s.SuccessCount, &s.TotalTokens, &s.TotalCost, &s.AvgResponseMs); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// CostReport returns token and cost totals grouped by endpoint and model.
func (t *SQLiteTracker) CostReport(ctx context.Context, since time.Time) ([]models.CostReport, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT endpoint, model_used, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens), SUM(tokens_used), SUM(cost_estimate)
		 FROM usage_analytics WHERE created_at >= ?
		 GROUP BY endpoint, model_used ORDER BY SUM(cost_estimate) DESC`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("cost report: %w", err)
	}
	defer rows.Close()

	var out []models.CostReport
	for rows.Next() {
		var r models.CostReport
		if err := rows.Scan(&r.Endpoint, &r.Model, &r.RequestCount, &r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.EstimatedCost); err != nil {
			return nil, fmt.Errorf("scan cost report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TotalCostByUser returns the summed cost estimate for a user since a given time.
func (t *SQLiteTracker) TotalCostByUser(ctx context.Context, userID string, since time.Time) (float64, error) {
	var total float64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_estimate), 0) FROM usage_analytics WHERE user_id = ? AND created_at >= ?`,
		userID, since.UTC(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total cost: %w", err)
	}
	return total, nil
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
