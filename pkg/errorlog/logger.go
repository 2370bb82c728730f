// Package errorlog persists failed upstream attempts for monitoring.
package errorlog

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/freedive-ai/coach/pkg/models"
)

// MaxMessageSize caps stored error messages.
const MaxMessageSize = 2048

var secretPattern = regexp.MustCompile(`sk-[A-Za-z0-9_\-]{6,}`)

// Logger writes and queries error log entries in SQLite.
type Logger struct {
	db            *sql.DB
	retentionDays int
	now           func() time.Time
	done          chan struct{}
	wg            sync.WaitGroup
}

// New opens the error log database and starts the retention loop.
// retentionDays <= 0 keeps entries forever.
func New(dbPath string, retentionDays int) (*Logger, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open error log db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate error log db: %w", err)
	}

	l := &Logger{
		db:            db,
		retentionDays: retentionDays,
		now:           time.Now,
		done:          make(chan struct{}),
	}

	if retentionDays > 0 {
		l.wg.Add(1)
		go l.retentionLoop()
	}

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS error_logs (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL DEFAULT '',
		endpoint      TEXT NOT NULL,
		error_type    TEXT NOT NULL,
		error_message TEXT NOT NULL,
		severity      TEXT NOT NULL,
		attempt       INTEGER NOT NULL DEFAULT 1,
		resolved      INTEGER NOT NULL DEFAULT 0,
		created_at    DATETIME NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_error_logs_created ON error_logs(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_error_logs_endpoint ON error_logs(endpoint, severity)`)
	return err
}

// Log appends an entry. Missing IDs and timestamps are filled in and API keys
// in the message are redacted.
func (l *Logger) Log(ctx context.Context, entry models.ErrorLogEntry) error {
	if l == nil || l.db == nil {
		return nil
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	if !entry.Severity.Valid() {
		entry.Severity = models.SeverityMedium
	}
	if entry.Attempt < 1 {
		entry.Attempt = 1
	}

	msg := truncate(RedactSecrets(entry.ErrorMessage), MaxMessageSize)

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO error_logs (id, user_id, endpoint, error_type, error_message, severity, attempt, resolved, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Endpoint, entry.ErrorType, msg,
		string(entry.Severity), entry.Attempt, boolInt(entry.Resolved), entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("log error: %w", err)
	}
	return nil
}

// Query returns entries matching opts, newest first.
func (l *Logger) Query(ctx context.Context, opts models.ErrorQueryOpts) ([]models.ErrorLogEntry, error) {
	q := `SELECT id, user_id, endpoint, error_type, error_message, severity, attempt, resolved, created_at
		FROM error_logs WHERE 1=1`
	var args []any

	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}
	if opts.Severity != "" {
		q += " AND severity = ?"
		args = append(args, string(opts.Severity))
	}
	if opts.Endpoint != "" {
		q += " AND endpoint = ?"
		args = append(args, opts.Endpoint)
	}
	if opts.ErrorType != "" {
		q += " AND error_type = ?"
		args = append(args, opts.ErrorType)
	}
	if opts.UnresolvedOnly {
		q += " AND resolved = 0"
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query error log: %w", err)
	}
	defer rows.Close()

	var entries []models.ErrorLogEntry
	for rows.Next() {
		var e models.ErrorLogEntry
		var severity string
		var resolved int
		if err := rows.Scan(&e.ID, &e.UserID, &e.Endpoint, &e.ErrorType, &e.ErrorMessage,
			&severity, &e.Attempt, &resolved, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan error log row: %w", err)
		}
		e.Severity = models.Severity(severity)
		e.Resolved = resolved == 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns counts grouped by error type and severity since a given time.
func (l *Logger) Stats(ctx context.Context, since time.Time) ([]models.ErrorStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT error_type, severity, count(*) AS cnt
		 FROM error_logs WHERE created_at >= ?
		 GROUP BY error_type, severity ORDER BY cnt DESC, error_type`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("error log stats: %w", err)
	}
	defer rows.Close()

	var stats []models.ErrorStat
	for rows.Next() {
		var s models.ErrorStat
		var severity string
		if err := rows.Scan(&s.ErrorType, &severity, &s.Count); err != nil {
			return nil, fmt.Errorf("scan error stat: %w", err)
		}
		s.Severity = models.Severity(severity)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Count returns the number of entries since a given time, optionally only unresolved ones.
func (l *Logger) Count(ctx context.Context, since time.Time, unresolvedOnly bool) (int, error) {
	q := `SELECT count(*) FROM error_logs WHERE created_at >= ?`
	if unresolvedOnly {
		q += ` AND resolved = 0`
	}
	var n int
	if err := l.db.QueryRowContext(ctx, q, since.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count error log: %w", err)
	}
	return n, nil
}

// Resolve marks an entry resolved. It reports whether the entry existed.
func (l *Logger) Resolve(ctx context.Context, id string) (bool, error) {
	res, err := l.db.ExecContext(ctx, `UPDATE error_logs SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("resolve error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Cleanup deletes entries older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	if l.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := l.now().AddDate(0, 0, -l.retentionDays).UTC()
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM error_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("error log cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}

// RedactSecrets masks OpenAI-style API keys, keeping an 8-char prefix.
func RedactSecrets(s string) string {
	return secretPattern.ReplaceAllStringFunc(s, func(key string) string {
		return key[:8] + "****"
	})
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
