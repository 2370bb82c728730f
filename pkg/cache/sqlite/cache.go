package sqlite

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/freedive-ai/coach/pkg/models"
)

// Cache is a response cache backed by SQLite, shared across processes that
// open the same file. Least recently read entries are pruned past maxEntries.
type Cache struct {
	db         *sql.DB
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
	evictions  atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS response_cache (
	cache_key TEXT PRIMARY KEY,
	response BLOB NOT NULL,
	stored_at DATETIME NOT NULL,
	last_access DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_response_cache_access ON response_cache(last_access);
`

// New creates a Cache with the given database path, TTL and size bound.
// maxEntries <= 0 leaves the cache unbounded.
func New(dbPath string, ttl time.Duration, maxEntries int) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Cache{db: db, ttl: ttl, maxEntries: maxEntries, now: time.Now}, nil
}

// Get retrieves a cached response. Expired entries are deleted and reported as a miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	var response []byte
	var storedAt time.Time

	err := c.db.QueryRow(
		`SELECT response, stored_at FROM response_cache WHERE cache_key = ?`, key,
	).Scan(&response, &storedAt)
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}

	now := c.now().UTC()
	if now.Sub(storedAt) >= c.ttl {
		_, _ = c.db.Exec(`DELETE FROM response_cache WHERE cache_key = ?`, key)
		c.misses.Add(1)
		return nil, false
	}

	_, _ = c.db.Exec(`UPDATE response_cache SET last_access = ? WHERE cache_key = ?`, now, key)
	c.hits.Add(1)
	return response, true
}

// Set stores a response, replacing any previous entry for key.
func (c *Cache) Set(key string, value []byte) error {
	now := c.now().UTC()
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO response_cache (cache_key, response, stored_at, last_access)
		 VALUES (?, ?, ?, ?)`,
		key, value, now, now,
	)
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return c.prune()
}

func (c *Cache) prune() error {
	if c.maxEntries <= 0 {
		return nil
	}
	res, err := c.db.Exec(
		`DELETE FROM response_cache WHERE cache_key NOT IN (
			SELECT cache_key FROM response_cache ORDER BY last_access DESC LIMIT ?
		)`, c.maxEntries,
	)
	if err != nil {
		return fmt.Errorf("cache prune: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		c.evictions.Add(n)
	}
	return nil
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() (models.CacheStats, error) {
	var count int64
	err := c.db.QueryRow(`SELECT COUNT(*) FROM response_cache`).Scan(&count)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries:   count,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries are removed.
func (c *Cache) Clear(expiredOnly bool) error {
	var err error
	if expiredOnly {
		_, err = c.db.Exec(`DELETE FROM response_cache WHERE stored_at <= ?`, c.now().UTC().Add(-c.ttl))
	} else {
		_, err = c.db.Exec(`DELETE FROM response_cache`)
	}
	if err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
