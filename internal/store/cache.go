package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// CacheGet implements a read-through cache policy: an expired entry is
// treated as absent, never returned.
func (db *DB) CacheGet(ctx context.Context, key string) (string, bool, error) {
	var row StatCache
	q := rebind(db.dialect, `SELECT * FROM stat_cache WHERE key = ?`)
	if err := db.GetContext(ctx, &row, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store: cache get: %w", err)
	}
	if time.Now().UTC().After(row.ExpiresAt) {
		return "", false, nil
	}
	return row.Value, true, nil
}

// CacheSet upserts a cache entry. Writes are optimistic / last-write-wins.
func (db *DB) CacheSet(ctx context.Context, key, value string, ttl time.Duration) error {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	return db.withWriteLock(ctx, func(tx *sqlx.Tx) error {
		var stmt string
		switch db.dialect {
		case DialectPostgres:
			stmt = `INSERT INTO stat_cache (key, value, created_at, expires_at)
					VALUES ($1, $2, $3, $4)
					ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`
		default:
			stmt = `INSERT INTO stat_cache (key, value, created_at, expires_at)
					VALUES (?, ?, ?, ?)
					ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`
		}
		_, err := tx.Exec(stmt, key, value, now, expiresAt)
		return err
	})
}
