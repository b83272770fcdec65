// Package store manages meshwatchd's durable state: nodes, packets,
// gateway-relay links, subscriptions, the stat cache, and the command
// audit log. It owns the schema and all migrations.
//
// Grounded in github.com/gg-glitch-88/meshigo-kore's ydin/store.go
// (SQLite-only, WAL mode, embedded driver) generalised to also accept
// a networked Postgres DSN, the way ClusterCockpit-cc-backend and
// Chartly2.0 both drive sqlx over either mattn/go-sqlite3 or lib/pq
// depending on configuration.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Dialect identifies which SQL backend DB is talking to. A handful of
// queries (upserts, date truncation) are not portable between SQLite
// and Postgres, so Store branches on this at the call sites that need it.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// DB wraps *sqlx.DB with meshwatchd's domain helpers and serialises
// writes when the backend cannot do so itself.
type DB struct {
	*sqlx.DB
	dialect Dialect
	log     *zap.Logger

	// writeMu serialises writers against SQLite, which allows only one
	// writer at a time even in WAL mode. Postgres does not need this,
	// but taking the uncontended lock costs nothing.
	writeMu chan struct{}
}

// Open parses DATABASE_URL and opens the selected backend.
//
//	sqlite://path/to/file.db  or  file:path/to/file.db  → embedded SQLite (WAL)
//	postgres://...                                       → networked Postgres
func Open(dsn string, log *zap.Logger) (*DB, error) {
	driver, dataSource, dialect, err := parseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	raw, err := sqlx.Open(driver, dataSource)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if err := raw.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if dialect == DialectSQLite {
		// SQLite WAL allows concurrent readers but exactly one writer;
		// Store.writeMu below enforces the same bound at the app level
		// so callers get a queued retry instead of SQLITE_BUSY.
		raw.SetMaxOpenConns(1)
	}

	db := &DB{
		DB:      raw,
		dialect: dialect,
		log:     log,
		writeMu: make(chan struct{}, 1),
	}
	db.writeMu <- struct{}{}
	return db, nil
}

func parseDSN(dsn string) (driver, dataSource string, dialect Dialect, err error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite3", sqliteDataSource(strings.TrimPrefix(dsn, "sqlite://")), DialectSQLite, nil
	case strings.HasPrefix(dsn, "file:"):
		return "sqlite3", sqliteDataSource(strings.TrimPrefix(dsn, "file:")), DialectSQLite, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn, DialectPostgres, nil
	default:
		return "", "", "", fmt.Errorf("unrecognised DATABASE_URL scheme in %q", dsn)
	}
}

func sqliteDataSource(path string) string {
	path = strings.TrimPrefix(path, "//")
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000", path)
}

// Dialect reports which backend this DB is driving.
func (db *DB) Dialect() Dialect { return db.dialect }

// withWriteLock serialises the body against concurrent writers, with
// bounded exponential backoff (capped at 1s, 10 attempts) on transient
// lock contention.
func (db *DB) withWriteLock(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	select {
	case <-db.writeMu:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { db.writeMu <- struct{}{} }()

	backoff := 10 * time.Millisecond
	const maxBackoff = 1 * time.Second
	const maxAttempts = 10

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			lastErr = err
		} else if err := fn(tx); err != nil {
			_ = tx.Rollback()
			lastErr = err
		} else if err := tx.Commit(); err != nil {
			lastErr = err
		} else {
			return nil
		}

		if !isTransient(lastErr) {
			return lastErr
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return fmt.Errorf("store: write retries exhausted: %w", lastErr)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "deadlock")
}

// Migrate applies the embedded DDL schema. Idempotent: every statement
// is IF NOT EXISTS, same discipline as the teacher's store.Migrate.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range ddlFor(db.dialect) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}
