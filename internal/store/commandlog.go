package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// AppendCommandLog records one processed CommandBot command. Always
// called before the reply is attempted: even a rate-limited command
// is logged.
func (db *DB) AppendCommandLog(ctx context.Context, l CommandLog) (int64, error) {
	var id int64
	err := db.withWriteLock(ctx, func(tx *sqlx.Tx) error {
		l.Timestamp = time.Now().UTC()
		res, err := tx.NamedExec(`
			INSERT INTO command_logs (user_node_id, raw_text, response_sent, rate_limited, timestamp)
			VALUES (:user_node_id, :raw_text, :response_sent, :rate_limited, :timestamp)
		`, l)
		if err != nil {
			return err
		}
		if db.dialect == DialectPostgres {
			return tx.Get(&id, `SELECT currval(pg_get_serial_sequence('command_logs','id'))`)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("store: append command log: %w", err)
	}
	return id, nil
}

// RecentCommandLogs returns the n most recent command log rows.
func (db *DB) RecentCommandLogs(ctx context.Context, n int) ([]CommandLog, error) {
	var out []CommandLog
	q := rebind(db.dialect, `SELECT * FROM command_logs ORDER BY id DESC LIMIT ?`)
	if err := db.SelectContext(ctx, &out, q, n); err != nil {
		return nil, fmt.Errorf("store: recent command logs: %w", err)
	}
	return out, nil
}

// CommandLogsForUser returns the n most recent command log rows for one user.
func (db *DB) CommandLogsForUser(ctx context.Context, nodeID uint32, n int) ([]CommandLog, error) {
	var out []CommandLog
	q := rebind(db.dialect, `SELECT * FROM command_logs WHERE user_node_id = ? ORDER BY id DESC LIMIT ?`)
	if err := db.SelectContext(ctx, &out, q, nodeID, n); err != nil {
		return nil, fmt.Errorf("store: command logs for user: %w", err)
	}
	return out, nil
}

// CommandLogsSince returns command log rows at or after since, used
// by the bot-stats endpoint's days window.
func (db *DB) CommandLogsSince(ctx context.Context, since time.Time) ([]CommandLog, error) {
	var out []CommandLog
	q := rebind(db.dialect, `SELECT * FROM command_logs WHERE timestamp >= ? ORDER BY id ASC`)
	if err := db.SelectContext(ctx, &out, q, since); err != nil {
		return nil, fmt.Errorf("store: command logs since: %w", err)
	}
	return out, nil
}
