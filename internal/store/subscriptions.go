package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Subscribe upserts the active subscription for a node: a prior
// active subscription for the same node is replaced, not duplicated.
func (db *DB) Subscribe(ctx context.Context, nodeID uint32, variant SubscriptionVariant) error {
	now := time.Now().UTC()
	return db.withWriteLock(ctx, func(tx *sqlx.Tx) error {
		var stmt string
		switch db.dialect {
		case DialectPostgres:
			stmt = `INSERT INTO subscriptions (user_node_id, variant, active, created_at, updated_at)
					VALUES ($1, $2, 1, $3, $3)
					ON CONFLICT (user_node_id) DO UPDATE
					  SET variant = excluded.variant, active = 1, updated_at = excluded.updated_at`
			_, err := tx.Exec(stmt, nodeID, variant, now)
			return err
		default:
			stmt = `INSERT INTO subscriptions (user_node_id, variant, active, created_at, updated_at)
					VALUES (?, ?, 1, ?, ?)
					ON CONFLICT (user_node_id) DO UPDATE
					  SET variant = excluded.variant, active = 1, updated_at = excluded.updated_at`
			_, err := tx.Exec(stmt, nodeID, variant, now, now)
			return err
		}
	})
}

// Unsubscribe marks a node's subscription inactive without deleting
// the row, so it remains available for audit.
func (db *DB) Unsubscribe(ctx context.Context, nodeID uint32) error {
	now := time.Now().UTC()
	return db.withWriteLock(ctx, func(tx *sqlx.Tx) error {
		q := rebind(db.dialect, `UPDATE subscriptions SET active = 0, updated_at = ? WHERE user_node_id = ?`)
		_, err := tx.Exec(q, now, nodeID)
		return err
	})
}

// GetSubscription returns a node's subscription row, if any.
func (db *DB) GetSubscription(ctx context.Context, nodeID uint32) (*Subscription, error) {
	var s Subscription
	q := rebind(db.dialect, `SELECT * FROM subscriptions WHERE user_node_id = ?`)
	if err := db.GetContext(ctx, &s, q, nodeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get subscription: %w", err)
	}
	return &s, nil
}

// ListSubscriptions lists active subscriptions, optionally filtered by variant.
func (db *DB) ListSubscriptions(ctx context.Context, variant SubscriptionVariant) ([]Subscription, error) {
	var out []Subscription
	var err error
	if variant == "" {
		q := rebind(db.dialect, `SELECT * FROM subscriptions WHERE active = 1 ORDER BY user_node_id`)
		err = db.SelectContext(ctx, &out, q)
	} else {
		q := rebind(db.dialect, `SELECT * FROM subscriptions WHERE active = 1 AND variant = ? ORDER BY user_node_id`)
		err = db.SelectContext(ctx, &out, q, variant)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list subscriptions: %w", err)
	}
	return out, nil
}
