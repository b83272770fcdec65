package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// GetNode looks up a node by its numeric ID.
func (db *DB) GetNode(ctx context.Context, nodeID uint32) (*Node, error) {
	var n Node
	q := rebind(db.dialect, `SELECT * FROM nodes WHERE node_id = ?`)
	if err := db.GetContext(ctx, &n, q, nodeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get node: %w", err)
	}
	return &n, nil
}

// UpsertNode registers or refreshes a node's display name directly,
// outside the packet-grouping write path. Used by the /mock/user test
// affordance, which must go through the same Store write path as
// every other node sighting.
func (db *DB) UpsertNode(ctx context.Context, nodeID uint32, displayName string) error {
	return db.withWriteLock(ctx, func(tx *sqlx.Tx) error {
		return upsertNode(tx, db.dialect, nodeID, displayName, time.Now().UTC())
	})
}

// CountNodes returns the total distinct Nodes ever seen.
func (db *DB) CountNodes(ctx context.Context) (int, error) {
	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM nodes`); err != nil {
		return 0, fmt.Errorf("store: count nodes: %w", err)
	}
	return n, nil
}
