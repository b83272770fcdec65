package store

import (
	"context"
	"fmt"
	"time"
)

// CountActiveNodesSince returns the number of nodes last seen at or
// after since.
func (db *DB) CountActiveNodesSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	q := rebind(db.dialect, `SELECT COUNT(*) FROM nodes WHERE last_seen >= ?`)
	if err := db.GetContext(ctx, &n, q, since); err != nil {
		return 0, fmt.Errorf("store: active nodes since: %w", err)
	}
	return n, nil
}

// CountGateways returns the total distinct gateway_ids ever seen.
func (db *DB) CountGateways(ctx context.Context) (int, error) {
	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(DISTINCT gateway_id) FROM packet_gateways`); err != nil {
		return 0, fmt.Errorf("store: count gateways: %w", err)
	}
	return n, nil
}

// CountActiveGatewaysSince returns the number of distinct gateway_ids
// observed at or after since.
func (db *DB) CountActiveGatewaysSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	q := rebind(db.dialect, `SELECT COUNT(DISTINCT gateway_id) FROM packet_gateways WHERE observed_at >= ?`)
	if err := db.GetContext(ctx, &n, q, since); err != nil {
		return 0, fmt.Errorf("store: active gateways since: %w", err)
	}
	return n, nil
}

// GatewayCountSample returns up to sampleCap of the most recent
// gateway_count values, used by StatsEngine percentile computation.
func (db *DB) GatewayCountSample(ctx context.Context, sampleCap int) ([]int, error) {
	var out []int
	q := rebind(db.dialect, `SELECT gateway_count FROM packets ORDER BY id DESC LIMIT ?`)
	if err := db.SelectContext(ctx, &out, q, sampleCap); err != nil {
		return nil, fmt.Errorf("store: gateway count sample: %w", err)
	}
	return out, nil
}

// TopSender is one row of the TopSenders aggregate.
type TopSender struct {
	SenderNodeID uint32 `db:"sender_node_id"`
	SenderName   string `db:"sender_name"`
	MessageCount int    `db:"message_count"`
}

// TopSenders returns the most prolific senders within [start, end).
func (db *DB) TopSenders(ctx context.Context, start, end time.Time, limit int) ([]TopSender, error) {
	var out []TopSender
	q := rebind(db.dialect, `
		SELECT sender_node_id, MAX(sender_name) AS sender_name, COUNT(*) AS message_count
		FROM packets
		WHERE sent_at >= ? AND sent_at < ?
		GROUP BY sender_node_id
		ORDER BY message_count DESC
		LIMIT ?
	`)
	if err := db.SelectContext(ctx, &out, q, start, end, limit); err != nil {
		return nil, fmt.Errorf("store: top senders: %w", err)
	}
	return out, nil
}
