package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ArchiveFunc packages the about-to-be-deleted rows of one retention
// sweep into a durable bundle and returns its content identifier
// (a BitTorrent info-hash for internal/archive.Archiver). It runs
// inside Expire's transaction, after the candidate rows are read and
// before they are deleted. An empty info-hash with no error means
// nothing worth archiving was produced (e.g. zero rows).
type ArchiveFunc func(ctx context.Context, packets []Packet, relays []GatewayRelay) (infoHash string, err error)

// Expire deletes rows older than cutoff from packets (cascading to
// packet_gateways), stat_cache, and command_logs, per table. Nodes and
// Subscriptions are never deleted. If archive is non-nil, the
// candidate Packet+GatewayRelay rows are handed to it before the
// delete executes; a successful non-empty result records an
// ArchiveManifest row in the same transaction. An archive failure is
// logged by the caller and does not block the delete.
func (db *DB) Expire(ctx context.Context, cutoff time.Time, archive ArchiveFunc) error {
	return db.withWriteLock(ctx, func(tx *sqlx.Tx) error {
		var packets []Packet
		pq := rebind(db.dialect, `SELECT * FROM packets WHERE created_at < ?`)
		if err := tx.SelectContext(ctx, &packets, pq, cutoff); err != nil {
			return fmt.Errorf("select expiring packets: %w", err)
		}

		var relays []GatewayRelay
		if len(packets) > 0 {
			ids := make([]int64, len(packets))
			for i, p := range packets {
				ids[i] = p.ID
			}
			q, args, err := sqlx.In(`SELECT * FROM packet_gateways WHERE packet_id IN (?)`, ids)
			if err != nil {
				return fmt.Errorf("build relay query: %w", err)
			}
			if err := tx.SelectContext(ctx, &relays, rebind(db.dialect, q), args...); err != nil {
				return fmt.Errorf("select expiring relays: %w", err)
			}
		}

		if archive != nil && len(packets) > 0 {
			infoHash, err := archive(ctx, packets, relays)
			if err != nil {
				// Best-effort: the archive is a backup copy, not the
				// system of record, so a failure here must not block
				// the delete below.
				db.log.Warn("store: archive failed, expiring without backup", zap.Error(err))
				infoHash = ""
			}
			if infoHash != "" {
				now := time.Now().UTC()
				if _, err := tx.Exec(
					rebind(db.dialect, `INSERT INTO archive_manifests (cutoff, info_hash, record_count, created_at) VALUES (?, ?, ?, ?)`),
					cutoff, infoHash, len(packets), now,
				); err != nil {
					return fmt.Errorf("insert archive manifest: %w", err)
				}
			}
		}

		if _, err := tx.Exec(rebind(db.dialect, `DELETE FROM packets WHERE created_at < ?`), cutoff); err != nil {
			return fmt.Errorf("delete expired packets: %w", err)
		}
		// packet_gateways has no FK-enforced cascade on sqlite by default
		// without pragma support at the driver level in every build, so
		// clean up explicitly rather than rely on it.
		if len(packets) > 0 {
			ids := make([]int64, len(packets))
			for i, p := range packets {
				ids[i] = p.ID
			}
			q, args, err := sqlx.In(`DELETE FROM packet_gateways WHERE packet_id IN (?)`, ids)
			if err != nil {
				return fmt.Errorf("build relay delete: %w", err)
			}
			if _, err := tx.Exec(rebind(db.dialect, q), args...); err != nil {
				return fmt.Errorf("delete expired relays: %w", err)
			}
		}
		if _, err := tx.Exec(rebind(db.dialect, `DELETE FROM stat_cache WHERE expires_at < ?`), cutoff); err != nil {
			return fmt.Errorf("delete expired cache: %w", err)
		}
		if _, err := tx.Exec(rebind(db.dialect, `DELETE FROM command_logs WHERE timestamp < ?`), cutoff); err != nil {
			return fmt.Errorf("delete expired command logs: %w", err)
		}
		return nil
	})
}
