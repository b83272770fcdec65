package store

// ddlFor returns the dialect-appropriate DDL statements. Column types
// are kept close to portable SQL (INTEGER/TEXT/BLOB/REAL) the way the
// teacher's ydin/store.go does, with the autoincrement/serial and
// upsert syntax branching on dialect.
func ddlFor(d Dialect) []string {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	blob := "BLOB"
	if d == DialectPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
		blob = "BYTEA"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			node_id      INTEGER PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			mesh_id      TEXT,
			role         TEXT NOT NULL DEFAULT '',
			first_seen   TIMESTAMP NOT NULL,
			last_seen    TIMESTAMP NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS packets (
			id                   ` + pk + `,
			packet_id            BIGINT NOT NULL,
			sender_node_id       INTEGER NOT NULL,
			sender_name          TEXT NOT NULL DEFAULT '',
			sent_at              TIMESTAMP NOT NULL,
			gateway_count        INTEGER NOT NULL DEFAULT 0,
			rssi                 INTEGER,
			snr                  REAL,
			hop_start            INTEGER,
			hop_limit_at_receipt INTEGER,
			hops_travelled       INTEGER,
			payload              TEXT NOT NULL DEFAULT '',
			created_at           TIMESTAMP NOT NULL,
			updated_at           TIMESTAMP NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_packets_packet_id ON packets (packet_id);`,
		`CREATE INDEX IF NOT EXISTS idx_packets_sender ON packets (sender_node_id);`,
		`CREATE INDEX IF NOT EXISTS idx_packets_sent_at ON packets (sent_at);`,

		`CREATE TABLE IF NOT EXISTS packet_gateways (
			packet_id   BIGINT NOT NULL REFERENCES packets(id) ON DELETE CASCADE,
			gateway_id  TEXT NOT NULL,
			observed_at TIMESTAMP NOT NULL,
			PRIMARY KEY (packet_id, gateway_id)
		);`,

		`CREATE TABLE IF NOT EXISTS envelope_fingerprints (
			hash       ` + blob + ` PRIMARY KEY,
			created_at TIMESTAMP NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS subscriptions (
			user_node_id INTEGER PRIMARY KEY,
			variant      TEXT NOT NULL,
			active       INTEGER NOT NULL DEFAULT 1,
			created_at   TIMESTAMP NOT NULL,
			updated_at   TIMESTAMP NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS stat_cache (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS command_logs (
			id            ` + pk + `,
			user_node_id  INTEGER NOT NULL,
			raw_text      TEXT NOT NULL,
			response_sent INTEGER NOT NULL DEFAULT 0,
			rate_limited  INTEGER NOT NULL DEFAULT 0,
			timestamp     TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_command_logs_user ON command_logs (user_node_id);`,
		`CREATE INDEX IF NOT EXISTS idx_command_logs_timestamp ON command_logs (timestamp);`,

		`CREATE TABLE IF NOT EXISTS archive_manifests (
			id           ` + pk + `,
			cutoff       TIMESTAMP NOT NULL,
			info_hash    TEXT NOT NULL,
			record_count INTEGER NOT NULL,
			created_at   TIMESTAMP NOT NULL
		);`,
	}
}
