package store

import "time"

// Node is a known mesh participant.
type Node struct {
	NodeID      uint32    `db:"node_id"`
	DisplayName string    `db:"display_name"`
	MeshID      *string   `db:"mesh_id"`
	Role        string    `db:"role"`
	FirstSeen   time.Time `db:"first_seen"`
	LastSeen    time.Time `db:"last_seen"`
}

// Packet is one reconstructed mesh transmission.
type Packet struct {
	ID                int64     `db:"id"`
	PacketID          int64     `db:"packet_id"`
	SenderNodeID      uint32    `db:"sender_node_id"`
	SenderName        string    `db:"sender_name"`
	SentAt            time.Time `db:"sent_at"`
	GatewayCount      int       `db:"gateway_count"`
	RSSI              *int32    `db:"rssi"`
	SNR               *float32  `db:"snr"`
	HopStart          *int32    `db:"hop_start"`
	HopLimitAtReceipt *int32    `db:"hop_limit_at_receipt"`
	HopsTravelled     *int32    `db:"hops_travelled"`
	Payload           string    `db:"payload"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// GatewayRelay is one gateway's observation of a Packet.
type GatewayRelay struct {
	PacketID   int64     `db:"packet_id"`
	GatewayID  string    `db:"gateway_id"`
	ObservedAt time.Time `db:"observed_at"`
}

// SubscriptionVariant is the daily-summary shape a subscriber receives.
type SubscriptionVariant string

const (
	VariantLow  SubscriptionVariant = "low"
	VariantAvg  SubscriptionVariant = "avg"
	VariantHigh SubscriptionVariant = "high"
)

// Subscription is one node's opt-in to daily summary DMs.
type Subscription struct {
	UserNodeID uint32              `db:"user_node_id"`
	Variant    SubscriptionVariant `db:"variant"`
	Active     bool                `db:"active"`
	CreatedAt  time.Time           `db:"created_at"`
	UpdatedAt  time.Time           `db:"updated_at"`
}

// StatCache is a read-through cache row.
type StatCache struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"` // opaque JSON
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

// CommandLog is one processed CommandBot command (append-only).
type CommandLog struct {
	ID          int64     `db:"id"`
	UserNodeID  uint32    `db:"user_node_id"`
	RawText     string    `db:"raw_text"`
	ResponseSent bool     `db:"response_sent"`
	RateLimited bool      `db:"rate_limited"`
	Timestamp   time.Time `db:"timestamp"`
}

// EnvelopeFingerprint marks an envelope as already-ingested (replay guard).
type EnvelopeFingerprint struct {
	Hash      []byte    `db:"hash"`
	CreatedAt time.Time `db:"created_at"`
}

// ArchiveManifest records one retention-sweep archive bundle.
type ArchiveManifest struct {
	ID          int64     `db:"id"`
	Cutoff      time.Time `db:"cutoff"`
	InfoHash    string    `db:"info_hash"`
	RecordCount int       `db:"record_count"`
	CreatedAt   time.Time `db:"created_at"`
}
