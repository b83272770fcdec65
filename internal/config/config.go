// Package config loads meshwatchd's runtime configuration from the
// environment, the way github.com/gg-glitch-88/meshigo-kore's gateway
// package expected a constructed Config but never loaded one.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-derived setting meshwatchd needs.
type Config struct {
	MQTT     MQTT
	Database Database
	API      API
	Mesh     Mesh
	Grouping Grouping
	Archive  Archive
	LogLevel string
}

// MQTT holds broker connection settings.
type MQTT struct {
	Server      string
	Username    string
	Password    string
	RootTopic   string
	TLSEnabled  bool
	TLSInsecure bool
}

// Database holds the store DSN.
type Database struct {
	URL string
}

// API holds the HTTP bind address.
type API struct {
	Host string
	Port int
}

// Mesh holds CommandBot + decryption settings.
type Mesh struct {
	ConnectionURL       string
	CommandsEnabled     bool
	StatsChannelID      int
	DecryptionKeys      []string // base64
	IncludeDefaultKey   bool
	SubscriptionHour    int
	SubscriptionMinute  int
	BroadcastEnabled    bool
	BroadcastHour       int
	BroadcastMinute     int
	BroadcastChannel    int
}

// Grouping holds PacketGrouper tuning.
type Grouping struct {
	WindowSeconds      int
	QuiescenceSeconds  int
	LateRetentionHours int
}

// Archive holds Archiver tuning: where manifests and seeded torrent
// data live, which peers to seed to, and how many days of packets to
// keep before a row is swept into a manifest.
type Archive struct {
	Dir           string
	Peers         []string
	RetentionDays int
}

// Load reads configuration from the process environment. It never
// panics; a malformed value becomes a descriptive error so the
// Orchestrator can exit(1) before binding anything.
func Load() (*Config, error) {
	cfg := &Config{
		MQTT: MQTT{
			Server:      os.Getenv("MQTT_SERVER"),
			Username:    os.Getenv("MQTT_USERNAME"),
			Password:    os.Getenv("MQTT_PASSWORD"),
			RootTopic:   getenvDefault("MQTT_ROOT_TOPIC", "msh"),
			TLSEnabled:  getenvBool("MQTT_TLS_ENABLED", false),
			TLSInsecure: getenvBool("MQTT_TLS_INSECURE", false),
		},
		Database: Database{
			URL: getenvDefault("DATABASE_URL", "sqlite://meshwatchd.db"),
		},
		API: API{
			Host: getenvDefault("API_HOST", "0.0.0.0"),
		},
		LogLevel: getenvDefault("LOG_LEVEL", "info"),
	}

	port, err := getenvInt("API_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("config: API_PORT: %w", err)
	}
	cfg.API.Port = port

	var keys []string
	if raw := os.Getenv("MESHTASTIC_DECRYPTION_KEYS"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			k = strings.TrimSpace(k)
			if k != "" {
				keys = append(keys, k)
			}
		}
	}

	statsChannel, err := getenvInt("MESHTASTIC_STATS_CHANNEL_ID", 0)
	if err != nil {
		return nil, fmt.Errorf("config: MESHTASTIC_STATS_CHANNEL_ID: %w", err)
	}
	if statsChannel < 0 || statsChannel > 7 {
		return nil, fmt.Errorf("config: MESHTASTIC_STATS_CHANNEL_ID must be 0-7, got %d", statsChannel)
	}

	subHour, err := getenvInt("SUBSCRIPTION_SEND_HOUR", 7)
	if err != nil {
		return nil, fmt.Errorf("config: SUBSCRIPTION_SEND_HOUR: %w", err)
	}
	subMinute, err := getenvInt("SUBSCRIPTION_SEND_MINUTE", 0)
	if err != nil {
		return nil, fmt.Errorf("config: SUBSCRIPTION_SEND_MINUTE: %w", err)
	}
	bcHour, err := getenvInt("DAILY_BROADCAST_HOUR", 20)
	if err != nil {
		return nil, fmt.Errorf("config: DAILY_BROADCAST_HOUR: %w", err)
	}
	bcMinute, err := getenvInt("DAILY_BROADCAST_MINUTE", 0)
	if err != nil {
		return nil, fmt.Errorf("config: DAILY_BROADCAST_MINUTE: %w", err)
	}
	bcChannel, err := getenvInt("DAILY_BROADCAST_CHANNEL", 0)
	if err != nil {
		return nil, fmt.Errorf("config: DAILY_BROADCAST_CHANNEL: %w", err)
	}

	cfg.Mesh = Mesh{
		ConnectionURL:      os.Getenv("MESHTASTIC_CONNECTION_URL"),
		CommandsEnabled:    getenvBool("MESHTASTIC_COMMANDS_ENABLED", false),
		StatsChannelID:     statsChannel,
		DecryptionKeys:     keys,
		IncludeDefaultKey:  getenvBool("MESHTASTIC_INCLUDE_DEFAULT_KEY", true),
		SubscriptionHour:   subHour,
		SubscriptionMinute: subMinute,
		BroadcastEnabled:   getenvBool("DAILY_BROADCAST_ENABLED", false),
		BroadcastHour:      bcHour,
		BroadcastMinute:    bcMinute,
		BroadcastChannel:   bcChannel,
	}

	windowSec, err := getenvInt("GROUPING_WINDOW_SECONDS", 10)
	if err != nil {
		return nil, fmt.Errorf("config: GROUPING_WINDOW_SECONDS: %w", err)
	}
	lateHours, err := getenvInt("LATE_RETENTION_HOURS", 24)
	if err != nil {
		return nil, fmt.Errorf("config: LATE_RETENTION_HOURS: %w", err)
	}
	cfg.Grouping = Grouping{
		WindowSeconds:      windowSec,
		QuiescenceSeconds:  2,
		LateRetentionHours: lateHours,
	}

	var peers []string
	if raw := os.Getenv("ARCHIVE_PEERS"); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				peers = append(peers, p)
			}
		}
	}
	archiveRetentionDays, err := getenvInt("ARCHIVE_RETENTION_DAYS", 35)
	if err != nil {
		return nil, fmt.Errorf("config: ARCHIVE_RETENTION_DAYS: %w", err)
	}
	cfg.Archive = Archive{
		Dir:           getenvDefault("ARCHIVE_DIR", "./archive"),
		Peers:         peers,
		RetentionDays: archiveRetentionDays,
	}

	if cfg.Mesh.CommandsEnabled && cfg.Mesh.ConnectionURL == "" {
		return nil, fmt.Errorf("config: MESHTASTIC_COMMANDS_ENABLED requires MESHTASTIC_CONNECTION_URL")
	}

	return cfg, nil
}

// Window returns the PacketGrouper grouping window as a Duration.
func (g Grouping) Window() time.Duration {
	return time.Duration(g.WindowSeconds) * time.Second
}

// Quiescence returns the PacketGrouper quiescence interval as a Duration.
func (g Grouping) Quiescence() time.Duration {
	return time.Duration(g.QuiescenceSeconds) * time.Second
}

// LateRetention returns the late-arrival retention bound as a Duration.
func (g Grouping) LateRetention() time.Duration {
	return time.Duration(g.LateRetentionHours) * time.Hour
}

// Retention returns how long a packet stays queryable before the
// expiry sweep archives it, as a Duration. This is deliberately a
// separate knob from Grouping.LateRetention: the 7d/30d rolling
// windows in StatsEngine need packets to stick around far longer than
// the few hours a late gateway relay might still trickle in.
func (a Archive) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", v, err)
	}
	return n, nil
}
