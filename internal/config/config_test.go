package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MQTT.RootTopic != "msh" {
		t.Errorf("RootTopic = %q, want msh", cfg.MQTT.RootTopic)
	}
	if cfg.Database.URL != "sqlite://meshwatchd.db" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Grouping.WindowSeconds != 10 || cfg.Grouping.QuiescenceSeconds != 2 || cfg.Grouping.LateRetentionHours != 24 {
		t.Errorf("unexpected grouping defaults: %+v", cfg.Grouping)
	}
	if cfg.Mesh.StatsChannelID != 0 {
		t.Errorf("StatsChannelID = %d, want 0", cfg.Mesh.StatsChannelID)
	}
}

func TestLoad_InvalidAPIPort(t *testing.T) {
	t.Setenv("API_PORT", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a non-numeric API_PORT")
	}
}

func TestLoad_StatsChannelOutOfRange(t *testing.T) {
	t.Setenv("MESHTASTIC_STATS_CHANNEL_ID", "9")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a stats channel outside [0,7]")
	}
}

func TestLoad_CommandsEnabledRequiresConnectionURL(t *testing.T) {
	t.Setenv("MESHTASTIC_COMMANDS_ENABLED", "true")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error when commands are enabled without a connection URL")
	}
}

func TestLoad_DecryptionKeysSplitAndTrimmed(t *testing.T) {
	t.Setenv("MESHTASTIC_DECRYPTION_KEYS", " keyA , keyB ,,keyC")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"keyA", "keyB", "keyC"}
	if len(cfg.Mesh.DecryptionKeys) != len(want) {
		t.Fatalf("keys = %+v, want %+v", cfg.Mesh.DecryptionKeys, want)
	}
	for i, k := range want {
		if cfg.Mesh.DecryptionKeys[i] != k {
			t.Errorf("key[%d] = %q, want %q", i, cfg.Mesh.DecryptionKeys[i], k)
		}
	}
}

func TestGrouping_DurationHelpers(t *testing.T) {
	g := Grouping{WindowSeconds: 10, QuiescenceSeconds: 2, LateRetentionHours: 24}
	if g.Window().Seconds() != 10 {
		t.Errorf("Window() = %v", g.Window())
	}
	if g.Quiescence().Seconds() != 2 {
		t.Errorf("Quiescence() = %v", g.Quiescence())
	}
	if g.LateRetention().Hours() != 24 {
		t.Errorf("LateRetention() = %v", g.LateRetention())
	}
}
