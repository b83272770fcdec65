package httpapi

import (
	"net/http"
	"time"
)

// handleHealth reports the composite process health: overall status,
// database latency, MQTT connection state, scheduler job next/last run,
// and whether CommandBot's radio session is connected.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	dbErr := s.store.PingContext(r.Context())
	dbLatency := time.Since(start)

	status := "ok"
	if dbErr != nil {
		status = "degraded"
	}

	var mqttConnected bool
	if s.ingest != nil {
		mqttConnected = s.ingest.Connected()
	}
	var botConnected bool
	if s.bot != nil {
		botConnected = s.bot.Connected()
	}
	var jobs any
	if s.sched != nil {
		jobs = s.sched.Status()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":               status,
		"uptime_seconds":       time.Since(s.started).Seconds(),
		"database_latency_ms":  float64(dbLatency.Microseconds()) / 1000,
		"mqtt_connected":       mqttConnected,
		"bot_connected":        botConnected,
		"scheduler_jobs":       jobs,
	})
}
