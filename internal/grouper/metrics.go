package grouper

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the PacketGrouper's observability counters, registered
// against the caller's registry so HttpApi's /metrics handler can
// expose them.
type Metrics struct {
	GroupOpen           prometheus.Counter
	GroupClosed         prometheus.Counter
	LateReconciled      prometheus.Counter
	LateBeyondRetention prometheus.Counter
	ReplaySuppressed    prometheus.Counter
	PrivateDropped      prometheus.Counter
	DecryptFailed       prometheus.Counter
	GatewaysPerPacket   prometheus.Histogram
}

// NewMetrics constructs and registers the grouper's counters. A nil
// registerer builds unregistered, freestanding metrics, handy for tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GroupOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshwatchd_group_open_total",
			Help: "Packet groups opened by the grouping engine.",
		}),
		GroupClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshwatchd_group_closed_total",
			Help: "Packet groups closed and persisted.",
		}),
		LateReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshwatchd_late_reconciled_total",
			Help: "Late gateway relays reconciled into an already-closed packet.",
		}),
		LateBeyondRetention: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshwatchd_late_beyond_retention_total",
			Help: "Late relays discarded because they arrived past the retention bound.",
		}),
		ReplaySuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshwatchd_replay_suppressed_total",
			Help: "Envelopes dropped because their fingerprint was already seen.",
		}),
		PrivateDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshwatchd_private_dropped_total",
			Help: "Packets dropped by the Codec privacy gate.",
		}),
		DecryptFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshwatchd_decrypt_failed_total",
			Help: "Envelopes that no key in the ring could decrypt.",
		}),
		GatewaysPerPacket: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshwatchd_gateways_per_packet",
			Help:    "Distribution of gateway_count across closed packet groups.",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 13, 21},
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.GroupOpen, m.GroupClosed, m.LateReconciled, m.LateBeyondRetention,
			m.ReplaySuppressed, m.PrivateDropped, m.DecryptFailed, m.GatewaysPerPacket,
		)
	}
	return m
}
