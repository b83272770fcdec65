// Package stats implements online aggregation over the packet store:
// daily/hourly/rolling-window statistics, percentiles, and the
// cache-through layer in front of them.
//
// Grounded in ClusterCockpit-cc-backend's metric/statistics packages
// for the cache-key-and-TTL shape, adapted to packet-level gateway
// counts instead of job metrics.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/meshcommons/meshwatchd/internal/store"
)

// Store is the subset of *store.DB StatsEngine needs.
type Store interface {
	PacketsInRange(ctx context.Context, start, end time.Time) ([]store.Packet, error)
	PacketsBySender(ctx context.Context, senderNodeID uint32, n int) ([]store.Packet, error)
	LastPackets(ctx context.Context, n int) ([]store.Packet, error)
	CountNodes(ctx context.Context) (int, error)
	CountActiveNodesSince(ctx context.Context, since time.Time) (int, error)
	CountGateways(ctx context.Context) (int, error)
	CountActiveGatewaysSince(ctx context.Context, since time.Time) (int, error)
	TopSenders(ctx context.Context, start, end time.Time, limit int) ([]store.TopSender, error)
	GatewayCountSample(ctx context.Context, sampleCap int) ([]int, error)
	CacheGet(ctx context.Context, key string) (string, bool, error)
	CacheSet(ctx context.Context, key, value string, ttl time.Duration) error
}

// WindowStats is the `{count, min, avg, max, p50, p90, p95, p99}`
// summary block shared by the day, hourly, and rolling-window aggregates.
type WindowStats struct {
	Count        int        `json:"message_count"`
	AvgGateways  float64    `json:"avg_gateways"`
	MaxGateways  int        `json:"max_gateways"`
	MinGateways  int        `json:"min_gateways"`
	P50          *float64   `json:"p50"`
	P90          *float64   `json:"p90"`
	P95          *float64   `json:"p95"`
	P99          *float64   `json:"p99"`
	StartedAt    *time.Time `json:"start"`
	EndedAt      *time.Time `json:"end"`
}

// Engine computes and caches the network's day, hourly, rolling-window,
// comparison, and network-wide aggregates.
type Engine struct {
	store Store
}

// New constructs an Engine.
func New(st Store) *Engine {
	return &Engine{store: st}
}

// cacheTTLs bound how stale each cached aggregate is allowed to get.
const (
	dayTTL     = 5 * time.Minute
	rollingTTL = 1 * time.Minute
	hourlyTTL  = 1 * time.Minute
	networkTTL = 5 * time.Minute
)

// DayStat computes WindowStats over one UTC calendar day, through the cache.
func (e *Engine) DayStat(ctx context.Context, date time.Time) (*WindowStats, error) {
	day := truncateToDayUTC(date)
	key := fmt.Sprintf("day:%s", day.Format("2006-01-02"))
	return e.cached(ctx, key, dayTTL, func() (*WindowStats, error) {
		return e.windowStats(ctx, day, day.AddDate(0, 0, 1))
	})
}

// HourlyStat computes 24 WindowStats blocks, one per UTC hour of date.
func (e *Engine) HourlyStat(ctx context.Context, date time.Time) ([]WindowStats, error) {
	day := truncateToDayUTC(date)
	key := fmt.Sprintf("hourly:%s", day.Format("2006-01-02"))
	cached, hit, err := e.store.CacheGet(ctx, key)
	if err != nil {
		return nil, err
	}
	if hit {
		var out []WindowStats
		if err := json.Unmarshal([]byte(cached), &out); err == nil {
			return out, nil
		}
	}

	out := make([]WindowStats, 24)
	for h := 0; h < 24; h++ {
		start := day.Add(time.Duration(h) * time.Hour)
		ws, err := e.windowStats(ctx, start, start.Add(time.Hour))
		if err != nil {
			return nil, err
		}
		out[h] = *ws
	}
	if raw, err := json.Marshal(out); err == nil {
		_ = e.store.CacheSet(ctx, key, string(raw), hourlyTTL)
	}
	return out, nil
}

// RollingStats computes the 24h/7d/30d WindowStats blocks.
type RollingStats struct {
	Last24h WindowStats `json:"24h"`
	Last7d  WindowStats `json:"7d"`
	Last30d WindowStats `json:"30d"`
}

func (e *Engine) RollingWindows(ctx context.Context, now time.Time) (*RollingStats, error) {
	key := "rolling"
	cached, hit, err := e.store.CacheGet(ctx, key)
	if err != nil {
		return nil, err
	}
	if hit {
		var out RollingStats
		if err := json.Unmarshal([]byte(cached), &out); err == nil {
			return &out, nil
		}
	}

	d1, err := e.windowStats(ctx, now.Add(-24*time.Hour), now)
	if err != nil {
		return nil, err
	}
	d7, err := e.windowStats(ctx, now.Add(-7*24*time.Hour), now)
	if err != nil {
		return nil, err
	}
	d30, err := e.windowStats(ctx, now.Add(-30*24*time.Hour), now)
	if err != nil {
		return nil, err
	}
	out := &RollingStats{Last24h: *d1, Last7d: *d7, Last30d: *d30}
	if raw, err := json.Marshal(out); err == nil {
		_ = e.store.CacheSet(ctx, key, string(raw), rollingTTL)
	}
	return out, nil
}

// Comparisons computes today vs yesterday / same-day-last-week /
// same-day-last-month percentage deltas.
type Comparisons struct {
	Today           WindowStats `json:"today"`
	VsYesterday     float64     `json:"vs_yesterday_pct"`
	VsSameDayLastWeek  float64  `json:"vs_same_day_last_week_pct"`
	VsSameDayLastMonth float64  `json:"vs_same_day_last_month_pct"`
}

func (e *Engine) Comparisons(ctx context.Context, now time.Time) (*Comparisons, error) {
	today, err := e.DayStat(ctx, now)
	if err != nil {
		return nil, err
	}
	yesterday, err := e.DayStat(ctx, now.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}
	lastWeek, err := e.DayStat(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}
	lastMonth, err := e.DayStat(ctx, now.AddDate(0, -1, 0))
	if err != nil {
		return nil, err
	}
	return &Comparisons{
		Today:              *today,
		VsYesterday:        pctDelta(float64(today.Count), float64(yesterday.Count)),
		VsSameDayLastWeek:  pctDelta(float64(today.Count), float64(lastWeek.Count)),
		VsSameDayLastMonth: pctDelta(float64(today.Count), float64(lastMonth.Count)),
	}, nil
}

// pctDelta computes `(current - baseline) / max(baseline, 1) * 100`.
func pctDelta(current, baseline float64) float64 {
	return (current - baseline) / math.Max(baseline, 1) * 100
}

// NetworkStats summarizes total and recently-active node and gateway counts.
type NetworkStats struct {
	TotalNodes      int `json:"total_nodes"`
	TotalGateways   int `json:"total_gateways"`
	ActiveNodes24h  int `json:"active_nodes_24h"`
	ActiveNodes7d   int `json:"active_nodes_7d"`
	ActiveNodes30d  int `json:"active_nodes_30d"`
	ActiveGateways24h int `json:"active_gateways_24h"`
	ActiveGateways7d  int `json:"active_gateways_7d"`
	ActiveGateways30d int `json:"active_gateways_30d"`
}

func (e *Engine) NetworkStats(ctx context.Context, now time.Time) (*NetworkStats, error) {
	key := "network"
	cached, hit, err := e.store.CacheGet(ctx, key)
	if err != nil {
		return nil, err
	}
	if hit {
		var out NetworkStats
		if err := json.Unmarshal([]byte(cached), &out); err == nil {
			return &out, nil
		}
	}

	totalNodes, err := e.store.CountNodes(ctx)
	if err != nil {
		return nil, err
	}
	totalGateways, err := e.store.CountGateways(ctx)
	if err != nil {
		return nil, err
	}
	active24, err := e.store.CountActiveNodesSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	active7, err := e.store.CountActiveNodesSince(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		return nil, err
	}
	active30, err := e.store.CountActiveNodesSince(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		return nil, err
	}
	gw24, err := e.store.CountActiveGatewaysSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	gw7, err := e.store.CountActiveGatewaysSince(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		return nil, err
	}
	gw30, err := e.store.CountActiveGatewaysSince(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		return nil, err
	}

	out := &NetworkStats{
		TotalNodes: totalNodes, TotalGateways: totalGateways,
		ActiveNodes24h: active24, ActiveNodes7d: active7, ActiveNodes30d: active30,
		ActiveGateways24h: gw24, ActiveGateways7d: gw7, ActiveGateways30d: gw30,
	}
	if raw, err := json.Marshal(out); err == nil {
		_ = e.store.CacheSet(ctx, key, string(raw), networkTTL)
	}
	return out, nil
}

// TopSenders returns the top senders within window (ending now).
func (e *Engine) TopSenders(ctx context.Context, now time.Time, window time.Duration, limit int) ([]store.TopSender, error) {
	return e.store.TopSenders(ctx, now.Add(-window), now, limit)
}

// GatewayHistogram buckets a trailing sample of gateway_count values.
func (e *Engine) GatewayHistogram(ctx context.Context, sampleCap int, buckets []int) (map[string]int, error) {
	sample, err := e.store.GatewayCountSample(ctx, sampleCap)
	if err != nil {
		return nil, err
	}
	hist := make(map[string]int, len(buckets))
	for _, v := range sample {
		label := bucketLabel(v, buckets)
		hist[label]++
	}
	return hist, nil
}

func bucketLabel(v int, buckets []int) string {
	for _, b := range buckets {
		if v <= b {
			return fmt.Sprintf("<=%d", b)
		}
	}
	return fmt.Sprintf(">%d", buckets[len(buckets)-1])
}

// GatewayPercentiles computes percentiles over a trailing sample.
func (e *Engine) GatewayPercentiles(ctx context.Context, sampleCap int) (map[string]*float64, error) {
	sample, err := e.store.GatewayCountSample(ctx, sampleCap)
	if err != nil {
		return nil, err
	}
	floats := make([]float64, len(sample))
	for i, v := range sample {
		floats[i] = float64(v)
	}
	sort.Float64s(floats)
	return map[string]*float64{
		"p50": percentile(floats, 0.50),
		"p90": percentile(floats, 0.90),
		"p95": percentile(floats, 0.95),
		"p99": percentile(floats, 0.99),
	}, nil
}

// windowStats is the shared implementation behind DayStat/RollingWindows.
func (e *Engine) windowStats(ctx context.Context, start, end time.Time) (*WindowStats, error) {
	packets, err := e.store.PacketsInRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("stats: window: %w", err)
	}
	return summarize(packets), nil
}

func summarize(packets []store.Packet) *WindowStats {
	ws := &WindowStats{}
	if len(packets) == 0 {
		return ws
	}
	gateways := make([]float64, len(packets))
	sum := 0
	minV, maxV := packets[0].GatewayCount, packets[0].GatewayCount
	var first, last time.Time
	for i, p := range packets {
		gateways[i] = float64(p.GatewayCount)
		sum += p.GatewayCount
		if p.GatewayCount < minV {
			minV = p.GatewayCount
		}
		if p.GatewayCount > maxV {
			maxV = p.GatewayCount
		}
		if first.IsZero() || p.SentAt.Before(first) {
			first = p.SentAt
		}
		if p.SentAt.After(last) {
			last = p.SentAt
		}
	}
	sort.Float64s(gateways)

	ws.Count = len(packets)
	ws.AvgGateways = float64(sum) / float64(len(packets))
	ws.MinGateways = minV
	ws.MaxGateways = maxV
	ws.P50 = percentile(gateways, 0.50)
	ws.P90 = percentile(gateways, 0.90)
	ws.P95 = percentile(gateways, 0.95)
	ws.P99 = percentile(gateways, 0.99)
	ws.StartedAt = &first
	ws.EndedAt = &last
	return ws
}

// percentile computes a linear-interpolated p-quantile:
// for n = 0, nil (null); for n = 1, the single value; otherwise
// sample[floor(r)] + (r - floor(r)) * (sample[ceil(r)] - sample[floor(r)]).
// sample must already be sorted ascending.
func percentile(sorted []float64, p float64) *float64 {
	n := len(sorted)
	if n == 0 {
		return nil
	}
	if n == 1 {
		v := sorted[0]
		return &v
	}
	r := p * float64(n-1)
	lo := int(math.Floor(r))
	hi := int(math.Ceil(r))
	if lo == hi {
		v := sorted[lo]
		return &v
	}
	v := sorted[lo] + (r-float64(lo))*(sorted[hi]-sorted[lo])
	return &v
}

func truncateToDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (e *Engine) cached(ctx context.Context, key string, ttl time.Duration, compute func() (*WindowStats, error)) (*WindowStats, error) {
	if raw, hit, err := e.store.CacheGet(ctx, key); err != nil {
		return nil, err
	} else if hit {
		var ws WindowStats
		if err := json.Unmarshal([]byte(raw), &ws); err == nil {
			return &ws, nil
		}
	}
	ws, err := compute()
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(ws); err == nil {
		_ = e.store.CacheSet(ctx, key, string(raw), ttl)
	}
	return ws, nil
}
