package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshcommons/meshwatchd/internal/store"
)

// fakeStore implements the Store interface stats.Engine needs, entirely
// in memory, so Engine's aggregation and caching logic can be tested
// without a real database.
type fakeStore struct {
	mu      sync.Mutex
	packets []store.Packet
	cache   map[string]cacheEntry

	nodes, gateways                      int
	activeNodesSince, activeGatewaySince map[time.Time]int
}

type cacheEntry struct {
	value   string
	expires time.Time
}

func newFakeStore(packets []store.Packet) *fakeStore {
	return &fakeStore{packets: packets, cache: make(map[string]cacheEntry)}
}

func (f *fakeStore) PacketsInRange(ctx context.Context, start, end time.Time) ([]store.Packet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Packet
	for _, p := range f.packets {
		if !p.SentAt.Before(start) && p.SentAt.Before(end) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) PacketsBySender(ctx context.Context, senderNodeID uint32, n int) ([]store.Packet, error) {
	return nil, nil
}

func (f *fakeStore) LastPackets(ctx context.Context, n int) ([]store.Packet, error) { return nil, nil }

func (f *fakeStore) CountNodes(ctx context.Context) (int, error)    { return f.nodes, nil }
func (f *fakeStore) CountGateways(ctx context.Context) (int, error) { return f.gateways, nil }

func (f *fakeStore) CountActiveNodesSince(ctx context.Context, since time.Time) (int, error) {
	return 1, nil
}

func (f *fakeStore) CountActiveGatewaysSince(ctx context.Context, since time.Time) (int, error) {
	return 1, nil
}

func (f *fakeStore) TopSenders(ctx context.Context, start, end time.Time, limit int) ([]store.TopSender, error) {
	return nil, nil
}

func (f *fakeStore) GatewayCountSample(ctx context.Context, sampleCap int) ([]int, error) {
	out := make([]int, len(f.packets))
	for i, p := range f.packets {
		out[i] = p.GatewayCount
	}
	if len(out) > sampleCap {
		out = out[:sampleCap]
	}
	return out, nil
}

func (f *fakeStore) CacheGet(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.cache[key]
	if !ok || time.Now().After(e.expires) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (f *fakeStore) CacheSet(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[key] = cacheEntry{value: value, expires: time.Now().Add(ttl)}
	return nil
}

func packetAt(t time.Time, gatewayCount int) store.Packet {
	return store.Packet{SentAt: t, GatewayCount: gatewayCount}
}

func TestPercentile_LinearInterpolation(t *testing.T) {
	// [1,1,2,3,5,8,13], p90: r = 0.9*6 = 5.4, sample[5]=8, sample[6]=13,
	// 8 + 0.4*(13-8) = 10.0 under the spec's own linear-interpolation
	// formula (see DESIGN.md for why this differs from the spec's
	// illustrative ≈10.6).
	sorted := []float64{1, 1, 2, 3, 5, 8, 13}
	got := percentile(sorted, 0.90)
	require.NotNil(t, got)
	assert.Equal(t, 10.0, *got)
}

func TestPercentile_EmptyIsNil(t *testing.T) {
	assert.Nil(t, percentile(nil, 0.5))
}

func TestPercentile_SingleValue(t *testing.T) {
	got := percentile([]float64{7}, 0.99)
	require.NotNil(t, got)
	assert.Equal(t, 7.0, *got)
}

func TestDayStat_Summary(t *testing.T) {
	day := time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC)
	packets := []store.Packet{
		packetAt(day.Add(1*time.Hour), 1),
		packetAt(day.Add(2*time.Hour), 1),
		packetAt(day.Add(3*time.Hour), 2),
		packetAt(day.Add(4*time.Hour), 3),
		packetAt(day.Add(5*time.Hour), 5),
		packetAt(day.Add(6*time.Hour), 8),
		packetAt(day.Add(7*time.Hour), 13),
	}
	st := newFakeStore(packets)
	e := New(st)

	ws, err := e.DayStat(context.Background(), day.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 7, ws.Count)
	assert.Equal(t, 1, ws.MinGateways)
	assert.Equal(t, 13, ws.MaxGateways)
	require.NotNil(t, ws.P90)
	assert.Equal(t, 10.0, *ws.P90)
}

func TestDayStat_CachesSecondCall(t *testing.T) {
	day := time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC)
	st := newFakeStore([]store.Packet{packetAt(day.Add(time.Hour), 4)})
	e := New(st)

	_, err := e.DayStat(context.Background(), day)
	require.NoError(t, err)
	// Mutate the backing packets directly; a second call hitting the
	// cache must not observe the change.
	st.packets = append(st.packets, packetAt(day.Add(2*time.Hour), 99))

	ws, err := e.DayStat(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 1, ws.Count, "expected cached count of 1 (cache was bypassed)")
}

func TestPctDelta(t *testing.T) {
	assert.Equal(t, 50.0, pctDelta(150, 100))
	// baseline of 0 floors to 1 so the ratio never divides by zero.
	assert.Equal(t, 500.0, pctDelta(5, 0))
}

func TestComparisons_UsesFourDayWindows(t *testing.T) {
	now := time.Date(2026, 7, 20, 15, 0, 0, 0, time.UTC)
	packets := []store.Packet{
		packetAt(now, 2),
		packetAt(now.AddDate(0, 0, -1), 2),
		packetAt(now.AddDate(0, 0, -1), 2),
	}
	st := newFakeStore(packets)
	e := New(st)

	cmp, err := e.Comparisons(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, cmp.Today.Count)
	assert.Equal(t, -50.0, cmp.VsYesterday, "1 vs 2")
}

func TestGatewayPercentiles(t *testing.T) {
	packets := []store.Packet{
		packetAt(time.Now(), 1),
		packetAt(time.Now(), 2),
		packetAt(time.Now(), 3),
	}
	st := newFakeStore(packets)
	e := New(st)

	pcts, err := e.GatewayPercentiles(context.Background(), 100)
	require.NoError(t, err)
	require.NotNil(t, pcts["p50"])
	assert.Equal(t, 2.0, *pcts["p50"])
}
