package subscription

import (
	"context"
	"testing"

	"github.com/meshcommons/meshwatchd/internal/stats"
	"github.com/meshcommons/meshwatchd/internal/store"
)

type fakeStore struct {
	subs map[uint32]store.Subscription
}

func newFakeStore() *fakeStore {
	return &fakeStore{subs: make(map[uint32]store.Subscription)}
}

func (f *fakeStore) Subscribe(ctx context.Context, nodeID uint32, variant store.SubscriptionVariant) error {
	f.subs[nodeID] = store.Subscription{UserNodeID: nodeID, Variant: variant, Active: true}
	return nil
}

func (f *fakeStore) Unsubscribe(ctx context.Context, nodeID uint32) error {
	if s, ok := f.subs[nodeID]; ok {
		s.Active = false
		f.subs[nodeID] = s
	}
	return nil
}

func (f *fakeStore) GetSubscription(ctx context.Context, nodeID uint32) (*store.Subscription, error) {
	s, ok := f.subs[nodeID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeStore) ListSubscriptions(ctx context.Context, variant store.SubscriptionVariant) ([]store.Subscription, error) {
	var out []store.Subscription
	for _, s := range f.subs {
		if !s.Active {
			continue
		}
		if variant != "" && s.Variant != variant {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func TestParseVariant(t *testing.T) {
	cases := map[string]store.SubscriptionVariant{
		"low": store.VariantLow, "AVG": store.VariantAvg, " High ": store.VariantHigh,
	}
	for in, want := range cases {
		got, err := ParseVariant(in)
		if err != nil {
			t.Fatalf("ParseVariant(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseVariant(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseVariant_Invalid(t *testing.T) {
	if _, err := ParseVariant("medium"); err == nil {
		t.Fatalf("expected an error for an unrecognized variant")
	}
}

func TestSubscribeTwiceReplacesVariant(t *testing.T) {
	st := newFakeStore()
	svc := New(st)
	ctx := context.Background()

	if err := svc.Subscribe(ctx, 100, store.VariantLow); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := svc.Subscribe(ctx, 100, store.VariantHigh); err != nil {
		t.Fatalf("re-subscribe: %v", err)
	}

	sub, err := svc.Get(ctx, 100)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub == nil || sub.Variant != store.VariantHigh {
		t.Fatalf("expected the second subscribe to replace the variant, got %+v", sub)
	}
	if len(st.subs) != 1 {
		t.Fatalf("expected exactly one row per node, got %d", len(st.subs))
	}
}

func TestUnsubscribeMarksInactive(t *testing.T) {
	st := newFakeStore()
	svc := New(st)
	ctx := context.Background()

	svc.Subscribe(ctx, 1, store.VariantAvg)
	svc.Unsubscribe(ctx, 1)

	list, err := svc.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no active subscriptions, got %+v", list)
	}
}

func TestFormat_LowVariant(t *testing.T) {
	day := &stats.WindowStats{Count: 10, MinGateways: 2}
	got := Format(store.VariantLow, day)
	want := "Mesh summary: 10 messages today, min 2 gateways/msg."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormat_AvgVariantWithNilP50(t *testing.T) {
	day := &stats.WindowStats{Count: 5, AvgGateways: 2.5}
	got := Format(store.VariantAvg, day)
	want := "Mesh summary: 5 messages today, avg 2.5 gateways/msg (p50 n/a)."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormat_HighVariantWithP99(t *testing.T) {
	p99 := 9.5
	day := &stats.WindowStats{Count: 3, AvgGateways: 4, MaxGateways: 12, P99: &p99}
	got := Format(store.VariantHigh, day)
	want := "Mesh summary: 3 messages, avg 4.0 gateways/msg, max 12, p99 9.5."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
