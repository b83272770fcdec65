package eventbus

import (
	"testing"
	"time"

	"github.com/meshcommons/meshwatchd/internal/store"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe()
	defer unsub()

	want := store.Packet{PacketID: 42}
	b.Publish(want)

	select {
	case got := <-ch:
		if got.PacketID != want.PacketID {
			t.Errorf("got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published packet")
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe()
	unsub()

	b.Publish(store.Packet{PacketID: 1})

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected the channel to be closed after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("expected the channel to close promptly after unsubscribe")
	}
}

func TestBus_FullSubscriberBufferDoesNotBlockPublish(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(store.Packet{PacketID: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}
}

func TestBus_Len(t *testing.T) {
	b := New()
	if b.Len() != 0 {
		t.Fatalf("expected 0 subscribers initially, got %d", b.Len())
	}
	_, unsub := b.Subscribe()
	if b.Len() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.Len())
	}
	unsub()
	if b.Len() != 0 {
		t.Fatalf("expected 0 subscribers after unsub, got %d", b.Len())
	}
}
