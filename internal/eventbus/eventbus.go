// Package eventbus fans newly-closed packets out to live HTTP
// subscribers, such as the /ws/live route.
//
// Adapted directly from github.com/gg-glitch-88/meshigo-kore's
// ydin/eventbus.go: channel-based subscribers instead of raw
// *websocket.Conn keep the bus transport-agnostic, and a full
// subscriber buffer is dropped rather than allowed to stall ingestion.
package eventbus

import (
	"sync"

	"github.com/meshcommons/meshwatchd/internal/store"
)

type subscriber struct {
	ch chan store.Packet
}

// Bus fans out closed/reconciled Packet rows to subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// New constructs a ready Bus.
func New() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a new listener. The returned unsubscribe func
// must be called when the listener goes away; it closes the channel.
func (b *Bus) Subscribe() (<-chan store.Packet, func()) {
	s := &subscriber{ch: make(chan store.Packet, 64)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		close(s.ch)
	}
	return s.ch, unsub
}

// Publish sends a Packet to every current subscriber. A subscriber
// whose buffer is full is skipped rather than blocking the publisher
// (the packet grouper's close path) — slow readers fall back to the
// REST history endpoints.
func (b *Bus) Publish(p store.Packet) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- p:
		default:
		}
	}
}

// Len reports the current subscriber count (metrics/tests).
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
