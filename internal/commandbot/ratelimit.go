package commandbot

import (
	"sync"
	"time"
)

// slidingWindowLimiter enforces a per-sender "N commands per window"
// cap (default 5 commands per 60 seconds). golang.org/x/time/rate
// implements a token bucket, which permits short bursts beyond
// N/period and does not reset on a fixed calendar boundary — the
// wrong semantics for "N commands in any trailing window" (see
// DESIGN.md). The window is short and per-sender cardinality is
// bounded by active mesh nodes, so a timestamp slice per sender is
// cheap to keep exact rather than approximate.
type slidingWindowLimiter struct {
	limit  int
	window time.Duration

	mu   sync.Mutex
	hits map[uint32][]time.Time
	warned map[uint32]time.Time
}

func newSlidingWindowLimiter(limit int, window time.Duration) *slidingWindowLimiter {
	return &slidingWindowLimiter{
		limit:  limit,
		window: window,
		hits:   make(map[uint32][]time.Time),
		warned: make(map[uint32]time.Time),
	}
}

// allow records one attempt for nodeID at now and reports whether it
// falls within the limit. warn reports whether the "please slow down"
// notice should be sent (once per window).
func (l *slidingWindowLimiter) allow(nodeID uint32, now time.Time) (ok bool, warn bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	hits := l.hits[nodeID]
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		lastWarn, warned := l.warned[nodeID]
		shouldWarn := !warned || lastWarn.Before(cutoff)
		if shouldWarn {
			l.warned[nodeID] = now
		}
		l.hits[nodeID] = kept
		return false, shouldWarn
	}

	kept = append(kept, now)
	l.hits[nodeID] = kept
	return true, false
}
