package commandbot

import (
	"testing"
	"time"
)

func TestSlidingWindowLimiter_AllowsUpToLimit(t *testing.T) {
	l := newSlidingWindowLimiter(3, time.Minute)
	now := time.Now()
	for i := 0; i < 3; i++ {
		ok, _ := l.allow(1, now)
		if !ok {
			t.Fatalf("attempt %d: expected allowed", i)
		}
	}
	ok, warn := l.allow(1, now)
	if ok {
		t.Fatalf("4th attempt within window should be blocked")
	}
	if !warn {
		t.Errorf("first block should warn")
	}
}

func TestSlidingWindowLimiter_WarnsOncePerWindow(t *testing.T) {
	l := newSlidingWindowLimiter(1, time.Minute)
	now := time.Now()
	l.allow(1, now)
	_, warn1 := l.allow(1, now.Add(time.Second))
	_, warn2 := l.allow(1, now.Add(2*time.Second))
	if !warn1 {
		t.Errorf("first over-limit attempt should warn")
	}
	if warn2 {
		t.Errorf("second over-limit attempt within the same window should not re-warn")
	}
}

func TestSlidingWindowLimiter_ExpiresOldHits(t *testing.T) {
	l := newSlidingWindowLimiter(1, time.Minute)
	now := time.Now()
	l.allow(1, now)
	ok, _ := l.allow(1, now.Add(61*time.Second))
	if !ok {
		t.Errorf("expected the old hit to have aged out of the trailing window")
	}
}

func TestSlidingWindowLimiter_PerSenderIsolation(t *testing.T) {
	l := newSlidingWindowLimiter(1, time.Minute)
	now := time.Now()
	ok1, _ := l.allow(1, now)
	ok2, _ := l.allow(2, now)
	if !ok1 || !ok2 {
		t.Errorf("different senders must not share a rate budget")
	}
}
