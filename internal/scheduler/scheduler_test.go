package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestScheduler_AddEveryRunsAndRecordsStatus(t *testing.T) {
	s, err := New(zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var runs int32
	if err := s.AddEvery("tick", 20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}); err != nil {
		t.Fatalf("AddEvery: %v", err)
	}

	s.Start()
	defer s.Shutdown() //nolint:errcheck

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&runs) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("job never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}

	statuses := s.Status()
	if len(statuses) != 1 || statuses[0].Name != "tick" {
		t.Fatalf("unexpected status list: %+v", statuses)
	}
	if statuses[0].LastRun.IsZero() {
		t.Errorf("expected LastRun to be recorded")
	}
}

func TestScheduler_JobErrorIsRecordedNotFatal(t *testing.T) {
	s, err := New(zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	failErr := errors.New("boom")
	var ran int32
	if err := s.AddEvery("failing", 20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return failErr
	}); err != nil {
		t.Fatalf("AddEvery: %v", err)
	}

	s.Start()
	defer s.Shutdown() //nolint:errcheck

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&ran) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("job never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Give runGuarded a moment to record the status after the task runs.
	time.Sleep(20 * time.Millisecond)

	statuses := s.Status()
	if len(statuses) != 1 {
		t.Fatalf("unexpected status list: %+v", statuses)
	}
	if statuses[0].LastError == "" {
		t.Errorf("expected a recorded last error")
	}
}
