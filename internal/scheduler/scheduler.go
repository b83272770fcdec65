// Package scheduler fires meshwatchd's cron-style jobs: daily
// subscriber DMs, a daily channel broadcast, and a periodic rolling-
// window cache warm. It must survive individual job failures and
// never let a job overlap its own previous instance.
//
// Grounded in ClusterCockpit-cc-backend's internal/taskmanager package,
// the retrieval pack's only cron-style scheduler — both wrap
// github.com/go-co-op/gocron/v2 behind a small typed job table with
// last-run/next-run/last-error bookkeeping for a health endpoint.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// JobStatus is the health-endpoint-facing snapshot of one job: when it
// last ran, when it runs next, and its last error if any.
type JobStatus struct {
	Name      string    `json:"name"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler wraps gocron with per-job status tracking.
type Scheduler struct {
	sched gocron.Scheduler
	log   *zap.Logger

	mu     sync.RWMutex
	status map[string]*JobStatus
}

// New constructs a Scheduler. Call Start to begin firing jobs.
func New(log *zap.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("scheduler: new: %w", err)
	}
	return &Scheduler{sched: s, log: log, status: make(map[string]*JobStatus)}, nil
}

// AddDaily registers a job that fires once a day at hour:minute UTC.
// Per-job overlap is prevented by gocron's singleton mode, so a slow
// run is rescheduled rather than stacked alongside itself.
func (s *Scheduler) AddDaily(name string, hour, minute int, fn func(ctx context.Context) error) error {
	return s.add(name, gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(hour), uint(minute), 0))), fn)
}

// AddEvery registers a job that fires on a fixed interval.
func (s *Scheduler) AddEvery(name string, every time.Duration, fn func(ctx context.Context) error) error {
	return s.add(name, gocron.DurationJob(every), fn)
}

func (s *Scheduler) add(name string, def gocron.JobDefinition, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.status[name] = &JobStatus{Name: name}
	s.mu.Unlock()

	_, err := s.sched.NewJob(def,
		gocron.NewTask(func() {
			s.runGuarded(name, fn)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("scheduler: add job %s: %w", name, err)
	}
	return nil
}

// runGuarded executes one job invocation, catching and recording any
// error so the Scheduler itself never stops: a failing job is logged
// and its error recorded, not propagated.
func (s *Scheduler) runGuarded(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	err := fn(ctx)

	s.mu.Lock()
	st := s.status[name]
	st.LastRun = time.Now().UTC()
	if err != nil {
		st.LastError = err.Error()
	} else {
		st.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("scheduler: job failed", zap.String("job", name), zap.Error(err))
	}
}

// Start begins firing jobs; it does not block.
func (s *Scheduler) Start() {
	s.sched.Start()
}

// Shutdown stops the scheduler, waiting for in-flight jobs to finish.
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// Status returns a snapshot of every job's health, with NextRun filled
// in from gocron's live job list.
func (s *Scheduler) Status() []JobStatus {
	next := make(map[string]time.Time)
	for _, j := range s.sched.Jobs() {
		if t, err := j.NextRun(); err == nil {
			next[j.Name()] = t
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobStatus, 0, len(s.status))
	for name, st := range s.status {
		copy := *st
		copy.NextRun = next[name]
		out = append(out, copy)
	}
	return out
}
