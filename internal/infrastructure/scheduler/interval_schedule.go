package scheduler

import (
	"context"
	"fmt"
	"time"
)

// IntervalSchedule runs a job at a fixed interval. Next is aligned to the
// interval boundary when Align is set, so that several instances sweep at
// the same wall-clock instants.
type IntervalSchedule struct {
	Interval time.Duration
	Align    bool
}

// Every creates an IntervalSchedule. Non-positive intervals are clamped to
// one second.
func Every(interval time.Duration) *IntervalSchedule {
	if interval <= 0 {
		interval = time.Second
	}
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time after t.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	if s.Align {
		return t.Truncate(s.Interval).Add(s.Interval)
	}
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval)
}

// FuncJob adapts a function to Job.
type FuncJob struct {
	JobName string
	Desc    string
	Fn      func(ctx context.Context) error
}

// Name implements Job.
func (j FuncJob) Name() string { return j.JobName }

// Description implements Job.
func (j FuncJob) Description() string { return j.Desc }

// Run implements Job.
func (j FuncJob) Run(ctx context.Context) error { return j.Fn(ctx) }
