// Package jobs contains the quiz engine's scheduled jobs.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alem-hub/quiz-engine/internal/application/session"
)

// ══════════════════════════════════════════════════════════════════════════════
// SWEEP SESSIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// Sweeper applies due deadlines to every live session.
type Sweeper interface {
	Tick(ctx context.Context, now time.Time) (session.TickReport, error)
}

// SweepSessionsJob backs up per-session timers: it expires question and idle
// deadlines that a lost or late timer did not, hands finished sessions off
// and prunes old terminal sessions.
type SweepSessionsJob struct {
	sweeper Sweeper
	now     func() time.Time
	logger  *slog.Logger
	config  SweepSessionsConfig

	lastRunStats atomic.Value // SweepStats
}

// SweepSessionsConfig contains configuration for the sweep job.
type SweepSessionsConfig struct {
	// Timeout bounds one sweep including hand-offs.
	Timeout time.Duration
}

// DefaultSweepSessionsConfig returns sensible defaults.
func DefaultSweepSessionsConfig() SweepSessionsConfig {
	return SweepSessionsConfig{Timeout: 30 * time.Second}
}

// SweepStats describes the latest sweep.
type SweepStats struct {
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration"`
	Report    session.TickReport `json:"report"`
	Error     string             `json:"error,omitempty"`
}

// NewSweepSessionsJob creates the job. now must be the same clock the
// session manager uses; nil means time.Now.
func NewSweepSessionsJob(sweeper Sweeper, now func() time.Time, logger *slog.Logger, config SweepSessionsConfig) *SweepSessionsJob {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultSweepSessionsConfig().Timeout
	}
	return &SweepSessionsJob{
		sweeper: sweeper,
		now:     now,
		logger:  logger.With("job", "sweep_sessions"),
		config:  config,
	}
}

// Name implements scheduler.Job.
func (j *SweepSessionsJob) Name() string { return "sweep_sessions" }

// Description implements scheduler.Job.
func (j *SweepSessionsJob) Description() string {
	return "expires due question and idle deadlines, hands off and prunes finished sessions"
}

// Run implements scheduler.Job.
func (j *SweepSessionsJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	started := j.now()
	report, err := j.sweeper.Tick(ctx, started)
	stats := SweepStats{StartedAt: started, Duration: j.now().Sub(started), Report: report}
	if err != nil {
		stats.Error = err.Error()
	}
	j.lastRunStats.Store(stats)

	if report.TimedOut+report.Completed+report.Abandoned+report.Pruned > 0 {
		j.logger.Info("sessions swept",
			"timed_out", report.TimedOut,
			"completed", report.Completed,
			"abandoned", report.Abandoned,
			"pruned", report.Pruned,
		)
	}
	if err != nil {
		return fmt.Errorf("sweep sessions: %w", err)
	}
	return nil
}

// LastRunStats returns the stats of the latest run.
func (j *SweepSessionsJob) LastRunStats() (SweepStats, bool) {
	s, ok := j.lastRunStats.Load().(SweepStats)
	return s, ok
}
