package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/alem-hub/quiz-engine/internal/application/session"
	"github.com/alem-hub/quiz-engine/internal/domain/quiz"
)

// ══════════════════════════════════════════════════════════════════════════════
// RELOAD BANKS JOB
// ══════════════════════════════════════════════════════════════════════════════

// BankLoader loads banks from a directory into a registry.
type BankLoader interface {
	LoadDir(dir string, opts quiz.CSVOptions) ([]session.FileReport, error)
}

// ReloadBanksJob re-reads the banks directory. Replaced banks only affect
// sessions started afterwards; running sessions keep their bank.
type ReloadBanksJob struct {
	loader BankLoader
	dir    string
	opts   quiz.CSVOptions
	logger *slog.Logger

	lastReports atomic.Value // []session.FileReport
}

// NewReloadBanksJob creates the job.
func NewReloadBanksJob(loader BankLoader, dir string, opts quiz.CSVOptions, logger *slog.Logger) *ReloadBanksJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReloadBanksJob{
		loader: loader,
		dir:    dir,
		opts:   opts,
		logger: logger.With("job", "reload_banks"),
	}
}

// Name implements scheduler.Job.
func (j *ReloadBanksJob) Name() string { return "reload_banks" }

// Description implements scheduler.Job.
func (j *ReloadBanksJob) Description() string {
	return "reloads question banks from " + j.dir
}

// Run implements scheduler.Job.
func (j *ReloadBanksJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reports, err := j.loader.LoadDir(j.dir, j.opts)
	j.lastReports.Store(reports)
	if err != nil {
		return fmt.Errorf("reload banks: %w", err)
	}

	loaded, failed := 0, 0
	for _, r := range reports {
		if r.Loaded {
			loaded++
		} else {
			failed++
		}
	}
	j.logger.Debug("banks reloaded", "loaded", loaded, "failed", failed)
	return nil
}

// LastReports returns the file reports of the latest run.
func (j *ReloadBanksJob) LastReports() []session.FileReport {
	r, _ := j.lastReports.Load().([]session.FileReport)
	return r
}
