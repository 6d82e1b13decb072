package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/quiz-engine/internal/application/session"
	"github.com/alem-hub/quiz-engine/internal/domain/quiz"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSweeper struct {
	calls  []time.Time
	report session.TickReport
	err    error
}

func (f *fakeSweeper) Tick(ctx context.Context, now time.Time) (session.TickReport, error) {
	if _, ok := ctx.Deadline(); !ok {
		return session.TickReport{}, errors.New("sweep must run with a deadline")
	}
	f.calls = append(f.calls, now)
	return f.report, f.err
}

func TestSweepSessionsJob_Run(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sw := &fakeSweeper{report: session.TickReport{TimedOut: 2, Completed: 1}}
	job := NewSweepSessionsJob(sw, func() time.Time { return now }, quiet, SweepSessionsConfig{})

	assert.Equal(t, "sweep_sessions", job.Name())
	_, ok := job.LastRunStats()
	assert.False(t, ok)

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, sw.calls, 1)
	assert.Equal(t, now, sw.calls[0])

	stats, ok := job.LastRunStats()
	require.True(t, ok)
	assert.Equal(t, 2, stats.Report.TimedOut)
	assert.Empty(t, stats.Error)
}

func TestSweepSessionsJob_ReportsHandoffErrors(t *testing.T) {
	cause := errors.New("archive down")
	sw := &fakeSweeper{report: session.TickReport{Completed: 1}, err: cause}
	job := NewSweepSessionsJob(sw, nil, quiet, DefaultSweepSessionsConfig())

	err := job.Run(context.Background())
	assert.ErrorIs(t, err, cause)

	stats, _ := job.LastRunStats()
	assert.Contains(t, stats.Error, "archive down")
}

type fakeLoader struct {
	dir     string
	reports []session.FileReport
	err     error
}

func (f *fakeLoader) LoadDir(dir string, opts quiz.CSVOptions) ([]session.FileReport, error) {
	f.dir = dir
	return f.reports, f.err
}

func TestReloadBanksJob_Run(t *testing.T) {
	l := &fakeLoader{reports: []session.FileReport{
		{BankID: "algebra", Loaded: true, Questions: 3},
		{BankID: "broken", Err: "no valid rows"},
	}}
	job := NewReloadBanksJob(l, "/srv/banks", quiz.CSVOptions{}, quiet)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "/srv/banks", l.dir)
	assert.Len(t, job.LastReports(), 2)

	l.err = errors.New("read banks dir: permission denied")
	assert.Error(t, job.Run(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
}
