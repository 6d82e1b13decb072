package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/quiz-engine/config"
	"github.com/alem-hub/quiz-engine/internal/application/session"
	"github.com/alem-hub/quiz-engine/internal/domain/quiz"
	"github.com/alem-hub/quiz-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/quiz-engine/internal/infrastructure/scheduler"
	"github.com/alem-hub/quiz-engine/pkg/logger"
)

func TestOpenStorage_Memory(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Storage: config.StorageMemory}}

	st, err := openStorage(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer st.Close()

	assert.IsType(t, &memory.ProgressStore{}, st.progress)
	assert.IsType(t, &memory.SessionArchive{}, st.archive)
	assert.NotNil(t, st.attempts)
	assert.Len(t, st.snapshots, 1)
	assert.Nil(t, st.db)
	assert.Nil(t, st.cache)
}

func TestOpenStorage_BackendWithoutConnection(t *testing.T) {
	for _, backend := range []string{config.StoragePostgres, config.StorageRedis} {
		cfg := &config.Config{App: config.AppConfig{Storage: backend}}
		_, err := openStorage(context.Background(), cfg, logger.Nop())
		assert.Error(t, err, backend)
	}
}

func TestSessionConfig(t *testing.T) {
	q := config.QuizConfig{
		QuestionTimeout:    20 * time.Second,
		IdleTimeout:        time.Minute,
		AttemptTimeLimit:   15 * time.Minute,
		MaxAttempts:        3,
		CountAbandoned:     true,
		WeightEasy:         1,
		WeightMedium:       4,
		WeightHard:         9,
		FinishedRetention:  time.Hour,
		HandoffConcurrency: 2,
	}
	sc := sessionConfig(q)
	assert.Equal(t, 20*time.Second, sc.QuestionTimeout)
	assert.Equal(t, 3, sc.MaxAttempts)
	assert.Equal(t, 15*time.Minute, sc.AttemptTimeLimit)
	assert.True(t, sc.CountAbandoned)
	assert.Equal(t, 9, sc.Weights.Weight(quiz.DifficultyHard))
	assert.Equal(t, 2, sc.HandoffConcurrency)

	opts := csvOptions(config.QuizConfig{CSVDelimiter: ";", DetectTrueFalse: true})
	assert.Equal(t, ';', opts.Delimiter)
	assert.True(t, opts.DetectTrueFalse)
}

func TestRegisterJobs(t *testing.T) {
	cfg := &config.Config{
		Quiz:      config.QuizConfig{BanksDir: t.TempDir()},
		Scheduler: config.SchedulerConfig{SweepInterval: time.Second, SweepTimeout: time.Second},
	}
	banks := session.NewRegistry(logger.Nop())
	m := session.NewManager(session.DefaultConfig(), session.Dependencies{Banks: banks, Clock: session.SystemClock{}, Logger: logger.Nop()})

	s := scheduler.New(scheduler.Config{})
	require.NoError(t, registerJobs(s, cfg, m, banks, logger.Nop()))
	assert.Len(t, s.ListJobs(), 1)

	cfg.Scheduler.BankReloadInterval = time.Minute
	s = scheduler.New(scheduler.Config{})
	require.NoError(t, registerJobs(s, cfg, m, banks, logger.Nop()))
	assert.Len(t, s.ListJobs(), 2)
}

func TestHealthChecker_RequiresBanks(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Version: "test"}}
	banks := session.NewRegistry(logger.Nop())

	status := healthChecker(cfg, &storage{}, banks).Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Contains(t, status.Checks, "banks")
}
