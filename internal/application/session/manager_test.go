package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/quiz-engine/internal/domain/quiz"
	"github.com/alem-hub/quiz-engine/internal/domain/shared"
	"github.com/alem-hub/quiz-engine/pkg/logger"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.QuestionTimeout = 30 * time.Second
	cfg.IdleTimeout = 0
	return cfg
}

func TestManager_StartPresentsFirstQuestion(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	ctx := context.Background()

	st, err := h.m.StartByID(ctx, " student-1 ", "algebra", StartOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, st.SessionID)
	assert.Equal(t, 1, st.Attempt)
	assert.Equal(t, "q1", st.Question.QuestionID)
	assert.Equal(t, 1, st.Question.Position)
	assert.Equal(t, 3, st.Question.Total)
	assert.Equal(t, epoch.Add(30*time.Second), st.Question.Deadline)
	assert.Len(t, st.Question.Options, 3)
	assert.Equal(t, 1, h.m.ActiveCount())
	assert.Equal(t, 1, h.events.count(shared.EventSessionStarted))
}

func TestManager_StartValidation(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	ctx := context.Background()

	_, err := h.m.StartByID(ctx, "   ", "algebra", StartOptions{})
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = h.m.StartByID(ctx, "s1", "geometry", StartOptions{})
	assert.ErrorIs(t, err, shared.ErrBankNotFound)

	_, err = h.m.Start(ctx, "s1", nil, StartOptions{})
	assert.ErrorIs(t, err, shared.ErrBankNotFound)
}

func TestManager_FullRunGradesAndHandsOff(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	ctx := context.Background()

	st, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	require.NoError(t, err)

	res, err := h.m.SubmitAnswer(ctx, st.SessionID, "q1", " a ")
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.Equal(t, "A", res.Given)
	assert.Equal(t, "because q1", res.Explanation)
	require.NotNil(t, res.Next)
	assert.Equal(t, "q2", res.Next.QuestionID)
	assert.False(t, res.Completed)

	h.clock.Advance(10 * time.Second)
	res, err = h.m.SubmitAnswer(ctx, st.SessionID, "q2", "C")
	require.NoError(t, err)
	assert.False(t, res.Correct)
	assert.Equal(t, "B", res.CorrectLabel)

	res, err = h.m.SubmitAnswer(ctx, st.SessionID, "q3", "a")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Nil(t, res.Next)
	require.NotNil(t, res.Score)
	assert.Equal(t, 1, res.Score.Raw)
	assert.Equal(t, 6, res.Score.Max)
	assert.InDelta(t, 16.67, res.Score.Percentage.Rounded(), 0.001)
	assert.NoError(t, res.HandoffErr)
	require.NotNil(t, res.Progress)
	assert.Equal(t, 0, res.Progress.Streak)

	saved := h.archive.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, quiz.StateCompleted, saved[0].State)
	assert.Equal(t, map[string]string{"q1": "A", "q2": "C", "q3": "A"}, saved[0].Slots)

	calls := h.recorder.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, st.SessionID, calls[0].sessionID)
	assert.Equal(t, "s1", calls[0].studentID)
	assert.Equal(t, "algebra", calls[0].quizID)
	assert.Equal(t, epoch.Add(10*time.Second), calls[0].at)

	assert.Equal(t, 0, h.m.ActiveCount())
	assert.Equal(t, 3, h.events.count(shared.EventAnswerRecorded))
	assert.Equal(t, 1, h.events.count(shared.EventSessionCompleted))
	done := h.events.ofType(shared.EventSessionCompleted)
	require.Len(t, done, 1)
	assert.Equal(t, st.SessionID, done[0].(shared.SessionFinishedEvent).CorrelationID)
	assert.Equal(t, st.SessionID, done[0].Payload()["correlation_id"])

	_, err = h.m.SubmitAnswer(ctx, st.SessionID, "q3", "C")
	assert.ErrorIs(t, err, shared.ErrSessionFinished)
	_, err = h.m.CurrentQuestion(ctx, st.SessionID)
	assert.ErrorIs(t, err, shared.ErrSessionFinished)
}

func TestManager_SubmitRejections(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	ctx := context.Background()

	st, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	require.NoError(t, err)

	_, err = h.m.SubmitAnswer(ctx, "missing", "q1", "A")
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)

	_, err = h.m.SubmitAnswer(ctx, st.SessionID, "q9", "A")
	assert.ErrorIs(t, err, shared.ErrUnknownQuestion)

	_, err = h.m.SubmitAnswer(ctx, st.SessionID, "q2", "A")
	assert.ErrorIs(t, err, shared.ErrOutOfOrder)

	_, err = h.m.SubmitAnswer(ctx, st.SessionID, "q1", "  ")
	assert.ErrorIs(t, err, shared.ErrEmptyValue)

	snap, err := h.m.Get(st.SessionID)
	require.NoError(t, err)
	assert.Empty(t, snap.Slots)
	assert.Equal(t, 0, snap.Current)

	_, err = h.m.SubmitAnswer(ctx, st.SessionID, "q1", "B")
	require.NoError(t, err)
	_, err = h.m.SubmitAnswer(ctx, st.SessionID, "q1", "A")
	assert.ErrorIs(t, err, shared.ErrStaleAnswer)

	snap, err = h.m.Get(st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "B", snap.Slots["q1"])
}

func TestManager_QuestionTimeoutAdvances(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	ctx := context.Background()

	st, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	require.NoError(t, err)

	h.clock.Advance(30 * time.Second)

	view, err := h.m.CurrentQuestion(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "q2", view.QuestionID)
	assert.Equal(t, epoch.Add(60*time.Second), view.Deadline)

	_, err = h.m.SubmitAnswer(ctx, st.SessionID, "q1", "A")
	assert.ErrorIs(t, err, shared.ErrStaleAnswer)

	snap, err := h.m.Get(st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, quiz.SlotTimedOut, snap.Slots["q1"])
	assert.Equal(t, 1, h.events.count(shared.EventQuestionTimedOut))
}

func TestManager_TimeoutOnLastQuestionCompletes(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	ctx := context.Background()

	st, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	require.NoError(t, err)

	h.clock.Advance(90 * time.Second)

	snap, err := h.m.Get(st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, quiz.StateCompleted, snap.State)
	require.NotNil(t, snap.Score)
	assert.Equal(t, 0, snap.Score.Raw)
	assert.Equal(t, 3, snap.Score.CountOutcome(quiz.OutcomeTimedOut))
	assert.Len(t, h.recorder.recorded(), 1)
	assert.Len(t, h.archive.saved(), 1)
}

func TestManager_TimeoutWinsTie(t *testing.T) {
	// Timers never fire: the late answer itself discovers the deadline.
	h := newHarness(t, testConfig(), false)
	ctx := context.Background()

	st, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	require.NoError(t, err)

	h.clock.Advance(30 * time.Second)

	_, err = h.m.SubmitAnswer(ctx, st.SessionID, "q1", "A")
	assert.ErrorIs(t, err, shared.ErrStaleAnswer)

	snap, err := h.m.Get(st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, quiz.SlotTimedOut, snap.Slots["q1"])
	assert.Equal(t, 1, snap.Current)
}

func TestManager_ConcurrentSubmitsResolveOnce(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	ctx := context.Background()

	st, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	require.NoError(t, err)

	const n = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		stale   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.m.SubmitAnswer(ctx, st.SessionID, "q1", "A")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, shared.ErrStaleAnswer):
				stale++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, n-1, stale)
	assert.Equal(t, 1, h.events.count(shared.EventAnswerRecorded))
}

func TestManager_IdleAbandonment(t *testing.T) {
	cfg := testConfig()
	cfg.QuestionTimeout = 0
	cfg.IdleTimeout = 5 * time.Minute

	t.Run("not counted by default", func(t *testing.T) {
		h := newHarness(t, cfg, true)
		ctx := context.Background()

		st, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
		require.NoError(t, err)
		_, err = h.m.SubmitAnswer(ctx, st.SessionID, "q1", "A")
		require.NoError(t, err)

		h.clock.Advance(5 * time.Minute)

		snap, err := h.m.Get(st.SessionID)
		require.NoError(t, err)
		assert.Equal(t, quiz.StateAbandoned, snap.State)
		assert.Nil(t, snap.Score)
		assert.Equal(t, "A", snap.Slots["q1"])
		assert.Empty(t, h.recorder.recorded())
		assert.Len(t, h.archive.saved(), 1)
		assert.Equal(t, 1, h.events.count(shared.EventSessionAbandoned))
		assert.Equal(t, 0, h.m.ActiveCount())
	})

	t.Run("counted with partial score", func(t *testing.T) {
		cfg := cfg
		cfg.CountAbandoned = true
		h := newHarness(t, cfg, true)
		ctx := context.Background()

		st, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
		require.NoError(t, err)
		_, err = h.m.SubmitAnswer(ctx, st.SessionID, "q1", "A")
		require.NoError(t, err)

		h.clock.Advance(5 * time.Minute)

		calls := h.recorder.recorded()
		require.Len(t, calls, 1)
		assert.Equal(t, 1, calls[0].score.Raw)
		assert.Equal(t, 6, calls[0].score.Max)
		assert.Equal(t, 2, calls[0].score.CountOutcome(quiz.OutcomeUnanswered))
		assert.Equal(t, epoch.Add(5*time.Minute), calls[0].at)
	})
}

func TestManager_ExplicitAbandon(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	ctx := context.Background()

	st, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	require.NoError(t, err)

	require.NoError(t, h.m.Abandon(ctx, st.SessionID))
	assert.ErrorIs(t, h.m.Abandon(ctx, st.SessionID), shared.ErrSessionFinished)

	_, err = h.m.SubmitAnswer(ctx, st.SessionID, "q1", "A")
	assert.ErrorIs(t, err, shared.ErrSessionFinished)
}

func TestManager_SingleActiveAttempt(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	ctx := context.Background()

	first, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	require.NoError(t, err)

	_, err = h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	assert.ErrorIs(t, err, shared.ErrSessionAlreadyActive)

	_, err = h.m.StartByID(ctx, "s2", "algebra", StartOptions{})
	assert.NoError(t, err)

	require.NoError(t, h.m.Abandon(ctx, first.SessionID))
	second, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Attempt)
}

func TestManager_MaxAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 3

	h := newHarness(t, cfg, true)
	h.m.counter = fixedCounter(2)
	ctx := context.Background()

	st, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, st.Attempt)
	require.NoError(t, h.m.Abandon(ctx, st.SessionID))

	_, err = h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	assert.ErrorIs(t, err, shared.ErrMaxAttemptsReached)
}

func TestManager_SeededOrderIsReproducible(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	ctx := context.Background()

	a, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{Randomize: true, Seed: 42})
	require.NoError(t, err)
	b, err := h.m.StartByID(ctx, "s2", "algebra", StartOptions{Randomize: true, Seed: 42})
	require.NoError(t, err)

	sa, err := h.m.Get(a.SessionID)
	require.NoError(t, err)
	sb, err := h.m.Get(b.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sa.Order, sb.Order)
	assert.ElementsMatch(t, []string{"q1", "q2", "q3"}, sa.Order)
}

func TestManager_TickMatchesTimers(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 0

	timed := newHarness(t, cfg, true)
	swept := newHarness(t, cfg, false)
	ctx := context.Background()

	a, err := timed.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	require.NoError(t, err)
	b, err := swept.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	require.NoError(t, err)

	_, err = timed.m.SubmitAnswer(ctx, a.SessionID, "q1", "A")
	require.NoError(t, err)
	_, err = swept.m.SubmitAnswer(ctx, b.SessionID, "q1", "A")
	require.NoError(t, err)

	timed.clock.Advance(75 * time.Second)
	swept.clock.Advance(75 * time.Second)

	report, err := swept.m.Tick(ctx, swept.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, report.TimedOut)
	assert.Equal(t, 1, report.Completed)

	sa, err := timed.m.Get(a.SessionID)
	require.NoError(t, err)
	sb, err := swept.m.Get(b.SessionID)
	require.NoError(t, err)

	assert.Equal(t, sa.State, sb.State)
	assert.Equal(t, sa.Slots, sb.Slots)
	assert.Equal(t, sa.EndedAt, sb.EndedAt)
	assert.Equal(t, epoch.Add(60*time.Second), *sb.EndedAt)
	assert.Equal(t, timed.recorder.recorded()[0].score, swept.recorder.recorded()[0].score)
}

func TestManager_TickPrunesAfterRetention(t *testing.T) {
	cfg := testConfig()
	cfg.FinishedRetention = time.Minute
	h := newHarness(t, cfg, true)
	ctx := context.Background()

	st, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	require.NoError(t, err)
	require.NoError(t, h.m.Abandon(ctx, st.SessionID))

	report, err := h.m.Tick(ctx, h.clock.Now().Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Pruned)

	report, err = h.m.Tick(ctx, h.clock.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pruned)

	_, err = h.m.Get(st.SessionID)
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)
}

func TestManager_HandoffFailureIsReported(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	h.archive.err = shared.NewDomainError("archive", "Save", shared.ErrInvalidInput, "rejected snapshot")
	ctx := context.Background()

	st, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	require.NoError(t, err)
	for _, qid := range []string{"q1", "q2"} {
		_, err = h.m.SubmitAnswer(ctx, st.SessionID, qid, "A")
		require.NoError(t, err)
	}

	res, err := h.m.SubmitAnswer(ctx, st.SessionID, "q3", "C")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.ErrorIs(t, res.HandoffErr, shared.ErrServiceUnavailable)
	assert.Equal(t, 1, h.events.count(shared.EventSessionHandoffErr))

	// Progress is still recorded when archiving fails.
	assert.Len(t, h.recorder.recorded(), 1)
	assert.NotNil(t, res.Progress)
}

func TestManager_ShutdownStopsTimers(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	ctx := context.Background()

	st, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	require.NoError(t, err)

	h.m.Shutdown()
	h.clock.Advance(time.Minute)

	snap, err := h.m.Get(st.SessionID)
	require.NoError(t, err)
	assert.Empty(t, snap.Slots)

	// Lazy checks still honour the deadline.
	view, err := h.m.CurrentQuestion(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "q3", view.QuestionID)
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{}, Dependencies{Logger: logger.Nop()})
	assert.NotNil(t, m.clock)
	assert.NotNil(t, m.events)
	assert.Equal(t, 8, m.cfg.HandoffConcurrency)
	assert.Equal(t, quiz.DefaultWeights(), m.cfg.Weights)
}

func TestManager_SubmitKeepsBankLabelCase(t *testing.T) {
	h := newHarness(t, testConfig(), true)
	ctx := context.Background()

	q, err := quiz.NewQuestion(quiz.QuestionSpec{
		ID:      "q1",
		Text:    "2+2?",
		Options: []quiz.Option{{Label: "a", Text: "4"}, {Label: "b", Text: "5"}},
		Correct: "a",
	})
	require.NoError(t, err)
	bank, err := quiz.NewBank("lower", []*quiz.Question{q})
	require.NoError(t, err)

	st, err := h.m.Start(ctx, "s1", bank, StartOptions{})
	require.NoError(t, err)

	res, err := h.m.SubmitAnswer(ctx, st.SessionID, "q1", " a ")
	require.NoError(t, err)
	assert.Equal(t, "a", res.Given)
	assert.Equal(t, "a", res.CorrectLabel)
	assert.True(t, res.Correct)
	require.NotNil(t, res.Score)
	assert.InDelta(t, 100, res.Score.Percentage.Rounded(), 0.001)
}

func TestManager_AttemptTimeLimitEndsAttempt(t *testing.T) {
	cfg := testConfig()
	cfg.AttemptTimeLimit = 45 * time.Second
	h := newHarness(t, cfg, true)
	ctx := context.Background()

	st, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(45*time.Second), st.Question.AttemptDeadline)

	h.clock.Advance(10 * time.Second)
	_, err = h.m.SubmitAnswer(ctx, st.SessionID, "q1", "A")
	require.NoError(t, err)

	// q2 times out at +40s, the attempt limit closes q3 at +45s.
	h.clock.Advance(35 * time.Second)

	_, err = h.m.SubmitAnswer(ctx, st.SessionID, "q3", "C")
	assert.ErrorIs(t, err, shared.ErrSessionFinished)

	saved := h.archive.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, quiz.StateCompleted, saved[0].State)
	assert.Equal(t, quiz.SlotTimedOut, saved[0].Slots["q2"])
	assert.Equal(t, quiz.SlotTimedOut, saved[0].Slots["q3"])

	calls := h.recorder.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, epoch.Add(45*time.Second), calls[0].at)
	assert.Equal(t, 1, calls[0].score.Raw)
	assert.Equal(t, 6, calls[0].score.Max)
	assert.Equal(t, 3, h.events.count(shared.EventAnswerRecorded))
}

func TestManager_AttemptTimeLimitHonouredBySweep(t *testing.T) {
	cfg := testConfig()
	cfg.QuestionTimeout = 0
	cfg.AttemptTimeLimit = time.Minute
	h := newHarness(t, cfg, false)
	ctx := context.Background()

	st, err := h.m.StartByID(ctx, "s1", "algebra", StartOptions{})
	require.NoError(t, err)

	report, err := h.m.Tick(ctx, epoch.Add(59*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Completed)

	report, err = h.m.Tick(ctx, epoch.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 3, report.TimedOut)

	snap, err := h.m.Get(st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, quiz.StateCompleted, snap.State)
	require.NotNil(t, snap.EndedAt)
	assert.Equal(t, epoch.Add(time.Minute), *snap.EndedAt)
}
