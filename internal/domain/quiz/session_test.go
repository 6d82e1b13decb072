package quiz

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

func newStartedSession(t *testing.T) (*Session, time.Time) {
	t.Helper()
	bank := threeQuestionBank(t)
	s, err := NewSession("s1", "student", bank, Order(bank, false, 0), 1, nil)
	require.NoError(t, err)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Begin(now))
	return s, now
}

func TestSession_FullRun(t *testing.T) {
	s, now := newStartedSession(t)

	res, err := s.Submit("q1", "A", now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.Equal(t, 1, res.Position)
	assert.False(t, res.Completed)

	_, err = s.Submit("q2", "C", now.Add(2*time.Second))
	require.NoError(t, err)

	res, err = s.Expire(now.Add(3 * time.Second))
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.True(t, res.Completed)

	assert.Equal(t, StateCompleted, s.State())
	require.NotNil(t, s.Score())
	assert.Equal(t, 1, s.Score().Raw)
	assert.Equal(t, 6, s.Score().Max)

	snap := s.Snapshot()
	assert.Equal(t, []string{"q1", "q2", "q3"}, snap.Order)
	assert.Equal(t, SlotTimedOut, snap.Slots["q3"])
	require.NotNil(t, snap.EndedAt)
	assert.Equal(t, "demo", snap.QuizID)
}

func TestSession_RejectionsLeaveStateUntouched(t *testing.T) {
	s, now := newStartedSession(t)
	_, err := s.Submit("q1", "B", now)
	require.NoError(t, err)
	before := s.Snapshot()

	_, err = s.Submit("q1", "A", now)
	assert.True(t, errors.Is(err, shared.ErrStaleAnswer))

	_, err = s.Submit("q3", "C", now)
	assert.True(t, errors.Is(err, shared.ErrOutOfOrder))

	_, err = s.Submit("nope", "A", now)
	assert.True(t, errors.Is(err, shared.ErrUnknownQuestion))

	assert.Equal(t, before, s.Snapshot())
}

func TestSession_TerminalStatesRejectEverything(t *testing.T) {
	s, now := newStartedSession(t)
	require.NoError(t, s.Abandon(now))
	assert.Equal(t, StateAbandoned, s.State())
	assert.Nil(t, s.Score())

	_, err := s.Current()
	assert.True(t, errors.Is(err, shared.ErrSessionFinished))
	_, err = s.Submit("q1", "A", now)
	assert.True(t, errors.Is(err, shared.ErrSessionFinished))
	_, err = s.Expire(now)
	assert.True(t, errors.Is(err, shared.ErrSessionFinished))
	assert.True(t, errors.Is(s.Abandon(now), shared.ErrSessionFinished))
}

func TestSession_SlotsNeverExceedPresented(t *testing.T) {
	s, now := newStartedSession(t)
	for i := 0; i < 10; i++ {
		_, _ = s.Expire(now)
		assert.LessOrEqual(t, s.Answered(), s.Total())
	}
	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, 0, s.Score().Raw)
}

func TestOrder_SeededPermutationIsDeterministic(t *testing.T) {
	questions := make([]*Question, 0, 20)
	for i := 0; i < 20; i++ {
		questions = append(questions, mustQuestion(t, string(rune('a'+i)), DifficultyEasy, "A"))
	}
	bank, err := NewBank("perm", questions)
	require.NoError(t, err)

	a := Order(bank, true, 42)
	b := Order(bank, true, 42)
	assert.Equal(t, a, b)
	assert.ElementsMatch(t, bank.Questions(), a)
	assert.Equal(t, bank.Questions(), Order(bank, false, 42))
}

func TestNewSession_RejectsForeignOrder(t *testing.T) {
	bank := threeQuestionBank(t)
	other := mustQuestion(t, "zz", DifficultyEasy, "A")
	order := []*Question{bank.At(0), bank.At(1), other}
	_, err := NewSession("s", "st", bank, order, 1, nil)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestQuestion_ResolveLabel(t *testing.T) {
	q, err := NewQuestion(QuestionSpec{
		ID:      "tf",
		Text:    "2+2=4?",
		Options: []Option{{Label: "True", Text: "yes"}, {Label: "False", Text: "no"}},
		Correct: "True",
	})
	require.NoError(t, err)

	assert.Equal(t, "True", q.ResolveLabel("True"))
	assert.Equal(t, "True", q.ResolveLabel("TRUE"))
	assert.Equal(t, "False", q.ResolveLabel("false"))
	assert.Equal(t, "maybe", q.ResolveLabel("maybe"))
}

func TestSession_LowercaseLabelsGradeExactly(t *testing.T) {
	q, err := NewQuestion(QuestionSpec{
		ID:      "q1",
		Text:    "2+2?",
		Options: []Option{{Label: "a", Text: "4"}, {Label: "b", Text: "5"}},
		Correct: "a",
	})
	require.NoError(t, err)
	bank, err := NewBank("lower", []*Question{q})
	require.NoError(t, err)
	s, err := NewSession("s1", "student", bank, Order(bank, false, 0), 1, nil)
	require.NoError(t, err)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Begin(now))

	res, err := s.Submit("q1", "A", now)
	require.NoError(t, err)
	assert.Equal(t, "a", res.Given)
	assert.True(t, res.Correct)
	assert.Equal(t, "a", s.Snapshot().Slots["q1"])
	assert.InDelta(t, 100, s.Score().Percentage.Rounded(), 0.001)
}
