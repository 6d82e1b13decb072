package eventhandler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

type payloadEvent struct {
	typ     shared.EventType
	id      string
	payload map[string]any
}

func (e payloadEvent) EventType() shared.EventType { return e.typ }
func (e payloadEvent) OccurredAt() time.Time       { return time.Time{} }
func (e payloadEvent) AggregateID() string         { return e.id }
func (e payloadEvent) Payload() map[string]any     { return e.payload }

func finished(typ shared.EventType, quizID string, pct float64) shared.SessionFinishedEvent {
	return shared.SessionFinishedEvent{
		BaseEvent:  shared.NewBaseEvent(typ, "sess", time.Now()),
		StudentID:  "s1",
		QuizID:     quizID,
		Percentage: pct,
	}
}

func TestQuizActivityHandler_Counts(t *testing.T) {
	h := NewQuizActivityHandler(nil)
	now := time.Now()

	events := []shared.Event{
		shared.NewSessionStartedEvent("sess", "s1", "algebra", 1, 3, now),
		shared.NewAnswerRecordedEvent("sess", "s1", shared.AnswerFeedback{QuizID: "algebra", QuestionID: "q1"}, now),
		shared.NewAnswerRecordedEvent("sess", "s1", shared.AnswerFeedback{QuizID: "algebra", QuestionID: "q2", TimedOut: true}, now),
		finished(shared.EventSessionCompleted, "algebra", 50),
		finished(shared.EventSessionCompleted, "algebra", 100),
		finished(shared.EventSessionAbandoned, "history", 0),
		shared.HandoffFailedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventSessionHandoffErr, "sess", now),
			QuizID:    "history",
			Stage:     "archive",
		},
		payloadEvent{typ: shared.EventStreakBroken, payload: map[string]any{}},
	}
	for _, ev := range events {
		require.NoError(t, h.Handle(ev))
	}

	snap := h.Snapshot()
	assert.Equal(t, len(events), snap.Events)
	assert.Equal(t, 1, snap.Unattributed)

	alg := snap.Quizzes["algebra"]
	assert.Equal(t, 1, alg.Started)
	assert.Equal(t, 1, alg.Answers)
	assert.Equal(t, 1, alg.Timeouts)
	assert.Equal(t, 2, alg.Completed)
	assert.InDelta(t, 75.0, alg.AverageScore, 1e-9)

	hist := snap.Quizzes["history"]
	assert.Equal(t, 1, hist.Abandoned)
	assert.Equal(t, 1, hist.HandoffsFailed)

	assert.Equal(t, []string{"algebra", "history"}, h.QuizIDs())
}

func TestQuizActivityHandler_RelayPayloads(t *testing.T) {
	h := NewQuizActivityHandler(nil)

	// JSON-decoded payloads carry numbers as float64.
	require.NoError(t, h.Handle(payloadEvent{
		typ:     shared.EventSessionCompleted,
		payload: map[string]any{"quiz_id": "algebra", "percentage": float64(40)},
	}))
	require.NoError(t, h.Handle(payloadEvent{
		typ:     shared.EventStreakBroken,
		payload: map[string]any{"quiz_id": "algebra", "prev_streak": float64(3)},
	}))

	c := h.Snapshot().Quizzes["algebra"]
	assert.Equal(t, 1, c.Completed)
	assert.Equal(t, 1, c.StreaksBroken)
	assert.InDelta(t, 40.0, c.AverageScore, 1e-9)
}

func TestQuizActivityHandler_SnapshotIsCopy(t *testing.T) {
	h := NewQuizActivityHandler(nil)
	require.NoError(t, h.Handle(shared.NewSessionStartedEvent("sess", "s1", "algebra", 1, 3, time.Now())))

	snap := h.Snapshot()
	require.NoError(t, h.Handle(shared.NewSessionStartedEvent("sess2", "s2", "algebra", 1, 3, time.Now())))
	assert.Equal(t, 1, snap.Quizzes["algebra"].Started)
	assert.Equal(t, 2, h.Snapshot().Quizzes["algebra"].Started)
}
