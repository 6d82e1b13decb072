package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

func testKey(t *testing.T) Key {
	t.Helper()
	k, err := NewKey("student-1", "algebra")
	require.NoError(t, err)
	return k
}

func TestRecord_StreakRule(t *testing.T) {
	rec := NewRecord(testKey(t))
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	var streaks []int
	for i, pct := range []float64{80, 40, 90} {
		_, err := rec.Apply(shared.Percentage(pct), DefaultPassThreshold, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		streaks = append(streaks, rec.Streak)
	}

	assert.Equal(t, []int{1, 0, 1}, streaks)
	assert.Equal(t, 90.0, rec.BestScore)
	assert.Equal(t, 90.0, rec.LatestScore)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, 2, rec.Passes)
	assert.Equal(t, 1, rec.BestStreak)
	assert.Equal(t, int64(3), rec.Version)
	assert.Len(t, rec.History, 3)
}

func TestRecord_ThresholdIsInclusive(t *testing.T) {
	rec := NewRecord(testKey(t))
	_, err := rec.Apply(60, 60, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Streak)
	assert.True(t, rec.History[0].Passed)
}

func TestRecord_ChangeFlags(t *testing.T) {
	rec := NewRecord(testKey(t))
	now := time.Now()

	ch, _ := rec.Apply(70, 60, now)
	assert.True(t, ch.NewBestScore)
	assert.False(t, ch.StreakBroken)

	ch, _ = rec.Apply(65, 60, now.Add(time.Minute))
	assert.False(t, ch.NewBestScore)
	assert.Equal(t, 1, ch.PrevStreak)

	ch, _ = rec.Apply(10, 60, now.Add(2*time.Minute))
	assert.True(t, ch.StreakBroken)
	assert.Equal(t, 2, ch.PrevStreak)
	assert.Equal(t, 2, rec.BestStreak)
}

func TestRecord_HistoryOrderedByCompletion(t *testing.T) {
	rec := NewRecord(testKey(t))
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	_, _ = rec.Apply(50, 60, t0.Add(2*time.Hour))
	_, _ = rec.Apply(70, 60, t0)

	require.Len(t, rec.History, 2)
	assert.True(t, rec.History[0].CompletedAt.Before(rec.History[1].CompletedAt))
	assert.Equal(t, 50.0, rec.LatestScore, "latest follows the newest completion")
	assert.Equal(t, 70.0, rec.BestScore)
}

func TestRecord_RejectsInvalidPercentage(t *testing.T) {
	rec := NewRecord(testKey(t))
	_, err := rec.Apply(120, 60, time.Now())
	assert.True(t, errors.Is(err, shared.ErrValueOutOfRange))
	assert.True(t, rec.IsEmpty())
}

func TestRecord_CloneIsDeep(t *testing.T) {
	rec := NewRecord(testKey(t))
	_, _ = rec.Apply(70, 60, time.Now())
	c := rec.Clone()
	c.History[0].Percentage = 1
	assert.Equal(t, 70.0, rec.History[0].Percentage)
}

func TestNewKey_Validates(t *testing.T) {
	_, err := NewKey("  ", "quiz")
	assert.True(t, errors.Is(err, shared.ErrInvalidID))
	k, err := NewKey(" s ", "q")
	require.NoError(t, err)
	assert.Equal(t, "q:s", k.String())
}

func TestStats_Trend(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   Trend
	}{
		{"empty", nil, TrendInsufficientData},
		{"two", []float64{10, 90}, TrendInsufficientData},
		{"exactly three", []float64{10, 50, 90}, TrendStable},
		{"improving", []float64{40, 45, 70, 80, 90}, TrendImproving},
		{"declining", []float64{90, 85, 50, 40, 45}, TrendDeclining},
		{"stable", []float64{70, 72, 71, 69, 73}, TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewRecord(testKey(t))
			base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			for i, s := range tt.scores {
				_, err := rec.Apply(shared.Percentage(s), 60, base.Add(time.Duration(i)*time.Minute))
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, rec.Stats().Trend)
		})
	}
}

func TestStats_Aggregates(t *testing.T) {
	rec := NewRecord(testKey(t))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		pct := 50.0
		if i%2 == 0 {
			pct = 100
		}
		_, _ = rec.Apply(shared.Percentage(pct), 60, base.Add(time.Duration(i)*time.Hour))
	}

	st := rec.Stats()
	assert.Equal(t, 12, st.Attempts)
	assert.Equal(t, 6, st.Passes)
	assert.Equal(t, 50.0, st.PassRate)
	assert.Equal(t, 75.0, st.AverageScore)
	assert.Len(t, st.RecentScores, 10)
	assert.Equal(t, 100.0, st.RecentScores[0])
}
