// Package progress содержит долгосрочную статистику студента по викторине:
// последний и лучший результат, серию сданных попыток и историю.
package progress

import (
	"time"

	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

// DefaultPassThreshold - порог сдачи в процентах.
const DefaultPassThreshold = 60.0

// ══════════════════════════════════════════════════════════════════════════════
// KEY
// ══════════════════════════════════════════════════════════════════════════════

// Key identifies one progress record.
type Key struct {
	StudentID shared.StudentID `json:"student_id"`
	QuizID    shared.QuizID    `json:"quiz_id"`
}

// NewKey validates both ids.
func NewKey(studentID, quizID string) (Key, error) {
	sid, err := shared.NewStudentID(studentID)
	if err != nil {
		return Key{}, err
	}
	qid, err := shared.NewQuizID(quizID)
	if err != nil {
		return Key{}, err
	}
	return Key{StudentID: sid, QuizID: qid}, nil
}

// String returns "<quiz>:<student>".
func (k Key) String() string {
	return string(k.QuizID) + ":" + string(k.StudentID)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD
// ══════════════════════════════════════════════════════════════════════════════

// HistoryEntry - одна завершённая попытка.
type HistoryEntry struct {
	// CompletedAt - время завершения.
	CompletedAt time.Time `json:"completed_at"`

	// Percentage - результат попытки.
	Percentage float64 `json:"percentage"`

	// Passed - сдана ли попытка.
	Passed bool `json:"passed"`
}

// Record - накопленный прогресс по (студент, викторина).
type Record struct {
	Key

	// LatestScore - процент последней попытки.
	LatestScore float64 `json:"latest_score"`

	// BestScore - максимальный процент за всё время.
	BestScore float64 `json:"best_score"`

	// Streak - количество подряд сданных попыток.
	Streak int `json:"streak"`

	// BestStreak - лучшая серия.
	BestStreak int `json:"best_streak"`

	// Attempts - количество записанных попыток.
	Attempts int `json:"attempts"`

	// Passes - количество сданных попыток.
	Passes int `json:"passes"`

	// LastCompletedAt - время последней попытки.
	LastCompletedAt time.Time `json:"last_completed_at"`

	// History - попытки в порядке завершения, только добавление.
	History []HistoryEntry `json:"history"`

	// Version растёт на каждое обновление.
	Version int64 `json:"version"`
}

// NewRecord returns an empty record for key.
func NewRecord(key Key) Record {
	return Record{Key: key}
}

// IsEmpty reports whether nothing was recorded yet.
func (r Record) IsEmpty() bool {
	return r.Attempts == 0
}

// Change describes what Apply did to a record.
type Change struct {
	PrevStreak   int
	PrevBest     float64
	NewBestScore bool
	StreakBroken bool
}

// Apply records one completion. A pass (percentage >= threshold) extends the
// streak, anything else resets it to 0. History stays ordered by completion
// time even when completions arrive out of order; latest reflects the newest
// entry.
func (r *Record) Apply(percentage shared.Percentage, threshold float64, at time.Time) (Change, error) {
	if !percentage.IsValid() {
		return Change{}, shared.NewDomainError("progress", "Apply", shared.ErrValueOutOfRange, "percentage outside [0, 100]")
	}

	ch := Change{PrevStreak: r.Streak, PrevBest: r.BestScore}
	pct := percentage.Float64()
	passed := percentage.AtLeast(threshold)

	entry := HistoryEntry{CompletedAt: at, Percentage: pct, Passed: passed}
	i := len(r.History)
	for i > 0 && r.History[i-1].CompletedAt.After(at) {
		i--
	}
	r.History = append(r.History, HistoryEntry{})
	copy(r.History[i+1:], r.History[i:])
	r.History[i] = entry

	r.Attempts++
	if passed {
		r.Passes++
		r.Streak++
	} else {
		ch.StreakBroken = r.Streak > 0
		r.Streak = 0
	}
	if r.Streak > r.BestStreak {
		r.BestStreak = r.Streak
	}
	if r.Attempts == 1 || pct > r.BestScore {
		ch.NewBestScore = true
		r.BestScore = pct
	}

	last := r.History[len(r.History)-1]
	r.LatestScore = last.Percentage
	r.LastCompletedAt = last.CompletedAt
	r.Version++

	return ch, nil
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := r
	out.History = make([]HistoryEntry, len(r.History))
	copy(out.History, r.History)
	return out
}
