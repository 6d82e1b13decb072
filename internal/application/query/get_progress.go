// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/quiz-engine/internal/domain/progress"
	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Прогресс студента по одной викторине: последний и лучший результат, серия,
// агрегаты по истории и тренд.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery содержит параметры запроса.
type GetProgressQuery struct {
	// StudentID - ID студента.
	StudentID string

	// QuizID - ID викторины (банка).
	QuizID string

	// IncludeHistory - вернуть полную историю попыток.
	IncludeHistory bool
}

// Validate проверяет корректность параметров запроса.
func (q GetProgressQuery) Validate() error {
	if q.StudentID == "" {
		return fmt.Errorf("%w: student_id is required", shared.ErrInvalidInput)
	}
	if q.QuizID == "" {
		return fmt.Errorf("%w: quiz_id is required", shared.ErrInvalidInput)
	}
	return nil
}

// ProgressDTO - прогресс студента для отображения.
type ProgressDTO struct {
	StudentID       string    `json:"student_id"`
	QuizID          string    `json:"quiz_id"`
	LatestScore     float64   `json:"latest_score"`
	BestScore       float64   `json:"best_score"`
	Streak          int       `json:"streak"`
	BestStreak      int       `json:"best_streak"`
	LastCompletedAt time.Time `json:"last_completed_at"`

	// Stats - агрегаты по истории.
	Stats progress.Stats `json:"stats"`

	// History - пусто, если IncludeHistory не задан.
	History []progress.HistoryEntry `json:"history,omitempty"`
}

// GetProgressHandler обрабатывает GetProgressQuery.
type GetProgressHandler struct {
	store progress.Store
}

// NewGetProgressHandler создаёт обработчик.
func NewGetProgressHandler(store progress.Store) *GetProgressHandler {
	return &GetProgressHandler{store: store}
}

// Handle выполняет запрос. Если прогресса нет, возвращает
// shared.ErrProgressNotFound.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*ProgressDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_progress: %w", err)
	}
	key, err := progress.NewKey(q.StudentID, q.QuizID)
	if err != nil {
		return nil, err
	}

	rec, err := h.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	dto := &ProgressDTO{
		StudentID:       string(rec.StudentID),
		QuizID:          string(rec.QuizID),
		LatestScore:     rec.LatestScore,
		BestScore:       rec.BestScore,
		Streak:          rec.Streak,
		BestStreak:      rec.BestStreak,
		LastCompletedAt: rec.LastCompletedAt,
		Stats:           rec.Stats(),
	}
	if q.IncludeHistory {
		dto.History = rec.Clone().History
	}
	return dto, nil
}

// GetProgress returns the raw record; ErrProgressNotFound when absent.
func (h *GetProgressHandler) GetProgress(ctx context.Context, studentID, quizID string) (progress.Record, error) {
	key, err := progress.NewKey(studentID, quizID)
	if err != nil {
		return progress.Record{}, err
	}
	return h.store.Get(ctx, key)
}
