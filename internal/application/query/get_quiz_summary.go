package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/alem-hub/quiz-engine/internal/domain/progress"
	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET QUIZ SUMMARY QUERY
// Сводка по викторине для всех студентов: средний последний и лучший
// результат, доля сданных попыток и топ по лучшему результату.
// ══════════════════════════════════════════════════════════════════════════════

// GetQuizSummaryQuery содержит параметры запроса.
type GetQuizSummaryQuery struct {
	// QuizID - ID викторины.
	QuizID string

	// TopLimit - размер топа (по умолчанию 10, максимум 100).
	TopLimit int
}

// Validate проверяет параметры и подставляет значения по умолчанию.
func (q *GetQuizSummaryQuery) Validate() error {
	if q.QuizID == "" {
		return fmt.Errorf("%w: quiz_id is required", shared.ErrInvalidInput)
	}
	if q.TopLimit < 0 {
		return fmt.Errorf("%w: top_limit cannot be negative", shared.ErrInvalidInput)
	}
	if q.TopLimit == 0 {
		q.TopLimit = 10
	}
	if q.TopLimit > 100 {
		q.TopLimit = 100
	}
	return nil
}

// TopEntryDTO - строка топа.
type TopEntryDTO struct {
	Rank       int     `json:"rank"`
	StudentID  string  `json:"student_id"`
	BestScore  float64 `json:"best_score"`
	BestStreak int     `json:"best_streak"`
	Attempts   int     `json:"attempts"`
}

// QuizSummaryDTO - сводка по викторине.
type QuizSummaryDTO struct {
	QuizID        string  `json:"quiz_id"`
	Students      int     `json:"students"`
	Attempts      int     `json:"attempts"`
	AverageLatest float64 `json:"average_latest"`
	AverageBest   float64 `json:"average_best"`

	// PassRate - доля сданных попыток среди всех попыток, 0..1.
	PassRate float64 `json:"pass_rate"`

	Top []TopEntryDTO `json:"top"`
}

// GetQuizSummaryHandler обрабатывает GetQuizSummaryQuery.
type GetQuizSummaryHandler struct {
	store progress.Store
}

// NewGetQuizSummaryHandler создаёт обработчик.
func NewGetQuizSummaryHandler(store progress.Store) *GetQuizSummaryHandler {
	return &GetQuizSummaryHandler{store: store}
}

// Handle выполняет запрос. Викторина без попыток даёт нулевую сводку.
func (h *GetQuizSummaryHandler) Handle(ctx context.Context, q GetQuizSummaryQuery) (*QuizSummaryDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_quiz_summary: %w", err)
	}

	recs, err := h.store.ListByQuiz(ctx, q.QuizID)
	if err != nil {
		return nil, fmt.Errorf("get_quiz_summary: %w", err)
	}
	return summarize(q.QuizID, recs, q.TopLimit), nil
}

func summarize(quizID string, recs []progress.Record, limit int) *QuizSummaryDTO {
	dto := &QuizSummaryDTO{QuizID: quizID, Top: []TopEntryDTO{}}

	var sumLatest, sumBest float64
	passes := 0
	for _, r := range recs {
		if r.IsEmpty() {
			continue
		}
		dto.Students++
		dto.Attempts += r.Attempts
		passes += r.Passes
		sumLatest += r.LatestScore
		sumBest += r.BestScore
	}
	if dto.Students == 0 {
		return dto
	}
	dto.AverageLatest = sumLatest / float64(dto.Students)
	dto.AverageBest = sumBest / float64(dto.Students)
	if dto.Attempts > 0 {
		dto.PassRate = float64(passes) / float64(dto.Attempts)
	}

	ranked := make([]progress.Record, 0, dto.Students)
	for _, r := range recs {
		if !r.IsEmpty() {
			ranked = append(ranked, r)
		}
	}
	// Ties: higher best streak, then fewer attempts, then student id.
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		switch {
		case a.BestScore != b.BestScore:
			return a.BestScore > b.BestScore
		case a.BestStreak != b.BestStreak:
			return a.BestStreak > b.BestStreak
		case a.Attempts != b.Attempts:
			return a.Attempts < b.Attempts
		}
		return a.StudentID < b.StudentID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for i, r := range ranked {
		dto.Top = append(dto.Top, TopEntryDTO{
			Rank:       i + 1,
			StudentID:  string(r.StudentID),
			BestScore:  r.BestScore,
			BestStreak: r.BestStreak,
			Attempts:   r.Attempts,
		})
	}
	return dto
}
