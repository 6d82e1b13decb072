package session

import (
	"time"

	"github.com/alem-hub/quiz-engine/internal/domain/quiz"
)

// Config contains SessionManager policy.
type Config struct {
	// QuestionTimeout - время на один вопрос. 0 отключает дедлайн.
	QuestionTimeout time.Duration

	// IdleTimeout - простой без ответов, после которого сессия брошена.
	// 0 отключает.
	IdleTimeout time.Duration

	// AttemptTimeLimit - время на всю попытку от старта. По истечении все
	// оставшиеся вопросы получают timed-out и сессия завершается с оценкой.
	// 0 отключает.
	AttemptTimeLimit time.Duration

	// MaxAttempts ограничивает число попыток на (студент, банк). 0 - без лимита.
	MaxAttempts int

	// CountAbandoned записывает брошенные сессии в прогресс с частичной
	// оценкой (неотвеченные вопросы считаются неверными).
	CountAbandoned bool

	// Weights - веса сложностей; nil означает quiz.DefaultWeights.
	Weights quiz.WeightTable

	// FinishedRetention - сколько терминальная сессия остаётся в реестре
	// после передачи результатов. Очищается в Tick.
	FinishedRetention time.Duration

	// HandoffConcurrency ограничивает параллельные передачи в Tick.
	HandoffConcurrency int
}

// DefaultConfig returns default policy.
func DefaultConfig() Config {
	return Config{
		QuestionTimeout:    60 * time.Second,
		IdleTimeout:        10 * time.Minute,
		Weights:            quiz.DefaultWeights(),
		FinishedRetention:  time.Hour,
		HandoffConcurrency: 8,
	}
}

// StartOptions настраивает одну попытку.
type StartOptions struct {
	// Randomize перемешивает вопросы.
	Randomize bool

	// Seed фиксирует перестановку. 0 означает seed из часов.
	Seed int64
}
