// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/quiz-engine/internal/domain/progress"
	"github.com/alem-hub/quiz-engine/internal/domain/quiz"
	"github.com/alem-hub/quiz-engine/internal/domain/shared"
	"github.com/alem-hub/quiz-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD COMPLETION COMMAND
// Записывает оценённую попытку в прогресс студента: последний и лучший
// результат, серия сданных попыток, история. Обновление атомарно по ключу
// (студент, викторина) через progress.Store.Update.
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletionCommand contains the data of one scored attempt.
type RecordCompletionCommand struct {
	// StudentID is the learner.
	StudentID string

	// QuizID is the bank id.
	QuizID string

	// Percentage is the final score in [0, 100].
	Percentage shared.Percentage

	// CompletedAt is when the session ended (defaults to now if zero).
	CompletedAt time.Time

	// SessionID is used for log correlation only.
	SessionID string
}

// Validate validates the command.
func (c RecordCompletionCommand) Validate() error {
	if c.StudentID == "" {
		return errors.New("record_completion: student_id is required")
	}
	if c.QuizID == "" {
		return errors.New("record_completion: quiz_id is required")
	}
	if !c.Percentage.IsValid() {
		return fmt.Errorf("record_completion: percentage %v outside [0, 100]", float64(c.Percentage))
	}
	return nil
}

// RecordCompletionResult contains the updated record.
type RecordCompletionResult struct {
	// Record is the stored record after the update.
	Record progress.Record

	// Passed indicates the attempt met the threshold.
	Passed bool

	// StreakBroken indicates a positive streak was reset.
	StreakBroken bool

	// PreviousStreak is the streak before this attempt.
	PreviousStreak int

	// NewBestScore indicates the attempt set a new best.
	NewBestScore bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletionHandler handles RecordCompletionCommand. It also satisfies
// the session manager's ProgressRecorder.
type RecordCompletionHandler struct {
	store          progress.Store
	eventPublisher shared.EventPublisher
	log            *logger.Logger
	threshold      float64
	now            func() time.Time
}

// RecordCompletionHandlerConfig contains configuration for the handler.
type RecordCompletionHandlerConfig struct {
	// PassThreshold in percent, inclusive. 0 passes every completion; values
	// outside [0, 100] fall back to progress.DefaultPassThreshold.
	PassThreshold float64
}

// DefaultRecordCompletionHandlerConfig returns default configuration.
func DefaultRecordCompletionHandlerConfig() RecordCompletionHandlerConfig {
	return RecordCompletionHandlerConfig{PassThreshold: progress.DefaultPassThreshold}
}

// NewRecordCompletionHandler creates a new RecordCompletionHandler.
func NewRecordCompletionHandler(
	store progress.Store,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
	config RecordCompletionHandlerConfig,
) *RecordCompletionHandler {
	if config.PassThreshold < 0 || config.PassThreshold > 100 {
		config.PassThreshold = progress.DefaultPassThreshold
	}
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Default()
	}

	return &RecordCompletionHandler{
		store:          store,
		eventPublisher: eventPublisher,
		log:            log.With(logger.Component("progress_tracker")),
		threshold:      config.PassThreshold,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Threshold returns the pass threshold in percent.
func (h *RecordCompletionHandler) Threshold() float64 {
	return h.threshold
}

// Handle executes the record completion command.
func (h *RecordCompletionHandler) Handle(ctx context.Context, cmd RecordCompletionCommand) (*RecordCompletionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_completion: validation failed: %w", err)
	}
	key, err := progress.NewKey(cmd.StudentID, cmd.QuizID)
	if err != nil {
		return nil, err
	}

	at := cmd.CompletedAt
	if at.IsZero() {
		at = h.now()
	}

	// fn may run several times under optimistic stores; change keeps the
	// result of the attempt that was committed.
	var change progress.Change
	rec, err := h.store.Update(ctx, key, func(r *progress.Record) error {
		ch, err := r.Apply(cmd.Percentage, h.threshold, at)
		if err != nil {
			return err
		}
		change = ch
		return nil
	})
	if err != nil {
		h.log.Error("progress update failed", logger.StudentID(cmd.StudentID), logger.QuizID(cmd.QuizID),
			logger.SessionID(cmd.SessionID), logger.Err(err))
		return nil, fmt.Errorf("record_completion: %w", err)
	}

	result := &RecordCompletionResult{
		Record:         rec,
		Passed:         cmd.Percentage.AtLeast(h.threshold),
		StreakBroken:   change.StreakBroken,
		PreviousStreak: change.PrevStreak,
		NewBestScore:   change.NewBestScore,
	}

	h.publish(progressEvent(shared.EventProgressUpdated, rec, result, cmd.SessionID, at))
	if result.StreakBroken {
		h.publish(progressEvent(shared.EventStreakBroken, rec, result, cmd.SessionID, at))
	}

	h.log.Info("progress recorded",
		logger.StudentID(cmd.StudentID), logger.QuizID(cmd.QuizID), logger.SessionID(cmd.SessionID),
		logger.Score(cmd.Percentage.Rounded()), logger.Int("streak", rec.Streak), logger.Int("attempts", rec.Attempts))

	return result, nil
}

// RecordCompletion adapts Handle to the session manager's ProgressRecorder.
func (h *RecordCompletionHandler) RecordCompletion(ctx context.Context, sessionID, studentID, quizID string, score quiz.Score, at time.Time) (progress.Record, error) {
	res, err := h.Handle(ctx, RecordCompletionCommand{
		SessionID:   sessionID,
		StudentID:   studentID,
		QuizID:      quizID,
		Percentage:  score.Percentage,
		CompletedAt: at,
	})
	if err != nil {
		return progress.Record{}, err
	}
	return res.Record, nil
}

func (h *RecordCompletionHandler) publish(ev shared.Event) {
	if err := h.eventPublisher.Publish(ev); err != nil {
		h.log.Warn("publish event failed", logger.String("event_type", string(ev.EventType())), logger.Err(err))
	}
}

// progressEvent is keyed by the progress record; sessionID, when known, is
// the correlation id.
func progressEvent(typ shared.EventType, rec progress.Record, res *RecordCompletionResult, sessionID string, at time.Time) shared.ProgressUpdatedEvent {
	return shared.ProgressUpdatedEvent{
		BaseEvent:    shared.NewBaseEvent(typ, rec.Key.String(), at).WithCorrelationID(sessionID),
		StudentID:    string(rec.StudentID),
		QuizID:       string(rec.QuizID),
		LatestScore:  rec.LatestScore,
		BestScore:    rec.BestScore,
		Streak:       rec.Streak,
		PrevStreak:   res.PreviousStreak,
		Attempts:     rec.Attempts,
		NewBestScore: res.NewBestScore,
	}
}
