// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Transport and analytics collaborators subscribe to
// these; the engine never waits for them.
const (
	// Session events
	EventSessionStarted    EventType = "quiz.session_started"
	EventAnswerRecorded    EventType = "quiz.answer_recorded"
	EventQuestionTimedOut  EventType = "quiz.question_timed_out"
	EventSessionCompleted  EventType = "quiz.session_completed"
	EventSessionAbandoned  EventType = "quiz.session_abandoned"
	EventSessionHandoffErr EventType = "quiz.handoff_failed"

	// Progress events
	EventProgressUpdated EventType = "progress.updated"
	EventStreakBroken    EventType = "progress.streak_broken"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// withCorrelation adds correlation_id to p when set, so relayed events
// keep it.
func (e BaseEvent) withCorrelation(p map[string]interface{}) map[string]interface{} {
	if e.CorrelationID != "" {
		p["correlation_id"] = e.CorrelationID
	}
	return p
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionStartedEvent is emitted when a student starts an attempt.
type SessionStartedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	QuizID    string `json:"quiz_id"`
	Attempt   int    `json:"attempt"`
	Questions int    `json:"questions"`
}

// Payload implements Event interface.
func (e SessionStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"quiz_id":    e.QuizID,
		"attempt":    e.Attempt,
		"questions":  e.Questions,
	}
}

// NewSessionStartedEvent creates a new SessionStartedEvent.
func NewSessionStartedEvent(sessionID, studentID, quizID string, attempt, questions int, at time.Time) SessionStartedEvent {
	return SessionStartedEvent{
		BaseEvent: NewBaseEvent(EventSessionStarted, sessionID, at),
		StudentID: studentID,
		QuizID:    quizID,
		Attempt:   attempt,
		Questions: questions,
	}
}

// AnswerRecordedEvent carries the immediate feedback for one resolved slot.
// It is emitted both for submitted answers and for timeouts.
type AnswerRecordedEvent struct {
	BaseEvent
	StudentID     string `json:"student_id"`
	QuizID        string `json:"quiz_id"`
	QuestionID    string `json:"question_id"`
	Given         string `json:"given"`
	CorrectLabel  string `json:"correct_label"`
	IsCorrect     bool   `json:"is_correct"`
	Explanation   string `json:"explanation,omitempty"`
	Position      int    `json:"position"`
	TimedOut      bool   `json:"timed_out"`
	SessionClosed bool   `json:"session_closed"`
}

// Payload implements Event interface.
func (e AnswerRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":     e.StudentID,
		"quiz_id":        e.QuizID,
		"question_id":    e.QuestionID,
		"given":          e.Given,
		"correct_label":  e.CorrectLabel,
		"is_correct":     e.IsCorrect,
		"explanation":    e.Explanation,
		"position":       e.Position,
		"timed_out":      e.TimedOut,
		"session_closed": e.SessionClosed,
	}
}

// NewAnswerRecordedEvent creates an AnswerRecordedEvent. Timed-out slots use
// EventQuestionTimedOut as their type so subscribers can filter them.
func NewAnswerRecordedEvent(sessionID, studentID string, fb AnswerFeedback, at time.Time) AnswerRecordedEvent {
	typ := EventAnswerRecorded
	if fb.TimedOut {
		typ = EventQuestionTimedOut
	}
	return AnswerRecordedEvent{
		BaseEvent:     NewBaseEvent(typ, sessionID, at),
		StudentID:     studentID,
		QuizID:        fb.QuizID,
		QuestionID:    fb.QuestionID,
		Given:         fb.Given,
		CorrectLabel:  fb.CorrectLabel,
		IsCorrect:     fb.IsCorrect,
		Explanation:   fb.Explanation,
		Position:      fb.Position,
		TimedOut:      fb.TimedOut,
		SessionClosed: fb.SessionClosed,
	}
}

// AnswerFeedback is the transport-neutral description of a resolved slot.
type AnswerFeedback struct {
	QuizID        string
	QuestionID    string
	Given         string
	CorrectLabel  string
	IsCorrect     bool
	Explanation   string
	Position      int
	TimedOut      bool
	SessionClosed bool
}

// SessionFinishedEvent is emitted when a session reaches a terminal state.
// Type is EventSessionCompleted or EventSessionAbandoned.
type SessionFinishedEvent struct {
	BaseEvent
	StudentID  string    `json:"student_id"`
	QuizID     string    `json:"quiz_id"`
	State      string    `json:"state"`
	Raw        int       `json:"raw"`
	Max        int       `json:"max"`
	Percentage float64   `json:"percentage"`
	Scored     bool      `json:"scored"`
	Answered   int       `json:"answered"`
	Total      int       `json:"total"`
	EndedAt    time.Time `json:"ended_at"`
}

// Payload implements Event interface.
func (e SessionFinishedEvent) Payload() map[string]interface{} {
	return e.withCorrelation(map[string]interface{}{
		"student_id": e.StudentID,
		"quiz_id":    e.QuizID,
		"state":      e.State,
		"raw":        e.Raw,
		"max":        e.Max,
		"percentage": e.Percentage,
		"scored":     e.Scored,
		"answered":   e.Answered,
		"total":      e.Total,
		"ended_at":   e.EndedAt.Format(time.RFC3339),
	})
}

// HandoffFailedEvent reports that a terminal session could not be archived
// or its progress could not be recorded.
type HandoffFailedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	QuizID    string `json:"quiz_id"`
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
}

// Payload implements Event interface.
func (e HandoffFailedEvent) Payload() map[string]interface{} {
	return e.withCorrelation(map[string]interface{}{
		"student_id": e.StudentID,
		"quiz_id":    e.QuizID,
		"stage":      e.Stage,
		"reason":     e.Reason,
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// ProgressUpdatedEvent is emitted after a completion was recorded.
type ProgressUpdatedEvent struct {
	BaseEvent
	StudentID    string  `json:"student_id"`
	QuizID       string  `json:"quiz_id"`
	LatestScore  float64 `json:"latest_score"`
	BestScore    float64 `json:"best_score"`
	Streak       int     `json:"streak"`
	PrevStreak   int     `json:"prev_streak"`
	Attempts     int     `json:"attempts"`
	NewBestScore bool    `json:"new_best_score"`
}

// Payload implements Event interface.
func (e ProgressUpdatedEvent) Payload() map[string]interface{} {
	return e.withCorrelation(map[string]interface{}{
		"student_id":     e.StudentID,
		"quiz_id":        e.QuizID,
		"latest_score":   e.LatestScore,
		"best_score":     e.BestScore,
		"streak":         e.Streak,
		"prev_streak":    e.PrevStreak,
		"attempts":       e.Attempts,
		"new_best_score": e.NewBestScore,
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
