package quiz

import (
	"math/rand"
	"time"

	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION STATE MACHINE
// NotStarted → InProgress → {Completed, Abandoned}. Терминальные состояния
// не имеют исходящих переходов. Session не потокобезопасна: вызывающий
// (SessionManager) держит собственный мьютекс на каждую сессию.
// ══════════════════════════════════════════════════════════════════════════════

// State - состояние попытки.
type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateAbandoned  State = "abandoned"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateAbandoned
}

// String implements fmt.Stringer.
func (s State) String() string { return string(s) }

// Order returns the presentation order: bank order, or a permutation fixed by
// seed when randomize is set.
func Order(bank *Bank, randomize bool, seed int64) []*Question {
	order := bank.Questions()
	if randomize {
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

// Resolution describes one resolved slot.
type Resolution struct {
	Question  *Question
	Given     string
	Correct   bool
	Position  int
	TimedOut  bool
	Completed bool
}

// Session - одна попытка студента пройти банк.
type Session struct {
	id        string
	studentID string
	bank      *Bank
	attempt   int
	weights   WeightTable

	state   State
	order   []*Question
	pos     map[string]int
	current int
	slots   map[string]string

	startedAt         time.Time
	questionStartedAt time.Time
	lastActivity      time.Time
	endedAt           time.Time

	score *Score
}

// NewSession creates a NotStarted session over order, which must be a
// permutation of the bank.
func NewSession(id, studentID string, bank *Bank, order []*Question, attempt int, weights WeightTable) (*Session, error) {
	if id == "" || studentID == "" {
		return nil, shared.NewDomainError("session", "New", shared.ErrInvalidID, "session and student ids are required")
	}
	if bank == nil || len(order) == 0 {
		return nil, shared.ErrEmptyBank
	}
	if len(order) != bank.Len() {
		return nil, shared.NewDomainError("session", "New", shared.ErrInvalidInput, "order does not cover the bank")
	}

	pos := make(map[string]int, len(order))
	for i, q := range order {
		if _, ok := bank.Question(q.ID()); !ok {
			return nil, shared.NewDomainError("session", "New", shared.ErrInvalidInput, "order references a foreign question")
		}
		if _, dup := pos[q.ID()]; dup {
			return nil, shared.NewDomainError("session", "New", shared.ErrInvalidInput, "order repeats a question")
		}
		pos[q.ID()] = i
	}

	return &Session{
		id:        id,
		studentID: studentID,
		bank:      bank,
		attempt:   attempt,
		weights:   weights.clone(),
		state:     StateNotStarted,
		order:     order,
		pos:       pos,
		slots:     make(map[string]string, len(order)),
	}, nil
}

// Begin moves NotStarted → InProgress and presents the first question.
func (s *Session) Begin(now time.Time) error {
	if s.state != StateNotStarted {
		return shared.NewDomainError("session", "Begin", shared.ErrStateTransition, "session already started")
	}
	s.state = StateInProgress
	s.startedAt = now
	s.questionStartedAt = now
	s.lastActivity = now
	return nil
}

// Current returns the question awaiting an answer.
func (s *Session) Current() (*Question, error) {
	if s.state != StateInProgress {
		return nil, shared.ErrSessionFinished
	}
	return s.order[s.current], nil
}

// Submit records label for questionID. label is resolved against the
// question's own option labels before recording.
// Every rejection leaves the session unchanged.
func (s *Session) Submit(questionID, label string, now time.Time) (Resolution, error) {
	if s.state != StateInProgress {
		return Resolution{}, shared.ErrSessionFinished
	}
	p, ok := s.pos[questionID]
	if !ok {
		return Resolution{}, shared.ErrUnknownQuestion
	}
	switch {
	case p < s.current:
		return Resolution{}, shared.ErrStaleAnswer
	case p > s.current:
		return Resolution{}, shared.ErrOutOfOrder
	}
	return s.resolve(s.order[s.current].ResolveLabel(label), false, now), nil
}

// Expire marks the current question as timed out and advances.
func (s *Session) Expire(now time.Time) (Resolution, error) {
	if s.state != StateInProgress {
		return Resolution{}, shared.ErrSessionFinished
	}
	return s.resolve(SlotTimedOut, true, now), nil
}

func (s *Session) resolve(given string, timedOut bool, now time.Time) Resolution {
	q := s.order[s.current]
	s.slots[q.ID()] = given
	res := Resolution{
		Question: q,
		Given:    given,
		Correct:  given == q.CorrectLabel(),
		Position: s.current + 1,
		TimedOut: timedOut,
	}

	s.current++
	s.lastActivity = now
	s.questionStartedAt = now
	if s.current == len(s.order) {
		sc := Grade(s.order, s.slots, s.weights)
		s.score = &sc
		s.state = StateCompleted
		s.endedAt = now
		res.Completed = true
	}
	return res
}

// Abandon moves InProgress → Abandoned. Recorded answers are kept; the
// session is never scored.
func (s *Session) Abandon(now time.Time) error {
	if s.state != StateInProgress {
		return shared.ErrSessionFinished
	}
	s.state = StateAbandoned
	s.endedAt = now
	return nil
}

// PartialScore grades the order with missing slots counted as unanswered.
func (s *Session) PartialScore() Score {
	return Grade(s.order, s.slots, s.weights)
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// StudentID returns the student id.
func (s *Session) StudentID() string { return s.studentID }

// Bank returns the underlying bank.
func (s *Session) Bank() *Bank { return s.bank }

// Attempt returns the 1-based attempt number.
func (s *Session) Attempt() int { return s.attempt }

// State returns the current state.
func (s *Session) State() State { return s.state }

// Position returns the 0-based index of the current question.
func (s *Session) Position() int { return s.current }

// Total returns the number of questions.
func (s *Session) Total() int { return len(s.order) }

// Answered returns the number of resolved slots.
func (s *Session) Answered() int { return len(s.slots) }

// QuestionStartedAt returns when the current question was presented.
func (s *Session) QuestionStartedAt() time.Time { return s.questionStartedAt }

// LastActivity returns the time of the last answer or advance.
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// Score returns the final score; nil unless Completed.
func (s *Session) Score() *Score {
	if s.score == nil {
		return nil
	}
	sc := *s.score
	return &sc
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// SessionSnapshot - сериализуемое представление сессии для архива.
type SessionSnapshot struct {
	ID          string            `json:"id"`
	StudentID   string            `json:"student_id"`
	QuizID      string            `json:"quiz_id"`
	BankVersion string            `json:"bank_version"`
	Attempt     int               `json:"attempt"`
	State       State             `json:"state"`
	Order       []string          `json:"order"`
	Current     int               `json:"current"`
	Slots       map[string]string `json:"slots"`
	StartedAt   time.Time         `json:"started_at"`
	EndedAt     *time.Time        `json:"ended_at,omitempty"`
	Score       *Score            `json:"score,omitempty"`
}

// Snapshot copies the session state.
func (s *Session) Snapshot() SessionSnapshot {
	snap := SessionSnapshot{
		ID:          s.id,
		StudentID:   s.studentID,
		QuizID:      s.bank.ID(),
		BankVersion: s.bank.Version(),
		Attempt:     s.attempt,
		State:       s.state,
		Order:       make([]string, len(s.order)),
		Current:     s.current,
		Slots:       make(map[string]string, len(s.slots)),
		StartedAt:   s.startedAt,
		Score:       s.Score(),
	}
	for i, q := range s.order {
		snap.Order[i] = q.ID()
	}
	for k, v := range s.slots {
		snap.Slots[k] = v
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		snap.EndedAt = &t
	}
	return snap
}
