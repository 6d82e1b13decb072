// Package session управляет жизненным циклом попыток: реестр активных
// сессий, дедлайны вопросов и простоя, передача результатов в хранилища.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/quiz-engine/internal/domain/progress"
	"github.com/alem-hub/quiz-engine/internal/domain/quiz"
	"github.com/alem-hub/quiz-engine/internal/domain/shared"
	"github.com/alem-hub/quiz-engine/pkg/logger"
	"github.com/alem-hub/quiz-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLLABORATORS
// ══════════════════════════════════════════════════════════════════════════════

// Archive persists terminal sessions.
type Archive interface {
	Save(ctx context.Context, snap quiz.SessionSnapshot) error
}

// AttemptCounter reports how many attempts were archived before this
// process started.
type AttemptCounter interface {
	CountAttempts(ctx context.Context, studentID, quizID string) (int, error)
}

// ProgressRecorder records a scored attempt.
type ProgressRecorder interface {
	RecordCompletion(ctx context.Context, sessionID, studentID, quizID string, score quiz.Score, at time.Time) (progress.Record, error)
}

// Dependencies bundles the manager's collaborators. Only Clock is required
// to be meaningful; nil collaborators are skipped.
type Dependencies struct {
	Banks    *Registry
	Archive  Archive
	Attempts AttemptCounter
	Progress ProgressRecorder
	Events   shared.EventPublisher
	Clock    Clock
	Logger   *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// VIEWS
// ══════════════════════════════════════════════════════════════════════════════

// QuestionView is what the transport renders for the current question.
type QuestionView struct {
	SessionID  string          `json:"session_id"`
	QuestionID string          `json:"question_id"`
	Text       string          `json:"text"`
	Options    []quiz.Option   `json:"options"`
	Difficulty quiz.Difficulty `json:"difficulty"`
	Position   int             `json:"position"`
	Total      int             `json:"total"`
	Deadline   time.Time       `json:"deadline,omitempty"`

	// AttemptDeadline is zero when the attempt has no overall time limit.
	AttemptDeadline time.Time `json:"attempt_deadline,omitempty"`
}

// Started is returned by Start.
type Started struct {
	SessionID string       `json:"session_id"`
	Attempt   int          `json:"attempt"`
	Question  QuestionView `json:"question"`
}

// SubmitResult is the immediate feedback for an answer.
type SubmitResult struct {
	QuestionID   string        `json:"question_id"`
	Given        string        `json:"given"`
	Correct      bool          `json:"correct"`
	CorrectLabel string        `json:"correct_label"`
	Explanation  string        `json:"explanation,omitempty"`
	Position     int           `json:"position"`
	Next         *QuestionView `json:"next,omitempty"`
	Completed    bool          `json:"completed"`
	Score        *quiz.Score   `json:"score,omitempty"`

	// Progress is the updated record when the answer completed the session.
	Progress *progress.Record `json:"progress,omitempty"`

	// HandoffErr is set when archiving or recording progress failed. The
	// answer itself was accepted.
	HandoffErr error `json:"-"`
}

// TickReport summarizes one sweep.
type TickReport struct {
	TimedOut  int `json:"timed_out"`
	Completed int `json:"completed"`
	Abandoned int `json:"abandoned"`
	Pruned    int `json:"pruned"`
}

// ══════════════════════════════════════════════════════════════════════════════
// MANAGER
// ══════════════════════════════════════════════════════════════════════════════

type activeKey struct {
	student string
	quiz    string
}

// entry wraps one session with its own lock and timers. gen invalidates
// timers armed for an earlier question.
type entry struct {
	mu sync.Mutex
	s  *quiz.Session

	key          activeKey
	gen          uint64
	qTimer       Timer
	idleTimer    Timer
	qDeadline    time.Time
	idleDeadline time.Time
	endedAt      time.Time

	attemptTimer    Timer
	attemptDeadline time.Time
	handedOff    bool
}

// Manager owns all live sessions.
type Manager struct {
	cfg      Config
	banks    *Registry
	archive  Archive
	counter  AttemptCounter
	progress ProgressRecorder
	events   shared.EventPublisher
	clock    Clock
	log      *logger.Logger
	retrier  *retry.Retrier

	mu       sync.RWMutex
	sessions map[string]*entry
	active   map[activeKey]string
	attempts map[activeKey]int
	loaded   map[activeKey]bool
}

// NewManager creates a Manager.
func NewManager(cfg Config, deps Dependencies) *Manager {
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Events == nil {
		deps.Events = shared.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	if cfg.Weights == nil {
		cfg.Weights = quiz.DefaultWeights()
	}
	if cfg.HandoffConcurrency <= 0 {
		cfg.HandoffConcurrency = 8
	}

	return &Manager{
		cfg:      cfg,
		banks:    deps.Banks,
		archive:  deps.Archive,
		counter:  deps.Attempts,
		progress: deps.Progress,
		events:   deps.Events,
		clock:    deps.Clock,
		log:      deps.Logger.With(logger.Component("session_manager")),
		retrier: retry.ArchiveRetrier(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !shared.IsValidation(err)
		}),
		sessions: make(map[string]*entry),
		active:   make(map[activeKey]string),
		attempts: make(map[activeKey]int),
		loaded:   make(map[activeKey]bool),
	}
}

// Start begins a new attempt of bank for studentID.
func (m *Manager) Start(ctx context.Context, studentID string, bank *quiz.Bank, opts StartOptions) (Started, error) {
	sid, err := shared.NewStudentID(studentID)
	if err != nil {
		return Started{}, err
	}
	if bank == nil {
		return Started{}, shared.ErrBankNotFound
	}
	key := activeKey{student: string(sid), quiz: bank.ID()}
	if err := m.loadAttempts(ctx, key); err != nil {
		return Started{}, err
	}

	now := m.clock.Now()
	seed := opts.Seed
	if opts.Randomize && seed == 0 {
		seed = now.UnixNano()
	}
	order := quiz.Order(bank, opts.Randomize, seed)
	id := uuid.NewString()

	m.mu.Lock()
	if _, busy := m.active[key]; busy {
		m.mu.Unlock()
		return Started{}, shared.ErrSessionAlreadyActive
	}
	if m.cfg.MaxAttempts > 0 && m.attempts[key] >= m.cfg.MaxAttempts {
		m.mu.Unlock()
		return Started{}, shared.ErrMaxAttemptsReached
	}
	attempt := m.attempts[key] + 1
	s, err := quiz.NewSession(id, string(sid), bank, order, attempt, m.cfg.Weights)
	if err != nil {
		m.mu.Unlock()
		return Started{}, err
	}
	if err := s.Begin(now); err != nil {
		m.mu.Unlock()
		return Started{}, err
	}

	e := &entry{s: s, key: key}
	e.mu.Lock()
	m.attempts[key] = attempt
	m.sessions[id] = e
	m.active[key] = id
	m.mu.Unlock()

	m.armLocked(e, now)
	m.armAttemptLocked(e, now)
	view := m.viewLocked(e)
	e.mu.Unlock()

	m.log.Info("session started",
		logger.SessionID(id), logger.StudentID(key.student), logger.QuizID(key.quiz),
		logger.Attempt(attempt), logger.BankVersion(bank.Version()))
	m.publish(shared.NewSessionStartedEvent(id, key.student, key.quiz, attempt, bank.Len(), now))

	return Started{SessionID: id, Attempt: attempt, Question: view}, nil
}

// StartByID resolves bankID through the registry and calls Start.
func (m *Manager) StartByID(ctx context.Context, studentID, bankID string, opts StartOptions) (Started, error) {
	if m.banks == nil {
		return Started{}, shared.ErrBankNotFound
	}
	bank, err := m.banks.Get(bankID)
	if err != nil {
		return Started{}, err
	}
	return m.Start(ctx, studentID, bank, opts)
}

// CurrentQuestion returns the question awaiting an answer. Overdue deadlines
// are applied first.
func (m *Manager) CurrentQuestion(ctx context.Context, sessionID string) (QuestionView, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return QuestionView{}, err
	}

	var out outcome
	e.mu.Lock()
	m.applyDeadlinesLocked(e, m.clock.Now(), &out)
	var view QuestionView
	err = shared.ErrSessionFinished
	if e.s.State() == quiz.StateInProgress {
		view, err = m.viewLocked(e), nil
	}
	e.mu.Unlock()

	m.dispatch(ctx, &out)
	return view, err
}

// SubmitAnswer records label as the answer to questionID. An answer that
// arrives at or after the question deadline loses to the timeout and gets
// ErrStaleAnswer.
func (m *Manager) SubmitAnswer(ctx context.Context, sessionID, questionID, label string) (SubmitResult, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return SubmitResult{}, shared.NewDomainError("session", "Submit", shared.ErrEmptyValue, "answer label is empty")
	}
	e, err := m.lookup(sessionID)
	if err != nil {
		return SubmitResult{}, err
	}

	var out outcome
	e.mu.Lock()
	now := m.clock.Now()
	m.applyDeadlinesLocked(e, now, &out)
	if out.expired[questionID] {
		e.mu.Unlock()
		m.dispatch(ctx, &out)
		return SubmitResult{}, shared.ErrStaleAnswer
	}

	res, err := e.s.Submit(questionID, label, now)
	if err != nil {
		e.mu.Unlock()
		m.dispatch(ctx, &out)
		return SubmitResult{}, err
	}
	m.advanceLocked(e, res, now, &out)

	result := SubmitResult{
		QuestionID:   questionID,
		Given:        res.Given,
		Correct:      res.Correct,
		CorrectLabel: res.Question.CorrectLabel(),
		Explanation:  res.Question.Explanation(),
		Position:     res.Position,
		Completed:    res.Completed,
	}
	if res.Completed {
		result.Score = e.s.Score()
	} else {
		next := m.viewLocked(e)
		result.Next = &next
	}
	e.mu.Unlock()

	result.Progress, result.HandoffErr = m.dispatch(ctx, &out)
	return result, nil
}

// Abandon ends an in-progress session at the student's request.
func (m *Manager) Abandon(ctx context.Context, sessionID string) error {
	e, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	var out outcome
	e.mu.Lock()
	now := m.clock.Now()
	m.applyDeadlinesLocked(e, now, &out)
	err = e.s.Abandon(now)
	if err == nil {
		m.finishLocked(e, now, &out)
	}
	e.mu.Unlock()

	_, herr := m.dispatch(ctx, &out)
	if err != nil {
		return err
	}
	return herr
}

// Get returns a snapshot of a session still held in the registry.
func (m *Manager) Get(sessionID string) (quiz.SessionSnapshot, error) {
	e, err := m.lookup(sessionID)
	if err != nil {
		return quiz.SessionSnapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Snapshot(), nil
}

// ActiveCount returns the number of in-progress sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Shutdown stops every pending timer. Deadlines are still honoured by Tick
// and by lazy checks on the next call.
func (m *Manager) Shutdown() {
	for _, e := range m.snapshotEntries() {
		e.mu.Lock()
		e.gen++
		stopTimers(e)
		stopAttemptTimer(e)
		e.mu.Unlock()
	}
}

func (m *Manager) lookup(sessionID string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	return e, nil
}

func (m *Manager) snapshotEntries() []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e)
	}
	return out
}

func (m *Manager) loadAttempts(ctx context.Context, key activeKey) error {
	if m.counter == nil {
		return nil
	}
	m.mu.RLock()
	done := m.loaded[key]
	m.mu.RUnlock()
	if done {
		return nil
	}

	n, err := m.counter.CountAttempts(ctx, key.student, key.quiz)
	if err != nil {
		return shared.WrapError("session", "Start", shared.ErrServiceUnavailable, "cannot count previous attempts", err)
	}

	m.mu.Lock()
	if !m.loaded[key] {
		if n > m.attempts[key] {
			m.attempts[key] = n
		}
		m.loaded[key] = true
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) publish(ev shared.Event) {
	if err := m.events.Publish(ev); err != nil {
		m.log.Warn("publish event failed", logger.String("event_type", string(ev.EventType())), logger.Err(err))
	}
}
