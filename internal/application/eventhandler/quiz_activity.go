// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// QUIZ ACTIVITY HANDLER
// Счётчики по банкам: старты, ответы, таймауты, завершения, брошенные
// попытки, сбросы серий и сбои передачи результатов.
//
// Обработчик читает только EventType и Payload, поэтому одинаково работает
// с локальными событиями и с событиями, пришедшими через Redis relay.
// ═══════════════════════════════════════════════════════════════════════════

// QuizCounters - счётчики одного банка.
type QuizCounters struct {
	Started        int     `json:"started"`
	Answers        int     `json:"answers"`
	Timeouts       int     `json:"timeouts"`
	Completed      int     `json:"completed"`
	Abandoned      int     `json:"abandoned"`
	StreaksBroken  int     `json:"streaks_broken"`
	HandoffsFailed int     `json:"handoffs_failed"`
	ScoreSum       float64 `json:"-"`
	Scored         int     `json:"-"`
	AverageScore   float64 `json:"average_score"`
}

// ActivitySnapshot is the JSON view used by /metrics.
type ActivitySnapshot struct {
	Events  int                     `json:"events"`
	Quizzes map[string]QuizCounters `json:"quizzes"`
	// Unattributed counts events without a quiz_id in the payload.
	Unattributed int `json:"unattributed"`
}

// QuizActivityHandler aggregates outbound events per quiz.
type QuizActivityHandler struct {
	mu      sync.Mutex
	events  int
	orphans int
	quizzes map[string]*QuizCounters
	logger  *slog.Logger
}

// NewQuizActivityHandler создаёт обработчик.
func NewQuizActivityHandler(logger *slog.Logger) *QuizActivityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuizActivityHandler{
		quizzes: make(map[string]*QuizCounters),
		logger:  logger.With("handler", "quiz_activity"),
	}
}

// Register subscribes the handler to every event on bus.
func (h *QuizActivityHandler) Register(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(h.Handle)
}

// Handle implements shared.EventHandler.
func (h *QuizActivityHandler) Handle(event shared.Event) error {
	payload := event.Payload()
	quizID, _ := payload["quiz_id"].(string)

	switch event.EventType() {
	case shared.EventSessionHandoffErr:
		h.logger.Error("session hand-off failed",
			"session_id", event.AggregateID(),
			"quiz_id", quizID,
			"stage", payload["stage"],
			"reason", payload["reason"],
		)
	case shared.EventStreakBroken:
		h.logger.Info("streak broken",
			"student_id", payload["student_id"],
			"quiz_id", quizID,
			"prev_streak", payload["prev_streak"],
		)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.events++
	if quizID == "" {
		h.orphans++
		return nil
	}
	c, ok := h.quizzes[quizID]
	if !ok {
		c = &QuizCounters{}
		h.quizzes[quizID] = c
	}

	switch event.EventType() {
	case shared.EventSessionStarted:
		c.Started++
	case shared.EventAnswerRecorded:
		c.Answers++
	case shared.EventQuestionTimedOut:
		c.Timeouts++
	case shared.EventSessionCompleted:
		c.Completed++
		if pct, ok := number(payload["percentage"]); ok {
			c.ScoreSum += pct
			c.Scored++
		}
	case shared.EventSessionAbandoned:
		c.Abandoned++
	case shared.EventStreakBroken:
		c.StreaksBroken++
	case shared.EventSessionHandoffErr:
		c.HandoffsFailed++
	}
	return nil
}

// Snapshot returns a copy of the counters.
func (h *QuizActivityHandler) Snapshot() ActivitySnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := ActivitySnapshot{
		Events:       h.events,
		Unattributed: h.orphans,
		Quizzes:      make(map[string]QuizCounters, len(h.quizzes)),
	}
	for id, c := range h.quizzes {
		cp := *c
		if cp.Scored > 0 {
			cp.AverageScore = cp.ScoreSum / float64(cp.Scored)
		}
		out.Quizzes[id] = cp
	}
	return out
}

// QuizIDs returns the quizzes seen so far, sorted.
func (h *QuizActivityHandler) QuizIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.quizzes))
	for id := range h.quizzes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// number accepts float64 from local payloads and from JSON-decoded relay
// payloads alike.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
