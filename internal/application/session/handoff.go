package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/quiz-engine/internal/domain/progress"
	"github.com/alem-hub/quiz-engine/internal/domain/quiz"
	"github.com/alem-hub/quiz-engine/internal/domain/shared"
	"github.com/alem-hub/quiz-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEADLINES
// Все методы с суффиксом Locked вызываются под e.mu. Они только меняют
// состояние и собирают outcome; события и передача выполняются после
// освобождения блокировки в dispatch.
// ══════════════════════════════════════════════════════════════════════════════

// outcome collects side effects produced under an entry lock.
type outcome struct {
	events  []shared.Event
	expired map[string]bool
	done    *finished
}

// finished is a terminal session ready for hand-off.
type finished struct {
	entry   *entry
	snap    quiz.SessionSnapshot
	score   *quiz.Score
	state   quiz.State
	endedAt time.Time
}

func stopTimers(e *entry) {
	if e.qTimer != nil {
		e.qTimer.Stop()
		e.qTimer = nil
	}
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
}

func stopAttemptTimer(e *entry) {
	if e.attemptTimer != nil {
		e.attemptTimer.Stop()
		e.attemptTimer = nil
	}
}

// armAttemptLocked sets the whole-attempt deadline once, at start. The timer
// is not tied to a question generation.
func (m *Manager) armAttemptLocked(e *entry, start time.Time) {
	if m.cfg.AttemptTimeLimit <= 0 {
		return
	}
	e.attemptDeadline = start.Add(m.cfg.AttemptTimeLimit)
	e.attemptTimer = m.clock.AfterFunc(e.attemptDeadline.Sub(m.clock.Now()), func() { m.onAttemptTimer(e) })
}

// armLocked restarts both deadlines from "from" and bumps the timer
// generation so callbacks of the previous question become no-ops.
func (m *Manager) armLocked(e *entry, from time.Time) {
	stopTimers(e)
	e.gen++
	gen := e.gen
	e.qDeadline, e.idleDeadline = time.Time{}, time.Time{}

	now := m.clock.Now()
	if m.cfg.QuestionTimeout > 0 {
		e.qDeadline = from.Add(m.cfg.QuestionTimeout)
		e.qTimer = m.clock.AfterFunc(e.qDeadline.Sub(now), func() { m.onTimer(e, gen) })
	}
	if m.cfg.IdleTimeout > 0 {
		e.idleDeadline = from.Add(m.cfg.IdleTimeout)
		e.idleTimer = m.clock.AfterFunc(e.idleDeadline.Sub(now), func() { m.onTimer(e, gen) })
	}
}

// applyDeadlinesLocked resolves every deadline that passed by now, in
// deadline order. Each timed-out question re-arms from its own deadline, so
// a late sweep produces the same result as timely timers. The attempt
// deadline wins ties.
func (m *Manager) applyDeadlinesLocked(e *entry, now time.Time, out *outcome) {
	for e.s.State() == quiz.StateInProgress {
		qDue := !e.qDeadline.IsZero() && !now.Before(e.qDeadline)
		idleDue := !e.idleDeadline.IsZero() && !now.Before(e.idleDeadline)
		attemptDue := !e.attemptDeadline.IsZero() && !now.Before(e.attemptDeadline)

		switch {
		case attemptDue &&
			(!qDue || !e.qDeadline.Before(e.attemptDeadline)) &&
			(!idleDue || !e.idleDeadline.Before(e.attemptDeadline)):
			m.expireAttemptLocked(e, out)
			return
		case idleDue && (!qDue || e.idleDeadline.Before(e.qDeadline)):
			at := e.idleDeadline
			if err := e.s.Abandon(at); err != nil {
				return
			}
			m.finishLocked(e, at, out)
			return
		case qDue:
			at := e.qDeadline
			res, err := e.s.Expire(at)
			if err != nil {
				return
			}
			out.markExpired(res.Question.ID())
			m.advanceLocked(e, res, at, out)
		default:
			return
		}
	}
}

// expireAttemptLocked resolves every remaining question as timed out at the
// attempt deadline. The last resolution completes and scores the session.
func (m *Manager) expireAttemptLocked(e *entry, out *outcome) {
	at := e.attemptDeadline
	for e.s.State() == quiz.StateInProgress {
		res, err := e.s.Expire(at)
		if err != nil {
			return
		}
		out.markExpired(res.Question.ID())
		out.events = append(out.events, answerEvent(e, res, at))
		if res.Completed {
			m.finishLocked(e, at, out)
		}
	}
}

func (o *outcome) markExpired(questionID string) {
	if o.expired == nil {
		o.expired = make(map[string]bool)
	}
	o.expired[questionID] = true
}

// advanceLocked records the resolution event and either finishes the session
// or arms the next question.
func (m *Manager) advanceLocked(e *entry, res quiz.Resolution, at time.Time, out *outcome) {
	out.events = append(out.events, answerEvent(e, res, at))

	if res.Completed {
		m.finishLocked(e, at, out)
		return
	}
	m.armLocked(e, at)
}

func answerEvent(e *entry, res quiz.Resolution, at time.Time) shared.Event {
	return shared.NewAnswerRecordedEvent(e.s.ID(), e.s.StudentID(), shared.AnswerFeedback{
		QuizID:        e.s.Bank().ID(),
		QuestionID:    res.Question.ID(),
		Given:         res.Given,
		CorrectLabel:  res.Question.CorrectLabel(),
		IsCorrect:     res.Correct,
		Explanation:   res.Question.Explanation(),
		Position:      res.Position,
		TimedOut:      res.TimedOut,
		SessionClosed: res.Completed,
	}, at)
}

func (m *Manager) finishLocked(e *entry, at time.Time, out *outcome) {
	stopTimers(e)
	stopAttemptTimer(e)
	e.gen++
	e.qDeadline, e.idleDeadline = time.Time{}, time.Time{}
	e.endedAt = at

	fin := &finished{entry: e, snap: e.s.Snapshot(), state: e.s.State(), endedAt: at}
	switch {
	case fin.state == quiz.StateCompleted:
		fin.score = e.s.Score()
	case m.cfg.CountAbandoned:
		sc := e.s.PartialScore()
		fin.score = &sc
	}
	out.done = fin
}

func (m *Manager) viewLocked(e *entry) QuestionView {
	q, err := e.s.Current()
	if err != nil {
		return QuestionView{SessionID: e.s.ID()}
	}
	return QuestionView{
		SessionID:  e.s.ID(),
		QuestionID: q.ID(),
		Text:       q.Text(),
		Options:    q.Options(),
		Difficulty: q.Difficulty(),
		Position:   e.s.Position() + 1,
		Total:      e.s.Total(),
		Deadline:   e.qDeadline,

		AttemptDeadline: e.attemptDeadline,
	}
}

// onTimer is the AfterFunc callback. A stale generation means the question
// was resolved before the timer fired.
func (m *Manager) onTimer(e *entry, gen uint64) {
	var out outcome
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	m.applyDeadlinesLocked(e, m.clock.Now(), &out)
	e.mu.Unlock()

	if _, err := m.dispatch(context.Background(), &out); err != nil {
		m.log.Warn("timer hand-off incomplete", logger.SessionID(e.s.ID()), logger.Err(err))
	}
}

// onAttemptTimer fires once per session. A session that already finished is
// left alone by applyDeadlinesLocked.
func (m *Manager) onAttemptTimer(e *entry) {
	var out outcome
	e.mu.Lock()
	m.applyDeadlinesLocked(e, m.clock.Now(), &out)
	e.mu.Unlock()

	if _, err := m.dispatch(context.Background(), &out); err != nil {
		m.log.Warn("attempt timer hand-off incomplete", logger.SessionID(e.s.ID()), logger.Err(err))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HAND-OFF
// ══════════════════════════════════════════════════════════════════════════════

// dispatch publishes collected events and hands off a finished session.
// Must be called without holding any entry lock.
func (m *Manager) dispatch(ctx context.Context, out *outcome) (*progress.Record, error) {
	for _, ev := range out.events {
		m.publish(ev)
	}
	if out.done == nil {
		return nil, nil
	}
	return m.handoff(ctx, out.done)
}

// handoff releases the active slot, archives the snapshot, publishes the
// terminal event and records progress. A failed stage is logged, reported as
// an event and returned; later stages still run.
func (m *Manager) handoff(ctx context.Context, fin *finished) (*progress.Record, error) {
	e := fin.entry
	snap := fin.snap

	m.mu.Lock()
	if m.active[e.key] == snap.ID {
		delete(m.active, e.key)
	}
	m.mu.Unlock()

	log := m.log.With(logger.SessionID(snap.ID), logger.StudentID(snap.StudentID),
		logger.QuizID(snap.QuizID), logger.State(string(fin.state)))

	var errs []error

	if m.archive != nil {
		err := m.retrier.Do(ctx, func(ctx context.Context) error {
			return m.archive.Save(ctx, snap)
		})
		if err != nil {
			errs = append(errs, m.handoffFailed(log, snap, "archive", err))
		}
	}

	m.publish(finishedEvent(fin))

	var rec *progress.Record
	if fin.score != nil && m.progress != nil {
		r, err := m.progress.RecordCompletion(ctx, snap.ID, snap.StudentID, snap.QuizID, *fin.score, fin.endedAt)
		if err != nil {
			errs = append(errs, m.handoffFailed(log, snap, "progress", err))
		} else {
			rec = &r
		}
	}

	e.mu.Lock()
	e.handedOff = true
	e.mu.Unlock()

	if fin.score != nil {
		log.Info("session finished", logger.Attempt(snap.Attempt), logger.Score(fin.score.Percentage.Rounded()))
	} else {
		log.Info("session finished", logger.Attempt(snap.Attempt))
	}
	return rec, errors.Join(errs...)
}

func (m *Manager) handoffFailed(log *logger.Logger, snap quiz.SessionSnapshot, stage string, err error) error {
	log.Error("hand-off failed", logger.String("stage", stage), logger.Err(err))
	m.publish(shared.HandoffFailedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventSessionHandoffErr, snap.ID, m.clock.Now()).WithCorrelationID(snap.ID),
		StudentID: snap.StudentID,
		QuizID:    snap.QuizID,
		Stage:     stage,
		Reason:    err.Error(),
	})
	return shared.WrapError("session", "Handoff", shared.ErrServiceUnavailable, stage+" failed", err)
}

func finishedEvent(fin *finished) shared.SessionFinishedEvent {
	typ := shared.EventSessionAbandoned
	if fin.state == quiz.StateCompleted {
		typ = shared.EventSessionCompleted
	}
	ev := shared.SessionFinishedEvent{
		BaseEvent: shared.NewBaseEvent(typ, fin.snap.ID, fin.endedAt).WithCorrelationID(fin.snap.ID),
		StudentID: fin.snap.StudentID,
		QuizID:    fin.snap.QuizID,
		State:     string(fin.state),
		Answered:  len(fin.snap.Slots),
		Total:     len(fin.snap.Order),
		EndedAt:   fin.endedAt,
	}
	if fin.score != nil {
		ev.Scored = true
		ev.Raw = fin.score.Raw
		ev.Max = fin.score.Max
		ev.Percentage = fin.score.Percentage.Float64()
	}
	return ev
}

// ══════════════════════════════════════════════════════════════════════════════
// SWEEP
// ══════════════════════════════════════════════════════════════════════════════

// Tick applies every deadline that passed by now and prunes terminal
// sessions older than FinishedRetention. Hand-offs run in parallel, bounded
// by HandoffConcurrency. Tick is the fallback for lost timers and produces
// the same transitions.
func (m *Manager) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	var (
		report TickReport
		events []shared.Event
		done   []*finished
		prune  []string
	)

	for _, e := range m.snapshotEntries() {
		e.mu.Lock()
		if e.s.State().IsTerminal() {
			if e.handedOff && now.Sub(e.endedAt) >= m.cfg.FinishedRetention {
				prune = append(prune, e.s.ID())
			}
			e.mu.Unlock()
			continue
		}

		var out outcome
		m.applyDeadlinesLocked(e, now, &out)
		e.mu.Unlock()

		report.TimedOut += len(out.expired)
		events = append(events, out.events...)
		if out.done != nil {
			done = append(done, out.done)
			if out.done.state == quiz.StateCompleted {
				report.Completed++
			} else {
				report.Abandoned++
			}
		}
	}

	for _, ev := range events {
		m.publish(ev)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(m.cfg.HandoffConcurrency)
	for _, fin := range done {
		g.Go(func() error {
			if _, err := m.handoff(ctx, fin); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(prune) > 0 {
		m.mu.Lock()
		for _, id := range prune {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
		report.Pruned = len(prune)
	}

	if report.TimedOut+report.Completed+report.Abandoned+report.Pruned > 0 {
		m.log.Debug("tick",
			logger.Int("timed_out", report.TimedOut),
			logger.Int("completed", report.Completed),
			logger.Int("abandoned", report.Abandoned),
			logger.Int("pruned", report.Pruned))
	}
	return report, errors.Join(errs...)
}
