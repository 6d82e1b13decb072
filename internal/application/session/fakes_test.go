package session

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alem-hub/quiz-engine/internal/domain/progress"
	"github.com/alem-hub/quiz-engine/internal/domain/quiz"
	"github.com/alem-hub/quiz-engine/internal/domain/shared"
	"github.com/alem-hub/quiz-engine/pkg/logger"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeClock fires timers synchronously from Advance. With fire=false timers
// are recorded but never run, which leaves expiry to lazy checks and Tick.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	fire   bool
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
}

func newFakeClock(fire bool) *fakeClock {
	return &fakeClock{now: epoch, fire: fire}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*fakeTimer
		if c.fire {
			for _, t := range c.timers {
				if !t.stopped && !t.at.After(c.now) {
					t.stopped = true
					due = append(due, t)
				}
			}
		}
		c.mu.Unlock()
		if len(due) == 0 {
			return
		}
		sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		for _, t := range due {
			t.f()
		}
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(ev shared.Event) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) count(t shared.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.EventType() == t {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) ofType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, ev := range p.events {
		if ev.EventType() == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeArchive struct {
	mu    sync.Mutex
	snaps []quiz.SessionSnapshot
	err   error
}

func (a *fakeArchive) Save(_ context.Context, snap quiz.SessionSnapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.snaps = append(a.snaps, snap)
	return nil
}

func (a *fakeArchive) saved() []quiz.SessionSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]quiz.SessionSnapshot(nil), a.snaps...)
}

type completion struct {
	sessionID string
	studentID string
	quizID    string
	score     quiz.Score
	at        time.Time
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []completion
}

func (r *fakeRecorder) RecordCompletion(_ context.Context, sessionID, studentID, quizID string, score quiz.Score, at time.Time) (progress.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, completion{sessionID, studentID, quizID, score, at})
	key, _ := progress.NewKey(studentID, quizID)
	rec := progress.NewRecord(key)
	_, err := rec.Apply(score.Percentage, progress.DefaultPassThreshold, at)
	return rec, err
}

func (r *fakeRecorder) recorded() []completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]completion(nil), r.calls...)
}

type fixedCounter int

func (c fixedCounter) CountAttempts(context.Context, string, string) (int, error) {
	return int(c), nil
}

type harness struct {
	m        *Manager
	clock    *fakeClock
	events   *recordingPublisher
	archive  *fakeArchive
	recorder *fakeRecorder
	bank     *quiz.Bank
}

func newHarness(t *testing.T, cfg Config, fire bool) *harness {
	t.Helper()
	h := &harness{
		clock:    newFakeClock(fire),
		events:   &recordingPublisher{},
		archive:  &fakeArchive{},
		recorder: &fakeRecorder{},
		bank:     threeQuestionBank(t),
	}
	banks := NewRegistry(logger.Nop())
	banks.Register(h.bank)
	h.m = NewManager(cfg, Dependencies{
		Banks:    banks,
		Archive:  h.archive,
		Progress: h.recorder,
		Events:   h.events,
		Clock:    h.clock,
		Logger:   logger.Nop(),
	})
	return h
}

func threeQuestionBank(t *testing.T) *quiz.Bank {
	t.Helper()
	mk := func(id string, d quiz.Difficulty, correct string) *quiz.Question {
		q, err := quiz.NewQuestion(quiz.QuestionSpec{
			ID:   id,
			Text: "question " + id,
			Options: []quiz.Option{
				{Label: "A", Text: "alpha"},
				{Label: "B", Text: "beta"},
				{Label: "C", Text: "gamma"},
			},
			Correct:     correct,
			Explanation: "because " + id,
			Difficulty:  d,
		})
		require.NoError(t, err)
		return q
	}
	bank, err := quiz.NewBank("algebra", []*quiz.Question{
		mk("q1", quiz.DifficultyEasy, "A"),
		mk("q2", quiz.DifficultyMedium, "B"),
		mk("q3", quiz.DifficultyHard, "C"),
	})
	require.NoError(t, err)
	return bank
}
