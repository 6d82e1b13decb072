package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alem-hub/quiz-engine/internal/domain/quiz"
	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

// SessionArchive stores terminal snapshots by session id. Saving the same id
// twice overwrites, so retried writes are idempotent.
type SessionArchive struct {
	mu    sync.RWMutex
	snaps map[string]quiz.SessionSnapshot
}

// NewSessionArchive creates an empty archive.
func NewSessionArchive() *SessionArchive {
	return &SessionArchive{snaps: make(map[string]quiz.SessionSnapshot)}
}

// Save implements session.Archive.
func (a *SessionArchive) Save(ctx context.Context, snap quiz.SessionSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.ID == "" {
		return shared.NewDomainError("session", "Archive", shared.ErrInvalidID, "snapshot has no id")
	}
	a.mu.Lock()
	a.snaps[snap.ID] = snap
	a.mu.Unlock()
	return nil
}

// Get returns an archived snapshot.
func (a *SessionArchive) Get(_ context.Context, id string) (quiz.SessionSnapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	snap, ok := a.snaps[id]
	if !ok {
		return quiz.SessionSnapshot{}, shared.ErrSessionNotFound
	}
	return snap, nil
}

// CountAttempts implements session.AttemptCounter.
func (a *SessionArchive) CountAttempts(_ context.Context, studentID, quizID string) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, s := range a.snaps {
		if s.StudentID == studentID && s.QuizID == quizID {
			n++
		}
	}
	return n, nil
}

// ListByStudent returns the student's archived sessions, oldest first.
func (a *SessionArchive) ListByStudent(_ context.Context, studentID string) ([]quiz.SessionSnapshot, error) {
	a.mu.RLock()
	var out []quiz.SessionSnapshot
	for _, s := range a.snaps {
		if s.StudentID == studentID {
			out = append(out, s)
		}
	}
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}
