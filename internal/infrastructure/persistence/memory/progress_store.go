// Package memory provides in-process implementations of the persistence
// contracts. Used for development without databases and in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alem-hub/quiz-engine/internal/domain/progress"
	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

// ProgressStore keeps records in a map. Each key has its own mutex, so
// updates to one (student, quiz) are serialized while different keys proceed
// in parallel.
type ProgressStore struct {
	mu    sync.Mutex
	slots map[progress.Key]*slot
}

type slot struct {
	mu  sync.Mutex
	rec progress.Record
}

// NewProgressStore creates an empty store.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{slots: make(map[progress.Key]*slot)}
}

func (s *ProgressStore) slot(key progress.Key) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{rec: progress.NewRecord(key)}
		s.slots[key] = sl
	}
	return sl
}

// Get implements progress.Store.
func (s *ProgressStore) Get(ctx context.Context, key progress.Key) (progress.Record, error) {
	if err := ctx.Err(); err != nil {
		return progress.Record{}, err
	}
	s.mu.Lock()
	sl, ok := s.slots[key]
	s.mu.Unlock()
	if !ok {
		return progress.Record{}, shared.ErrProgressNotFound
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.rec.IsEmpty() {
		return progress.Record{}, shared.ErrProgressNotFound
	}
	return sl.rec.Clone(), nil
}

// Update implements progress.Store. fn works on a copy; a failing fn leaves
// the stored record unchanged.
func (s *ProgressStore) Update(ctx context.Context, key progress.Key, fn progress.UpdateFunc) (progress.Record, error) {
	if err := ctx.Err(); err != nil {
		return progress.Record{}, err
	}
	sl := s.slot(key)

	sl.mu.Lock()
	defer sl.mu.Unlock()
	next := sl.rec.Clone()
	if err := fn(&next); err != nil {
		return progress.Record{}, err
	}
	sl.rec = next
	return next.Clone(), nil
}

// ListByQuiz implements progress.Store. Records are sorted by student id.
func (s *ProgressStore) ListByQuiz(ctx context.Context, quizID string) ([]progress.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	var slots []*slot
	for k, sl := range s.slots {
		if string(k.QuizID) == quizID {
			slots = append(slots, sl)
		}
	}
	s.mu.Unlock()

	out := make([]progress.Record, 0, len(slots))
	for _, sl := range slots {
		sl.mu.Lock()
		if !sl.rec.IsEmpty() {
			out = append(out, sl.rec.Clone())
		}
		sl.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

// Len returns the number of non-empty records.
func (s *ProgressStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.slots {
		sl.mu.Lock()
		if !sl.rec.IsEmpty() {
			n++
		}
		sl.mu.Unlock()
	}
	return n
}
