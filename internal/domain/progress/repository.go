package progress

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence (memory, redis, postgres).
// ══════════════════════════════════════════════════════════════════════════════

// UpdateFunc mutates the current record. It receives an empty record (Attempts
// 0) when nothing is stored yet. It may be called more than once by
// optimistic stores and must not have side effects.
type UpdateFunc func(rec *Record) error

// Store хранит записи прогресса.
type Store interface {
	// Get возвращает запись. Возвращает ErrProgressNotFound, если её нет.
	Get(ctx context.Context, key Key) (Record, error)

	// Update атомарно читает, изменяет и сохраняет запись. Для одного ключа
	// никакие два Update не теряют изменения друг друга.
	Update(ctx context.Context, key Key, fn UpdateFunc) (Record, error)

	// ListByQuiz возвращает все записи викторины.
	ListByQuiz(ctx context.Context, quizID string) ([]Record, error)
}
