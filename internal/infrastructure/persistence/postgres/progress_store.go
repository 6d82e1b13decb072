package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/quiz-engine/internal/domain/progress"
	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

// ProgressStore keeps records in quiz_progress with history rows in
// quiz_progress_history. Update serializes writers of one key with
// SELECT ... FOR UPDATE; history rows are only ever inserted.
type ProgressStore struct {
	conn *Connection
}

// NewProgressStore creates a ProgressStore.
func NewProgressStore(conn *Connection) *ProgressStore {
	return &ProgressStore{conn: conn}
}

const selectProgress = `
	SELECT student_id, quiz_id, latest_score, best_score, streak, best_streak,
		attempts, passes, last_completed_at, version
	FROM quiz_progress`

// Get implements progress.Store.
func (s *ProgressStore) Get(ctx context.Context, key progress.Key) (progress.Record, error) {
	var rec progress.Record
	err := s.conn.WithTx(ctx, ReadOnlyTxOptions(), func(tx pgx.Tx) error {
		var err error
		rec, err = loadRecord(ctx, tx, key, false)
		return err
	})
	if err != nil {
		return progress.Record{}, err
	}
	if rec.IsEmpty() {
		return progress.Record{}, shared.ErrProgressNotFound
	}
	return rec, nil
}

// Update implements progress.Store.
func (s *ProgressStore) Update(ctx context.Context, key progress.Key, fn progress.UpdateFunc) (progress.Record, error) {
	var out progress.Record
	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		// The placeholder row gives FOR UPDATE something to lock on the
		// first completion.
		if _, err := tx.Exec(ctx,
			`INSERT INTO quiz_progress (quiz_id, student_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			string(key.QuizID), string(key.StudentID)); err != nil {
			return fmt.Errorf("postgres: init progress: %w", err)
		}

		cur, err := loadRecord(ctx, tx, key, true)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(&next); err != nil {
			return err
		}

		added, err := appendedEntries(cur.History, next.History)
		if err != nil {
			return err
		}
		for _, h := range added {
			if _, err := tx.Exec(ctx, `
				INSERT INTO quiz_progress_history (quiz_id, student_id, completed_at, percentage, passed)
				VALUES ($1, $2, $3, $4, $5)`,
				string(key.QuizID), string(key.StudentID), h.CompletedAt.UTC(), h.Percentage, h.Passed); err != nil {
				return fmt.Errorf("postgres: append history: %w", err)
			}
		}

		var last *time.Time
		if !next.LastCompletedAt.IsZero() {
			t := next.LastCompletedAt.UTC()
			last = &t
		}
		if _, err := tx.Exec(ctx, `
			UPDATE quiz_progress SET
				latest_score = $3, best_score = $4, streak = $5, best_streak = $6,
				attempts = $7, passes = $8, last_completed_at = $9, version = $10, updated_at = NOW()
			WHERE quiz_id = $1 AND student_id = $2`,
			string(key.QuizID), string(key.StudentID),
			next.LatestScore, next.BestScore, next.Streak, next.BestStreak,
			next.Attempts, next.Passes, last, next.Version); err != nil {
			return fmt.Errorf("postgres: update progress: %w", err)
		}

		out = next
		return nil
	})
	if err != nil {
		return progress.Record{}, err
	}
	return out, nil
}

// ListByQuiz implements progress.Store. Records are sorted by student id.
func (s *ProgressStore) ListByQuiz(ctx context.Context, quizID string) ([]progress.Record, error) {
	var out []progress.Record
	err := s.conn.WithTx(ctx, ReadOnlyTxOptions(), func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, selectProgress+` WHERE quiz_id = $1 AND attempts > 0 ORDER BY student_id`, quizID)
		if err != nil {
			return fmt.Errorf("postgres: list progress: %w", err)
		}
		idx := make(map[shared.StudentID]int)
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				rows.Close()
				return err
			}
			idx[rec.StudentID] = len(out)
			out = append(out, rec)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		hrows, err := tx.Query(ctx, `
			SELECT student_id, completed_at, percentage, passed
			FROM quiz_progress_history WHERE quiz_id = $1
			ORDER BY student_id, completed_at, id`, quizID)
		if err != nil {
			return fmt.Errorf("postgres: list history: %w", err)
		}
		defer hrows.Close()
		for hrows.Next() {
			var (
				sid string
				h   progress.HistoryEntry
			)
			if err := hrows.Scan(&sid, &h.CompletedAt, &h.Percentage, &h.Passed); err != nil {
				return fmt.Errorf("postgres: scan history: %w", err)
			}
			if i, ok := idx[shared.StudentID(sid)]; ok {
				out[i].History = append(out[i].History, h)
			}
		}
		return hrows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadRecord(ctx context.Context, q Querier, key progress.Key, forUpdate bool) (progress.Record, error) {
	sql := selectProgress + ` WHERE quiz_id = $1 AND student_id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, string(key.QuizID), string(key.StudentID))
	if err != nil {
		return progress.Record{}, fmt.Errorf("postgres: load progress: %w", err)
	}
	rec := progress.NewRecord(key)
	found := false
	for rows.Next() {
		if rec, err = scanRecord(rows); err != nil {
			rows.Close()
			return progress.Record{}, err
		}
		found = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return progress.Record{}, err
	}
	if !found {
		return rec, nil
	}

	hrows, err := q.Query(ctx, `
		SELECT completed_at, percentage, passed FROM quiz_progress_history
		WHERE quiz_id = $1 AND student_id = $2 ORDER BY completed_at, id`,
		string(key.QuizID), string(key.StudentID))
	if err != nil {
		return progress.Record{}, fmt.Errorf("postgres: load history: %w", err)
	}
	defer hrows.Close()
	for hrows.Next() {
		var h progress.HistoryEntry
		if err := hrows.Scan(&h.CompletedAt, &h.Percentage, &h.Passed); err != nil {
			return progress.Record{}, fmt.Errorf("postgres: scan history: %w", err)
		}
		rec.History = append(rec.History, h)
	}
	return rec, hrows.Err()
}

func scanRecord(row pgx.Row) (progress.Record, error) {
	var (
		rec      progress.Record
		sid, qid string
		last     *time.Time
	)
	err := row.Scan(&sid, &qid, &rec.LatestScore, &rec.BestScore, &rec.Streak, &rec.BestStreak,
		&rec.Attempts, &rec.Passes, &last, &rec.Version)
	if err != nil {
		return progress.Record{}, fmt.Errorf("postgres: scan progress: %w", err)
	}
	rec.StudentID = shared.StudentID(sid)
	rec.QuizID = shared.QuizID(qid)
	if last != nil {
		rec.LastCompletedAt = *last
	}
	return rec, nil
}

// appendedEntries returns the entries of next that are not in prev. next must
// contain every entry of prev.
func appendedEntries(prev, next []progress.HistoryEntry) ([]progress.HistoryEntry, error) {
	remaining := make(map[progress.HistoryEntry]int, len(prev))
	for _, h := range prev {
		remaining[normalizeEntry(h)]++
	}
	var added []progress.HistoryEntry
	for _, h := range next {
		k := normalizeEntry(h)
		if remaining[k] > 0 {
			remaining[k]--
			continue
		}
		added = append(added, h)
	}
	for _, n := range remaining {
		if n > 0 {
			return nil, shared.NewDomainError("progress", "Update", shared.ErrInvalidState, "history is append-only")
		}
	}
	return added, nil
}

// normalizeEntry drops the monotonic clock reading and location so that
// entries loaded from the database compare equal to in-memory ones.
func normalizeEntry(h progress.HistoryEntry) progress.HistoryEntry {
	h.CompletedAt = h.CompletedAt.UTC().Round(time.Microsecond)
	return h
}
