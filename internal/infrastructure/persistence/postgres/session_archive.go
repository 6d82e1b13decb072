package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alem-hub/quiz-engine/internal/domain/quiz"
	"github.com/alem-hub/quiz-engine/internal/domain/shared"
	"github.com/alem-hub/quiz-engine/pkg/retry"
)

// SessionArchive stores terminal snapshots in quiz_sessions. Saving the same
// session id twice overwrites the row, so retried hand-offs are idempotent.
type SessionArchive struct {
	conn *Connection
}

// NewSessionArchive creates a SessionArchive.
func NewSessionArchive(conn *Connection) *SessionArchive {
	return &SessionArchive{conn: conn}
}

// Save implements session.Archive. Transient failures are marked retryable.
func (a *SessionArchive) Save(ctx context.Context, snap quiz.SessionSnapshot) error {
	if !snap.State.IsTerminal() {
		return shared.NewDomainError("session", "Archive", shared.ErrInvalidState, "only terminal sessions are archived")
	}
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres: encode snapshot: %w", err)
	}

	var rawScore, maxScore *int
	var pct *float64
	if snap.Score != nil {
		rawScore, maxScore = &snap.Score.Raw, &snap.Score.Max
		p := snap.Score.Percentage.Float64()
		pct = &p
	}

	_, err = a.conn.Pool().Exec(ctx, `
		INSERT INTO quiz_sessions (id, student_id, quiz_id, bank_version, attempt, state,
			score_raw, score_max, percentage, started_at, ended_at, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			score_raw = EXCLUDED.score_raw,
			score_max = EXCLUDED.score_max,
			percentage = EXCLUDED.percentage,
			ended_at = EXCLUDED.ended_at,
			snapshot = EXCLUDED.snapshot,
			archived_at = NOW()`,
		snap.ID, snap.StudentID, snap.QuizID, snap.BankVersion, snap.Attempt, string(snap.State),
		rawScore, maxScore, pct, snap.StartedAt, snap.EndedAt, doc,
	)
	if err != nil {
		err = fmt.Errorf("postgres: archive session %s: %w", snap.ID, err)
		if IsTransient(err) {
			return retry.Retryable(err)
		}
		return err
	}
	return nil
}

// Get loads an archived snapshot.
func (a *SessionArchive) Get(ctx context.Context, id string) (quiz.SessionSnapshot, error) {
	var doc []byte
	err := a.conn.Pool().QueryRow(ctx, `SELECT snapshot FROM quiz_sessions WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if IsNoRows(err) {
			return quiz.SessionSnapshot{}, shared.ErrSessionNotFound
		}
		return quiz.SessionSnapshot{}, fmt.Errorf("postgres: load session %s: %w", id, err)
	}
	var snap quiz.SessionSnapshot
	if err := json.Unmarshal(doc, &snap); err != nil {
		return quiz.SessionSnapshot{}, fmt.Errorf("postgres: decode snapshot %s: %w", id, err)
	}
	return snap, nil
}

// CountAttempts implements session.AttemptCounter.
func (a *SessionArchive) CountAttempts(ctx context.Context, studentID, quizID string) (int, error) {
	var n int
	err := a.conn.Pool().QueryRow(ctx,
		`SELECT COALESCE(MAX(attempt), 0) FROM quiz_sessions WHERE student_id = $1 AND quiz_id = $2`,
		studentID, quizID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count attempts: %w", err)
	}
	return n, nil
}
