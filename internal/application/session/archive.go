package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/alem-hub/quiz-engine/internal/domain/quiz"
	"github.com/alem-hub/quiz-engine/internal/domain/shared"
	"github.com/alem-hub/quiz-engine/pkg/circuitbreaker"
	"github.com/alem-hub/quiz-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ARCHIVE COMBINATORS
// ══════════════════════════════════════════════════════════════════════════════

// TeeArchive writes to a primary archive and then to best-effort replicas
// (e.g. the Redis snapshot cache). Only a primary failure fails Save. Each
// replica sits behind its own circuit breaker.
type TeeArchive struct {
	primary  Archive
	replicas []replica
	log      *logger.Logger
}

type replica struct {
	archive Archive
	breaker *circuitbreaker.CircuitBreaker
}

// NewTeeArchive creates a TeeArchive. Nil replicas are skipped.
func NewTeeArchive(primary Archive, log *logger.Logger, replicas ...Archive) *TeeArchive {
	if log == nil {
		log = logger.Default()
	}
	t := &TeeArchive{primary: primary, log: log.With(logger.Component("tee_archive"))}
	for _, r := range replicas {
		if r == nil {
			continue
		}
		name := fmt.Sprintf("archive-replica-%d", len(t.replicas))
		t.replicas = append(t.replicas, replica{
			archive: r,
			breaker: circuitbreaker.ReplicaBreaker(name, t.onStateChange),
		})
	}
	return t
}

// Save implements Archive.
func (t *TeeArchive) Save(ctx context.Context, snap quiz.SessionSnapshot) error {
	if err := t.primary.Save(ctx, snap); err != nil {
		return err
	}
	for _, r := range t.replicas {
		err := r.breaker.Execute(ctx, func(ctx context.Context) error {
			return r.archive.Save(ctx, snap)
		})
		switch {
		case errors.Is(err, circuitbreaker.ErrOpen):
			t.log.Debug("replica skipped, circuit open",
				logger.SessionID(snap.ID), logger.String("replica", r.breaker.Name()))
		case err != nil:
			t.log.Warn("replica archive write failed",
				logger.SessionID(snap.ID), logger.String("replica", r.breaker.Name()), logger.Err(err))
		}
	}
	return nil
}

// ReplicaStats reports the replica circuits.
func (t *TeeArchive) ReplicaStats() []circuitbreaker.Stats {
	out := make([]circuitbreaker.Stats, 0, len(t.replicas))
	for _, r := range t.replicas {
		out = append(out, r.breaker.Stats())
	}
	return out
}

func (t *TeeArchive) onStateChange(name string, from, to circuitbreaker.State) {
	t.log.Warn("replica circuit state changed",
		logger.String("replica", name),
		logger.String("from", from.String()),
		logger.String("to", to.String()),
	)
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT LOOKUP
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotSource returns a stored snapshot or an error matching
// shared.ErrSessionNotFound.
type SnapshotSource interface {
	Get(ctx context.Context, sessionID string) (quiz.SessionSnapshot, error)
}

// Snapshots resolves a session id against the live registry first and then
// against archived sources in order (cache before database).
type Snapshots struct {
	manager *Manager
	sources []SnapshotSource
}

// NewSnapshots creates a lookup chain.
func NewSnapshots(m *Manager, sources ...SnapshotSource) *Snapshots {
	s := &Snapshots{manager: m}
	for _, src := range sources {
		if src != nil {
			s.sources = append(s.sources, src)
		}
	}
	return s
}

// Get returns the freshest known snapshot of the session.
func (s *Snapshots) Get(ctx context.Context, sessionID string) (quiz.SessionSnapshot, error) {
	snap, err := s.manager.Get(sessionID)
	if err == nil {
		return snap, nil
	}

	var errs []error
	for _, src := range s.sources {
		snap, err := src.Get(ctx, sessionID)
		switch {
		case err == nil:
			return snap, nil
		case errors.Is(err, shared.ErrSessionNotFound):
		default:
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return quiz.SessionSnapshot{}, fmt.Errorf("lookup session %s: %w", sessionID, errors.Join(errs...))
	}
	return quiz.SessionSnapshot{}, shared.ErrSessionNotFound
}

// ActiveCount reports live sessions of the underlying manager.
func (s *Snapshots) ActiveCount() int {
	return s.manager.ActiveCount()
}
