package redis

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/quiz-engine/internal/domain/quiz"
	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

// SessionCache keeps finished session snapshots for a limited time so the
// transport can render results without touching the database.
type SessionCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewSessionCache creates a cache; ttl <= 0 means TTLSessionSnapshot.
func NewSessionCache(cache *Cache, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = TTLSessionSnapshot
	}
	return &SessionCache{cache: cache, ttl: ttl}
}

// Save implements session.Archive.
func (c *SessionCache) Save(ctx context.Context, snap quiz.SessionSnapshot) error {
	return c.cache.Set(ctx, PrefixSession+snap.ID, snap, c.ttl)
}

// Get returns a cached snapshot or shared.ErrSessionNotFound.
func (c *SessionCache) Get(ctx context.Context, sessionID string) (quiz.SessionSnapshot, error) {
	var snap quiz.SessionSnapshot
	err := c.cache.Get(ctx, PrefixSession+sessionID, &snap)
	if errors.Is(err, ErrCacheMiss) {
		return quiz.SessionSnapshot{}, shared.ErrSessionNotFound
	}
	return snap, err
}
