package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/quiz-engine/internal/domain/progress"
	"github.com/alem-hub/quiz-engine/internal/domain/shared"
	"github.com/alem-hub/quiz-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS STORE
// Запись хранится как JSON под progress:<quiz>:<student>. Обновление идёт
// через WATCH/MULTI: если ключ изменился между чтением и EXEC, транзакция
// отклоняется (TxFailedErr) и цикл повторяется с новым чтением.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressStore implements progress.Store on Redis.
type ProgressStore struct {
	cache   *Cache
	retrier *retry.Retrier
}

// NewProgressStore creates a store with the default CAS retry policy.
func NewProgressStore(cache *Cache) *ProgressStore {
	return &ProgressStore{
		cache:   cache,
		retrier: retry.ProgressCASRetrier(redis.TxFailedErr),
	}
}

// WithRetrier overrides the CAS retry policy.
func (s *ProgressStore) WithRetrier(r *retry.Retrier) *ProgressStore {
	s.retrier = r
	return s
}

func (s *ProgressStore) recordKey(key progress.Key) string {
	return s.cache.Key(PrefixProgress + string(key.QuizID) + ":" + string(key.StudentID))
}

func (s *ProgressStore) indexKey(quizID string) string {
	return s.cache.Key(PrefixProgressIndex + quizID)
}

// Get implements progress.Store.
func (s *ProgressStore) Get(ctx context.Context, key progress.Key) (progress.Record, error) {
	data, err := s.cache.client.Get(ctx, s.recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return progress.Record{}, shared.ErrProgressNotFound
	}
	if err != nil {
		return progress.Record{}, fmt.Errorf("get progress: %w", err)
	}
	return decodeRecord(data)
}

// Update implements progress.Store with optimistic concurrency.
func (s *ProgressStore) Update(ctx context.Context, key progress.Key, fn progress.UpdateFunc) (progress.Record, error) {
	rk := s.recordKey(key)
	ik := s.indexKey(string(key.QuizID))

	var out progress.Record
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.cache.client.Watch(ctx, func(tx *redis.Tx) error {
			rec := progress.NewRecord(key)
			data, err := tx.Get(ctx, rk).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				if rec, err = decodeRecord(data); err != nil {
					return retry.Permanent(err)
				}
			}

			if err := fn(&rec); err != nil {
				return retry.Permanent(err)
			}
			encoded, err := json.Marshal(rec)
			if err != nil {
				return retry.Permanent(fmt.Errorf("%w: %v", ErrCacheSerialization, err))
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, rk, encoded, 0)
				pipe.SAdd(ctx, ik, rk)
				return nil
			})
			if err == nil {
				out = rec
			}
			return err
		}, rk)
	})

	if errors.Is(err, redis.TxFailedErr) {
		return progress.Record{}, shared.WrapError("progress", "Update", shared.ErrConcurrentModification,
			"progress record changed concurrently", err)
	}
	if err != nil {
		return progress.Record{}, err
	}
	return out, nil
}

// ListByQuiz implements progress.Store.
func (s *ProgressStore) ListByQuiz(ctx context.Context, quizID string) ([]progress.Record, error) {
	keys, err := s.cache.client.SMembers(ctx, s.indexKey(quizID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list progress index: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.cache.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load progress records: %w", err)
	}

	out := make([]progress.Record, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeRecord(data []byte) (progress.Record, error) {
	var rec progress.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return progress.Record{}, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return rec, nil
}
