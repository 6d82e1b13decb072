package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/quiz-engine/internal/domain/shared"
	"github.com/alem-hub/quiz-engine/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS RELAY
// Пересылает события в канал Redis Pub/Sub, чтобы транспорт (бот) в другом
// процессе получал обратную связь и результаты. События из канала, пришедшие
// от других экземпляров, доставляются локальным подписчикам.
// ══════════════════════════════════════════════════════════════════════════════

// RedisRelay is an EventBus that fans events out through Redis Pub/Sub in
// addition to a local bus.
type RedisRelay struct {
	client     redis.UniversalClient
	local      *InMemoryEventBus
	channel    string
	instanceID string
	timeout    time.Duration
	breaker    *circuitbreaker.CircuitBreaker
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	pubsub *redis.PubSub
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// RedisRelayConfig contains configuration for RedisRelay.
type RedisRelayConfig struct {
	Client redis.UniversalClient

	// Channel defaults to "quiz:events".
	Channel string

	// InstanceID filters self-published messages; generated when empty.
	InstanceID string

	// PublishTimeout bounds each Redis PUBLISH.
	PublishTimeout time.Duration

	// Breaker skips PUBLISH while Redis keeps failing; nil means
	// circuitbreaker.RelayBreaker.
	Breaker *circuitbreaker.CircuitBreaker

	Local  *InMemoryEventBus
	Logger *slog.Logger
}

// NewRedisRelay subscribes to the channel and starts the receive loop.
func NewRedisRelay(cfg RedisRelayConfig) (*RedisRelay, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Local == nil {
		return nil, errors.New("local bus is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = "quiz:events"
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	log := cfg.Logger.With("component", "redis_relay")
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.RelayBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("relay circuit state changed", "from", from.String(), "to", to.String())
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &RedisRelay{
		client:     cfg.Client,
		local:      cfg.Local,
		channel:    cfg.Channel,
		instanceID: cfg.InstanceID,
		timeout:    cfg.PublishTimeout,
		breaker:    cfg.Breaker,
		logger:     log,
		ctx:        ctx,
		cancel:     cancel,
	}

	r.pubsub = cfg.Client.Subscribe(ctx, cfg.Channel)
	if _, err := r.pubsub.Receive(ctx); err != nil {
		cancel()
		_ = r.pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Channel, err)
	}

	r.wg.Add(1)
	go r.receiveLoop()
	return r, nil
}

// Subscribe registers a local handler.
func (r *RedisRelay) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return r.local.Subscribe(eventType, handler)
}

// SubscribeAll registers a local handler for all events.
func (r *RedisRelay) SubscribeAll(handler shared.EventHandler) error {
	return r.local.SubscribeAll(handler)
}

// Publish delivers locally and to Redis. A Redis failure is logged and does
// not prevent local delivery.
func (r *RedisRelay) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(Envelope{
		InstanceID:  r.instanceID,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	err = r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.client.Publish(ctx, r.channel, data).Err()
	})
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		r.logger.Debug("relay circuit open, event kept local", "event_type", event.EventType())
	case err != nil:
		r.logger.Error("publish to redis failed", "event_type", event.EventType(), "error", err)
	}

	return r.local.Publish(event)
}

func (r *RedisRelay) receiveLoop() {
	defer r.wg.Done()
	ch := r.pubsub.Channel()
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handleMessage(msg.Payload)
		}
	}
}

func (r *RedisRelay) handleMessage(payload string) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Error("malformed event envelope", "error", err)
		return
	}
	if env.InstanceID == r.instanceID {
		return
	}
	if err := r.local.Publish(remoteEvent{env: env}); err != nil {
		r.logger.Error("deliver remote event failed", "event_type", env.EventType, "error", err)
	}
}

// BreakerStats reports the publish circuit for /metrics.
func (r *RedisRelay) BreakerStats() circuitbreaker.Stats {
	return r.breaker.Stats()
}

// Close unsubscribes and closes the local bus.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	err := r.pubsub.Close()
	r.wg.Wait()
	if cerr := r.local.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// Envelope is the wire form of an event on the Redis channel.
type Envelope struct {
	InstanceID  string           `json:"instance_id"`
	EventType   shared.EventType `json:"event_type"`
	AggregateID string           `json:"aggregate_id"`
	OccurredAt  time.Time        `json:"occurred_at"`
	Payload     map[string]any   `json:"payload"`
}

// remoteEvent is an event received from another instance.
type remoteEvent struct {
	env Envelope
}

func (e remoteEvent) EventType() shared.EventType { return e.env.EventType }
func (e remoteEvent) OccurredAt() time.Time       { return e.env.OccurredAt }
func (e remoteEvent) AggregateID() string         { return e.env.AggregateID }
func (e remoteEvent) Payload() map[string]any     { return e.env.Payload }
