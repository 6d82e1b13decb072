// Package circuitbreaker stops calling a failing best-effort dependency for a
// while. The quiz engine guards replica writes (Redis snapshot cache) and
// event relay publishes with it, so a flapping Redis does not add latency to
// every hand-off.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// StateClosed - вызовы проходят.
	StateClosed State = iota
	// StateOpen - вызовы отклоняются до истечения Cooldown.
	StateOpen
	// StateHalfOpen - пропускается ограниченное число пробных вызовов.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText allows State to appear as a string in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ErrOpen is returned without calling the guarded function while the circuit
// is open or the half-open probe budget is used up.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker configuration.
type Config struct {
	Name string

	// FailureThreshold - подряд идущих ошибок до размыкания.
	FailureThreshold int

	// SuccessThreshold - успешных проб в half-open до замыкания.
	SuccessThreshold int

	// Cooldown - сколько цепь остаётся разомкнутой.
	Cooldown time.Duration

	// HalfOpenProbes - одновременных проб в half-open.
	HalfOpenProbes int

	// OnStateChange is called under the breaker lock; it must not call back
	// into the breaker.
	OnStateChange func(name string, from, to State)

	// IsFailure classifies errors. The default ignores context cancellation
	// since that is the caller giving up, not the dependency failing.
	IsFailure func(error) bool

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Option is a functional option for configuring the circuit breaker.
type Option func(*Config)

// WithFailureThreshold sets the failure threshold.
func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

// WithSuccessThreshold sets the success threshold.
func WithSuccessThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SuccessThreshold = n
		}
	}
}

// WithCooldown sets how long the circuit stays open.
func WithCooldown(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Cooldown = d
		}
	}
}

// WithHalfOpenProbes sets how many probes run in half-open state.
func WithHalfOpenProbes(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.HalfOpenProbes = n
		}
	}
}

// WithOnStateChange sets the state change callback.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) { c.OnStateChange = fn }
}

// WithIsFailure sets the failure classifier.
func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) { c.IsFailure = fn }
}

// WithClock sets the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Now = now }
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Stats is a point-in-time view for /metrics.
type Stats struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	Calls               int       `json:"calls"`
	Failures            int       `json:"failures"`
	Rejected            int       `json:"rejected"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	cfg Config

	mu        sync.Mutex
	state     State
	openedAt  time.Time
	probes    int
	successes int
	failures  int
	stats     Stats
}

// New creates a CircuitBreaker: 5 failures open it for 30s, 2 successful
// probes close it.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
		HalfOpenProbes:   1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg, stats: Stats{Name: name}}
}

// Execute runs fn unless the circuit is open, in which case it returns
// ErrOpen. The error of fn is returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.release(err)
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && !cb.cfg.Now().Before(cb.openedAt.Add(cb.cfg.Cooldown)) {
		cb.transition(StateHalfOpen)
	}
	switch cb.state {
	case StateOpen:
		cb.stats.Rejected++
		return ErrOpen
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenProbes {
			cb.stats.Rejected++
			return ErrOpen
		}
		cb.probes++
	}
	cb.stats.Calls++
	return nil
}

func (cb *CircuitBreaker) release(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}

	if err != nil && cb.cfg.IsFailure(err) {
		cb.stats.Failures++
		cb.failures++
		cb.successes = 0
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.openedAt = cb.cfg.Now()
			cb.transition(StateOpen)
		}
		return
	}

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.probes, cb.successes = 0, 0
	if to != StateOpen {
		cb.failures = 0
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the current state. An open circuit whose cooldown has
// elapsed is reported as half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && !cb.cfg.Now().Before(cb.openedAt.Add(cb.cfg.Cooldown)) {
		return StateHalfOpen
	}
	return cb.state
}

// Stats returns counters and the current state.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	s := cb.stats
	s.State = cb.state
	s.ConsecutiveFailures = cb.failures
	if cb.state == StateOpen {
		s.OpenedAt = cb.openedAt
	}
	cb.mu.Unlock()
	return s
}

// Reset closes the circuit and clears counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.probes, cb.successes, cb.failures = 0, 0, 0
	cb.stats = Stats{Name: cb.cfg.Name}
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Presets for the quiz engine.

// ReplicaBreaker guards best-effort archive replicas. Replicas are optional,
// so it opens quickly and stays open long enough for Redis to recover.
func ReplicaBreaker(name string, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(name,
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithCooldown(30*time.Second),
		WithOnStateChange(onStateChange),
	)
}

// RelayBreaker guards cross-instance event publishing.
func RelayBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("event-relay",
		WithFailureThreshold(5),
		WithSuccessThreshold(2),
		WithCooldown(10*time.Second),
		WithHalfOpenProbes(2),
		WithOnStateChange(onStateChange),
	)
}
