// Package resilience guards calls to the network collaborators of a fill run
// (the Redis broker and the workbook object store) with circuit breakers.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the state of a circuit breaker
type State int32

const (
	// StateClosed - calls flow normally
	StateClosed State = iota
	// StateOpen - calls are rejected immediately
	StateOpen
	// StateHalfOpen - a limited number of probe calls are allowed through
	StateHalfOpen
)

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

var (
	// ErrCircuitOpen is returned when the circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyProbes is returned when the half-open probe budget is used up
	ErrTooManyProbes = errors.New("too many probes in half-open state")
)

// Config holds configuration for a circuit breaker
type Config struct {
	// Name identifies the breaker in logs
	Name string

	// Probes is the number of calls allowed in half-open state, and the number
	// of consecutive successes needed to close again
	Probes uint32

	// Window clears the closed-state counts periodically. Zero keeps them forever.
	Window time.Duration

	// Cooldown is how long the breaker stays open before probing
	Cooldown time.Duration

	// Trip decides, after a failure, whether the breaker opens
	Trip func(counts Counts) bool

	// OnStateChange is called whenever the state changes
	OnStateChange func(name string, from, to State)

	// Ignore reports errors that do not count as failures (e.g. a missing object)
	Ignore func(err error) bool
}

// BrokerConfig suits the Redis broker: progress is best-effort, so the breaker trips quickly
// and recovers quickly.
func BrokerConfig(name string) Config {
	return Config{
		Name:     name,
		Probes:   1,
		Window:   30 * time.Second,
		Cooldown: 10 * time.Second,
		Trip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

// StorageConfig suits object storage downloads
func StorageConfig(name string) Config {
	return Config{
		Name:     name,
		Probes:   2,
		Window:   60 * time.Second,
		Cooldown: 30 * time.Second,
		Trip: func(counts Counts) bool {
			// Trip if failure rate exceeds 60% with at least 5 requests
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.Failures)/float64(counts.Requests) >= 0.6
		},
	}
}

// LogStateChanges returns an OnStateChange hook that logs transitions
func LogStateChanges(logger *zap.Logger) func(name string, from, to State) {
	return func(name string, from, to State) {
		logger.Warn("circuit breaker state changed",
			zap.String("breaker", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
}

// Counts holds the numbers of calls in the current generation
type Counts struct {
	Requests             uint32
	Successes            uint32
	Failures             uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) success() {
	c.Successes++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.Failures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	cfg Config

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
	probes     uint32
}

// NewCircuitBreaker creates a circuit breaker, filling unset fields with defaults
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.Probes == 0 {
		cfg.Probes = 1
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Trip == nil {
		cfg.Trip = func(counts Counts) bool {
			return counts.ConsecutiveFailures > 5
		}
	}
	if cfg.Ignore == nil {
		cfg.Ignore = func(error) bool { return false }
	}

	cb := &CircuitBreaker{cfg: cfg}
	cb.newGeneration(time.Now())
	return cb
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, _ := cb.current(time.Now())
	return state
}

// Counts returns the counts of the current generation
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Do runs fn if the breaker allows it
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Call(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call runs fn through cb and returns its value
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	generation, err := cb.before()
	if err != nil {
		return zero, err
	}

	v, err := fn(ctx)
	cb.after(generation, err == nil || cb.cfg.Ignore(err))
	return v, err
}

func (cb *CircuitBreaker) before() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, generation := cb.current(time.Now())
	switch state {
	case StateOpen:
		return generation, ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.cfg.Probes {
			return generation, ErrTooManyProbes
		}
		cb.probes++
	}

	cb.counts.Requests++
	return generation, nil
}

func (cb *CircuitBreaker) after(before uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, generation := cb.current(now)
	// counts were reset while the call was in flight
	if generation != before {
		return
	}

	if success {
		cb.counts.success()
		if state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.Probes {
			cb.setState(StateClosed, now)
		}
		return
	}

	cb.counts.failure()
	switch state {
	case StateClosed:
		if cb.cfg.Trip(cb.counts) {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

func (cb *CircuitBreaker) current(now time.Time) (State, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.newGeneration(now)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state, cb.generation
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.newGeneration(now)

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, prev, state)
	}
}

func (cb *CircuitBreaker) newGeneration(now time.Time) {
	cb.generation++
	cb.counts = Counts{}
	cb.probes = 0

	switch cb.state {
	case StateClosed:
		if cb.cfg.Window > 0 {
			cb.expiry = now.Add(cb.cfg.Window)
		} else {
			cb.expiry = time.Time{}
		}
	case StateOpen:
		cb.expiry = now.Add(cb.cfg.Cooldown)
	case StateHalfOpen:
		cb.expiry = time.Time{}
	}
}
