package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal state; calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls immediately after repeated failures.
	CircuitOpen
	// CircuitHalfOpen lets a probe call through to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected by an open circuit.
// The matcher treats it like any other embedding failure and falls back
// to lexical scoring.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls when the breaker opens and recovers.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before allowing a
	// half-open probe. Default: 30s.
	ResetTimeout time.Duration
}

// CircuitBreaker guards a single external service. Once the embedding
// service trips the breaker, the whole batch degrades to lexical scoring
// without paying a timeout per record.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu               sync.Mutex
	state            CircuitState
	failures         int
	openedAt         time.Time
	nowFunc          func() time.Time
	announcedOpening bool
}

// NewCircuitBreaker creates a breaker with defaults applied.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// State returns the current circuit state, applying the open→half-open
// transition if the reset timeout has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() CircuitState {
	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.state = CircuitHalfOpen
	}
	return cb.state
}

// Execute runs fn if the circuit allows it. A rejected call returns
// ErrCircuitOpen without invoking fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	cb.mu.Lock()
	state := cb.stateLocked()
	if state == CircuitOpen {
		cb.mu.Unlock()
		return ErrCircuitOpen
	}
	cb.mu.Unlock()

	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || !IsTransient(err) {
		// Success (or a permanent error that says nothing about service
		// health) closes a half-open circuit and clears the failure count.
		if cb.state != CircuitClosed {
			zap.L().Info("circuit breaker closed", zap.String("from", cb.state.String()))
		}
		cb.state = CircuitClosed
		cb.failures = 0
		cb.announcedOpening = false
		return
	}

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.nowFunc()
		if !cb.announcedOpening {
			zap.L().Warn("circuit breaker opened",
				zap.Int("consecutive_failures", cb.failures),
				zap.Duration("reset_timeout", cb.cfg.ResetTimeout),
			)
			cb.announcedOpening = true
		}
	}
}
