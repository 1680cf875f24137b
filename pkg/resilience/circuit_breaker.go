package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"sharedcounter/pkg/logger"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
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

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// Cooldown is how long the circuit stays open before one trial call
	Cooldown time.Duration
}

// DefaultCircuitBreakerConfig suits helper spawning: three rejected
// launches in a row pause spawning for 30 seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker stops calling an operation that keeps failing. It never
// retries on its own: a rejected call returns ErrCircuitOpen and the caller
// decides what to do on its next tick.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	now    func() time.Time
	log    *zap.Logger

	mu          sync.Mutex
	state       CircuitState
	failures    int
	trialActive bool
	openedAt    time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given name and config
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		log:    logger.WithFields(zap.String("component", "breaker"), zap.String("breaker", name)),
		state:  CircuitClosed,
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState reports open circuits past their cooldown as half-open (must hold lock)
func (cb *CircuitBreaker) currentState() CircuitState {
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.config.Cooldown {
		return CircuitHalfOpen
	}
	return cb.state
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case CircuitOpen:
		return ErrCircuitOpen
	case CircuitHalfOpen:
		// One trial call at a time.
		if cb.trialActive {
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.trialActive = true
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasTrial := cb.trialActive
	cb.trialActive = false

	if err == nil {
		if cb.state != CircuitClosed {
			cb.log.Info("Circuit closed")
		}
		cb.state = CircuitClosed
		cb.failures = 0
		return
	}

	cb.failures++
	if wasTrial || cb.failures >= cb.config.FailureThreshold {
		if cb.state != CircuitOpen {
			cb.log.Warn("Circuit opened", zap.Int("failures", cb.failures), zap.Duration("cooldown", cb.config.Cooldown))
		}
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}

// Reset resets the circuit breaker to its initial state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.trialActive = false
}

// Snapshot is a point-in-time view of a breaker
type Snapshot struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// Snapshot returns current circuit breaker metrics
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:     cb.name,
		State:    cb.currentState().String(),
		Failures: cb.failures,
	}
}
