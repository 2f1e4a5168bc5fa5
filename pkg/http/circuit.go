package http

import (
	"errors"
	"sync"
	"time"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	// CircuitClosed passes every request.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the open timeout elapses.
	CircuitOpen
	// CircuitHalfOpen admits a few trial requests.
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

// ErrCircuitOpen is returned while the breaker rejects requests. It is
// transient: the batch is kept for a later flush.
var ErrCircuitOpen = &circuitOpenError{}

type circuitOpenError struct{}

func (*circuitOpenError) Error() string     { return "agentreplay: circuit breaker is open" }
func (*circuitOpenError) IsRetryable() bool { return true }

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default 5.
	FailureThreshold int

	// SuccessThreshold is the number of half-open successes that closes it.
	// Default 2.
	SuccessThreshold int

	// Timeout is how long the circuit stays open. Default 30s.
	Timeout time.Duration

	// HalfOpenMaxRequests bounds concurrent trial requests. Default 1.
	HalfOpenMaxRequests int

	// OnStateChange is invoked asynchronously on every transition.
	OnStateChange func(from, to CircuitState)

	// IsFailure decides which errors count. Nil counts every error except
	// those declaring themselves non-retryable, such as 4xx responses.
	IsFailure func(err error) bool

	now func() time.Time
}

// CircuitBreaker fails fast while the ingestion server is unhealthy.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu               sync.Mutex
	state            CircuitState
	consecutive      int
	successes        int
	halfOpenRequests int
	openedAt         time.Time
	failures         int64
	rejected         int64
}

// NewCircuitBreaker creates a breaker, filling unset fields with defaults.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = countsAsFailure
	}
	if config.now == nil {
		config.now = time.Now
	}
	return &CircuitBreaker{config: config}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState reports half-open once the open timeout has elapsed.
// Callers hold mu.
func (cb *CircuitBreaker) currentState() CircuitState {
	if cb.state == CircuitOpen && cb.config.now().Sub(cb.openedAt) >= cb.config.Timeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Execute runs fn if the breaker admits it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.Record(err)
	return err
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		if cb.state == CircuitOpen {
			cb.setState(CircuitHalfOpen)
		}
		if cb.halfOpenRequests < cb.config.HalfOpenMaxRequests {
			cb.halfOpenRequests++
			return true
		}
	}
	cb.rejected++
	return false
}

// Record records the outcome of an admitted request. nil is a success.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil && cb.config.IsFailure(err)
	if failed {
		cb.failures++
	}

	switch cb.currentState() {
	case CircuitClosed:
		if !failed {
			cb.consecutive = 0
			return
		}
		cb.consecutive++
		if cb.consecutive >= cb.config.FailureThreshold {
			cb.open()
		}
	case CircuitHalfOpen:
		if cb.halfOpenRequests > 0 {
			cb.halfOpenRequests--
		}
		if failed {
			cb.open()
			return
		}
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(CircuitClosed)
		}
	}
}

// Reset closes the circuit and clears the counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(CircuitClosed)
	cb.failures = 0
	cb.rejected = 0
}

// CircuitStats is a snapshot of breaker counters.
type CircuitStats struct {
	State             CircuitState
	ConsecutiveErrors int
	Failures          int64
	Rejected          int64
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() CircuitStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitStats{
		State:             cb.currentState(),
		ConsecutiveErrors: cb.consecutive,
		Failures:          cb.failures,
		Rejected:          cb.rejected,
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.config.now()
	cb.setState(CircuitOpen)
}

// setState transitions and resets per-state counters. Callers hold mu.
func (cb *CircuitBreaker) setState(next CircuitState) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next

	switch next {
	case CircuitClosed:
		cb.consecutive = 0
		cb.successes = 0
		cb.halfOpenRequests = 0
	case CircuitHalfOpen:
		cb.successes = 0
		cb.halfOpenRequests = 0
	}

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(prev, next)
	}
}

func countsAsFailure(err error) bool {
	var re RetryableError
	if errors.As(err, &re) {
		return re.IsRetryable()
	}
	return true
}

// IsCircuitOpen reports whether err came from an open breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
