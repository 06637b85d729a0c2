package relayq

import "time"

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// String returns the lower-case state name.
func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig holds circuit breaker thresholds.
type CircuitBreakerConfig struct {
	// FailureThreshold is the failure rate above which the circuit trips.
	FailureThreshold float64
	// MinimumRequests is the observation volume required before tripping.
	MinimumRequests int
	// Timeout is how long an open circuit waits before allowing a trial.
	Timeout time.Duration
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 0.5
	}
	if c.MinimumRequests == 0 {
		c.MinimumRequests = 3
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// CircuitBreaker tracks failures for one operation target. It is owned by
// the RetryEngine and mutated only under the engine's lock.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	state  CircuitState

	failures      int64
	successes     int64
	totalRequests int64

	lastFailure time.Time
	lastSuccess time.Time
}

// CircuitBreakerStatus is a read-only snapshot of one breaker.
type CircuitBreakerStatus struct {
	Target        string
	State         CircuitState
	Failures      int64
	Successes     int64
	TotalRequests int64
	FailureRate   float64
	LastFailure   time.Time
	LastSuccess   time.Time
}

func newCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{config: config, state: StateClosed}
}

// refresh performs the lazy OPEN -> HALF_OPEN transition. There is no
// background timer; the state advances when somebody asks.
func (cb *CircuitBreaker) refresh(now time.Time) {
	if cb.state == StateOpen && now.Sub(cb.lastFailure) >= cb.config.Timeout {
		cb.state = StateHalfOpen
	}
}

func (cb *CircuitBreaker) record(success bool, now time.Time) {
	cb.refresh(now)

	cb.totalRequests++
	if success {
		cb.successes++
		cb.lastSuccess = now
	} else {
		cb.failures++
		cb.lastFailure = now
	}

	switch cb.state {
	case StateClosed:
		if !success &&
			cb.totalRequests >= int64(cb.config.MinimumRequests) &&
			cb.failureRate() > cb.config.FailureThreshold {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		if success {
			// Fresh trial window after recovery.
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
			cb.totalRequests = 0
		} else {
			cb.state = StateOpen
		}
	case StateOpen:
		// lastFailure already moved, which restarts the recovery timer.
	}
}

func (cb *CircuitBreaker) failureRate() float64 {
	if cb.totalRequests == 0 {
		return 0
	}
	return float64(cb.failures) / float64(cb.totalRequests)
}

func (cb *CircuitBreaker) status(target string) CircuitBreakerStatus {
	return CircuitBreakerStatus{
		Target:        target,
		State:         cb.state,
		Failures:      cb.failures,
		Successes:     cb.successes,
		TotalRequests: cb.totalRequests,
		FailureRate:   cb.failureRate(),
		LastFailure:   cb.lastFailure,
		LastSuccess:   cb.lastSuccess,
	}
}

func (e *RetryEngine) breaker(target string) *CircuitBreaker {
	cb, ok := e.breakers[target]
	if !ok {
		cb = newCircuitBreaker(e.breakerConfig)
		e.breakers[target] = cb
	}
	return cb
}

// IsCircuitOpen reports whether the target's circuit is logically open. The
// lazy half-open check runs first, so the first query after the recovery
// timeout reports false and admits a trial request.
func (e *RetryEngine) IsCircuitOpen(target string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	cb, ok := e.breakers[target]
	if !ok {
		return false
	}
	cb.refresh(e.now())
	return cb.state == StateOpen
}

// UpdateCircuitBreaker records the outcome of a terminal delivery attempt
// for the target.
func (e *RetryEngine) UpdateCircuitBreaker(target string, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.breaker(target).record(success, e.now())
}

// ResetCircuitBreaker forces the target's breaker back to CLOSED with all
// counters zeroed. Intended for manual recovery and tests.
func (e *RetryEngine) ResetCircuitBreaker(target string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cb, ok := e.breakers[target]
	if !ok {
		return
	}
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.totalRequests = 0
}

// CircuitBreakerStatus returns a snapshot for one target. Unknown targets
// report a closed breaker with zero counters.
func (e *RetryEngine) CircuitBreakerStatus(target string) CircuitBreakerStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	cb, ok := e.breakers[target]
	if !ok {
		return CircuitBreakerStatus{Target: target, State: StateClosed}
	}
	cb.refresh(e.now())
	return cb.status(target)
}

// AllCircuitBreakerStatuses snapshots every tracked target.
func (e *RetryEngine) AllCircuitBreakerStatuses() map[string]CircuitBreakerStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]CircuitBreakerStatus, len(e.breakers))
	now := e.now()
	for target, cb := range e.breakers {
		cb.refresh(now)
		out[target] = cb.status(target)
	}
	return out
}
