package relayq

import (
	"sync"
	"time"

	"github.com/ardikapras/relayq/internal/backoff"
)

// ErrorPolicy describes how failures of one classification are retried.
type ErrorPolicy struct {
	Retryable         bool
	MaxRetries        int
	BackoffMultiplier float64
}

// PolicyOverride merges into an existing ErrorPolicy; nil fields keep the
// current value.
type PolicyOverride struct {
	Retryable         *bool
	MaxRetries        *int
	BackoffMultiplier *float64
}

// RetryOptions carries per-call overrides for ShouldRetry.
type RetryOptions struct {
	// Target keys the circuit breaker; usually the operation name.
	Target string
	// MaxRetries overrides the classification's limit when > 0.
	MaxRetries int
}

// RetryEngineConfig configures a RetryEngine. Zero values pick defaults.
type RetryEngineConfig struct {
	MaxRetries int           // default 3
	MaxDelay   time.Duration // default 30s
	Jitter     float64       // default 0.1, symmetric
	Breaker    CircuitBreakerConfig
}

// RetryEngine owns the error classification policy table and the per-target
// circuit breakers. It is safe for concurrent use.
type RetryEngine struct {
	mu       sync.RWMutex
	policies map[string]ErrorPolicy
	breakers map[string]*CircuitBreaker

	breakerConfig CircuitBreakerConfig
	maxDelay      time.Duration
	jitter        float64
	calculator    *backoff.Calculator
	now           func() time.Time
}

// NewRetryEngine creates a retry engine with the default policy table.
func NewRetryEngine(config RetryEngineConfig) *RetryEngine {
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.MaxDelay == 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Jitter == 0 {
		config.Jitter = 0.1
	}
	config.Breaker = config.Breaker.withDefaults()

	return &RetryEngine{
		policies:      defaultPolicies(config.MaxRetries),
		breakers:      make(map[string]*CircuitBreaker),
		breakerConfig: config.Breaker,
		maxDelay:      config.MaxDelay,
		jitter:        config.Jitter,
		calculator:    backoff.GetExponentialJitterCalculator(),
		now:           time.Now,
	}
}

// Rate-limited targets need more cooldown than flaky networks, so the
// multiplier steepens per classification.
func defaultPolicies(maxRetries int) map[string]ErrorPolicy {
	return map[string]ErrorPolicy{
		ErrorCodeSecurity:  {Retryable: false, MaxRetries: 0, BackoffMultiplier: 1.0},
		ErrorCodeClient:    {Retryable: false, MaxRetries: 0, BackoffMultiplier: 1.0},
		ErrorCodeRateLimit: {Retryable: true, MaxRetries: maxRetries, BackoffMultiplier: 3.0},
		ErrorCodeServer:    {Retryable: true, MaxRetries: maxRetries, BackoffMultiplier: 2.0},
		ErrorCodeTimeout:   {Retryable: true, MaxRetries: maxRetries, BackoffMultiplier: 2.0},
		ErrorCodeNetwork:   {Retryable: true, MaxRetries: maxRetries, BackoffMultiplier: 1.5},
	}
}

func (e *RetryEngine) classification(code string) Classification {
	e.mu.RLock()
	policy, ok := e.policies[code]
	e.mu.RUnlock()
	if !ok {
		policy = ErrorPolicy{Retryable: false, BackoffMultiplier: 2.0}
	}
	return Classification{
		Code:              code,
		Retryable:         policy.Retryable,
		MaxRetries:        policy.MaxRetries,
		BackoffMultiplier: policy.BackoffMultiplier,
	}
}

// Policy returns the current policy for a classification code.
func (e *RetryEngine) Policy(code string) (ErrorPolicy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	policy, ok := e.policies[code]
	return policy, ok
}

// SetErrorPolicy merges the override into the policy for code. Unset fields
// are preserved, so adjusting MaxRetries never resets Retryable.
func (e *RetryEngine) SetErrorPolicy(code string, override PolicyOverride) {
	e.mu.Lock()
	defer e.mu.Unlock()

	policy := e.policies[code]
	if override.Retryable != nil {
		policy.Retryable = *override.Retryable
	}
	if override.MaxRetries != nil {
		policy.MaxRetries = *override.MaxRetries
	}
	if override.BackoffMultiplier != nil {
		policy.BackoffMultiplier = *override.BackoffMultiplier
	}
	e.policies[code] = policy
}

// ShouldRetry reports whether a failed attempt should be retried. It is
// false when the classification is non-retryable, when attempt has reached
// the retry limit, or when the target's circuit is open.
func (e *RetryEngine) ShouldRetry(err error, attempt int, opts RetryOptions) bool {
	cls := e.Classify(err)
	if !cls.Retryable {
		return false
	}

	maxRetries := cls.MaxRetries
	if opts.MaxRetries > 0 {
		maxRetries = opts.MaxRetries
	}
	if attempt >= maxRetries {
		return false
	}

	if opts.Target != "" && e.IsCircuitOpen(opts.Target) {
		return false
	}
	return true
}

// CalculateDelay returns the backoff delay before the given attempt:
// base * multiplier^attempt with the classification's multiplier, symmetric
// jitter, clamped to [100ms, MaxDelay].
func (e *RetryEngine) CalculateDelay(attempt int, base time.Duration, code string) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	multiplier := e.classification(code).BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	return e.calculator.Calculate(attempt, base, e.maxDelay, multiplier, e.jitter)
}
