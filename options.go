package relayq

import (
	"fmt"
	"time"
)

// Option represents a configuration option.
type Option func(*Client)

// WithTransport sets the transport that delivers operations. Required.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithMaxRetries sets the default maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.cfg.maxRetries = n
	}
}

// WithBaseDelay sets the base backoff delay for the first retry.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		c.cfg.baseDelay = d
	}
}

// WithMaxDelay sets the backoff ceiling.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) {
		c.cfg.maxDelay = d
	}
}

// WithJitter sets the symmetric jitter factor for backoff (0.0 to 1.0).
func WithJitter(f float64) Option {
	return func(c *Client) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		c.cfg.jitter = f
	}
}

// WithTimeout sets the per-attempt delivery timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.cfg.timeout = d
	}
}

// WithMaxConcurrent sets the in-flight budget. The default of 1 serializes
// delivery so writes to shared remote state cannot race.
func WithMaxConcurrent(n int) Option {
	return func(c *Client) {
		c.cfg.maxConcurrent = n
	}
}

// WithMaxQueueSize bounds total pending work across all lanes.
func WithMaxQueueSize(n int) Option {
	return func(c *Client) {
		c.cfg.maxQueueSize = n
	}
}

// WithHistorySize bounds the settlement history ring.
func WithHistorySize(n int) Option {
	return func(c *Client) {
		c.cfg.historySize = n
	}
}

// WithDedupKeys declares which payload fields feed the fingerprint for an
// operation. Undeclared operations hash the whole payload.
func WithDedupKeys(operation string, fields ...string) Option {
	return func(c *Client) {
		if c.cfg.dedupFields == nil {
			c.cfg.dedupFields = make(map[string][]string)
		}
		c.cfg.dedupFields[operation] = fields
	}
}

// WithPersistence enables durable queue snapshots under the given key.
func WithPersistence(store Store, storageKey string) Option {
	return func(c *Client) {
		c.cfg.store = store
		c.cfg.storageKey = storageKey
	}
}

// WithFreshnessWindow bounds how old a restored snapshot may be. Stale
// snapshots are discarded, not replayed.
func WithFreshnessWindow(d time.Duration) Option {
	return func(c *Client) {
		c.cfg.freshness = d
	}
}

// WithCircuitBreaker sets the circuit breaker thresholds.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.cfg.breaker = config
	}
}

// WithRetryEngine injects a pre-built retry engine, e.g. one shared across
// clients or pre-tuned with SetErrorPolicy.
func WithRetryEngine(engine *RetryEngine) Option {
	return func(c *Client) {
		c.cfg.retryEngine = engine
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		c.logger = NewSimpleLogger()
		c.debug = true
	}
}

// WithDebug enables debug-level logging on the configured logger.
func WithDebug() Option {
	return func(c *Client) {
		c.debug = true
	}
}

// SubmitOption overrides per-request behavior.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	priority   Priority
	timeout    time.Duration
	maxRetries int
	requestID  string
}

// WithPriority selects the queue lane for this request.
func WithPriority(p Priority) SubmitOption {
	return func(o *submitOptions) {
		o.priority = p
	}
}

// WithRequestTimeout overrides the per-attempt timeout for this request.
func WithRequestTimeout(d time.Duration) SubmitOption {
	return func(o *submitOptions) {
		o.timeout = d
	}
}

// WithRequestRetries overrides the retry limit for this request.
func WithRequestRetries(n int) SubmitOption {
	return func(o *submitOptions) {
		o.maxRetries = n
	}
}

// WithRequestID supplies the request id instead of generating one.
func WithRequestID(id string) SubmitOption {
	return func(o *submitOptions) {
		o.requestID = id
	}
}

// validateConfiguration checks option combinations at construction time.
func (c *Client) validateConfiguration() error {
	var problems []string

	if c.transport == nil {
		problems = append(problems, "transport must be set")
	}
	if c.cfg.maxRetries < 0 {
		problems = append(problems, "maxRetries must be non-negative")
	}
	if c.cfg.baseDelay <= 0 {
		problems = append(problems, "baseDelay must be positive")
	}
	if c.cfg.maxDelay < c.cfg.baseDelay {
		problems = append(problems, "maxDelay must be greater than or equal to baseDelay")
	}
	if c.cfg.jitter < 0 || c.cfg.jitter > 1 {
		problems = append(problems, "jitter must be between 0 and 1")
	}
	if c.cfg.timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if c.cfg.maxConcurrent < 1 {
		problems = append(problems, "maxConcurrent must be at least 1")
	}
	if c.cfg.maxQueueSize < 1 {
		problems = append(problems, "maxQueueSize must be at least 1")
	}
	if c.cfg.historySize < 1 {
		problems = append(problems, "historySize must be at least 1")
	}
	if c.cfg.store != nil && c.cfg.storageKey == "" {
		problems = append(problems, "storageKey must be set when persistence is enabled")
	}
	if c.cfg.store == nil && c.cfg.storageKey != "" {
		problems = append(problems, "store must be set when a storageKey is configured")
	}
	if c.cfg.breaker.FailureThreshold < 0 || c.cfg.breaker.FailureThreshold > 1 {
		problems = append(problems, "circuit breaker FailureThreshold must be between 0 and 1")
	}

	if len(problems) > 0 {
		return &Error{
			Code:    ErrorCodeInvalidRequest,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", problems),
		}
	}
	return nil
}
