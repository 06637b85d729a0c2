package relayq

import (
	"context"
	"sync"
	"time"
)

// Client is the delivery orchestrator: the only component that talks to the
// Transport. It drains the priority queue one concurrency slot at a time,
// applies the retry engine, coalesces identical in-flight submissions and
// records observable history and metrics. Safe for concurrent use.
type Client struct {
	transport Transport
	queue     *Queue
	retry     *RetryEngine
	history   *historyRing
	metrics   *MetricsCollector
	logger    Logger
	debug     bool

	timeout   time.Duration
	baseDelay time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	inflight map[string]*QueuedRequest // fingerprint -> dispatched request
	active   map[string]*ActiveRequest // id -> diagnostics
	draining bool
	closed   bool

	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	totalResponseTime  time.Duration

	cfg             clientConfig
	validationError error
}

// clientConfig accumulates option values until New assembles the components.
type clientConfig struct {
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
	jitter        float64
	timeout       time.Duration
	maxConcurrent int
	maxQueueSize  int
	historySize   int
	dedupFields   map[string][]string
	store         Store
	storageKey    string
	freshness     time.Duration
	breaker       CircuitBreakerConfig
	retryEngine   *RetryEngine
}

// New constructs a Client using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		cfg: clientConfig{
			maxRetries:    3,
			baseDelay:     time.Second,
			maxDelay:      30 * time.Second,
			jitter:        0.1,
			timeout:       30 * time.Second,
			maxConcurrent: 1,
			maxQueueSize:  100,
			historySize:   100,
		},
		inflight: make(map[string]*QueuedRequest),
		active:   make(map[string]*ActiveRequest),
	}

	for _, option := range options {
		option(client)
	}

	if err := client.validateConfiguration(); err != nil {
		client.validationError = err
	}

	client.retry = client.cfg.retryEngine
	if client.retry == nil {
		client.retry = NewRetryEngine(RetryEngineConfig{
			MaxRetries: client.cfg.maxRetries,
			MaxDelay:   client.cfg.maxDelay,
			Jitter:     client.cfg.jitter,
			Breaker:    client.cfg.breaker,
		})
	}
	client.queue = NewQueue(QueueConfig{
		MaxSize:       client.cfg.maxQueueSize,
		MaxConcurrent: client.cfg.maxConcurrent,
		DedupFields:   client.cfg.dedupFields,
		Store:         client.cfg.store,
		StorageKey:    client.cfg.storageKey,
		Freshness:     client.cfg.freshness,
		Logger:        client.logger,
		Metrics:       client.metrics,
	})
	client.history = newHistoryRing(client.cfg.historySize)
	client.timeout = client.cfg.timeout
	client.baseDelay = client.cfg.baseDelay
	client.baseCtx, client.cancel = context.WithCancel(context.Background())

	// Work restored from a snapshot should start draining immediately.
	if client.queue.Size() > 0 && client.validationError == nil {
		client.kickDrain()
	}

	return client
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// Queue exposes the underlying priority queue for diagnostics surfaces.
func (c *Client) Queue() *Queue {
	return c.queue
}

// RetryEngine exposes the retry engine so embedders can tune error policies
// or reset breakers at runtime.
func (c *Client) RetryEngine() *RetryEngine {
	return c.retry
}

// Submit delivers an operation and blocks until it settles. Identical
// concurrent submissions coalesce: in-flight matches attach to the running
// call, queued matches share the pending entry's settlement. Admission
// failures (invalid request, queue full) return synchronously.
func (c *Client) Submit(ctx context.Context, operation string, payload map[string]any, opts ...SubmitOption) (any, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}

	so := submitOptions{priority: PriorityNormal}
	for _, opt := range opts {
		opt(&so)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &Error{
			Code:      ErrorCodeClosed,
			Message:   "submit after close",
			Operation: operation,
			Timestamp: time.Now(),
		}
	}

	fp := c.queue.fingerprintFor(operation, payload)
	if running, ok := c.inflight[fp]; ok {
		c.mu.Unlock()
		c.metrics.RecordDedup("inflight", operation)
		if c.debug && c.logger != nil {
			c.logger.Debug("coalesced into in-flight request",
				"operation", operation, "fingerprint", fp)
		}
		return running.wait(ctx)
	}

	r := newQueuedRequest(operation, payload, so.priority)
	r.ID = so.requestID
	r.Fingerprint = fp
	r.timeout = so.timeout
	r.maxRetries = so.maxRetries

	// Enqueue under c.mu so the request cannot slip between the in-flight
	// check and queue admission while drain moves entries across.
	queued, err := c.queue.Enqueue(r)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if c.debug && c.logger != nil && queued == r {
		c.logger.Debug("request enqueued",
			"requestID", r.ID, "operation", operation, "priority", r.Priority.String())
	}

	c.kickDrain()
	return queued.wait(ctx)
}

// kickDrain starts the cooperative drain loop unless one is already running.
// It is called after every enqueue and every settlement.
func (c *Client) kickDrain() {
	c.mu.Lock()
	if c.draining || c.closed {
		c.mu.Unlock()
		return
	}
	c.draining = true
	c.mu.Unlock()

	go c.drain()
}

// drain pops work while a concurrency slot is available, re-checking lane
// order on every step. With the default budget of 1 this serializes
// delivery end to end.
func (c *Client) drain() {
	for {
		c.mu.Lock()
		if c.closed {
			c.draining = false
			c.mu.Unlock()
			return
		}
		if !c.queue.tryAcquire() {
			c.draining = false
			c.mu.Unlock()
			return
		}
		r := c.queue.Dequeue()
		if r == nil {
			c.queue.release()
			c.draining = false
			c.mu.Unlock()
			return
		}
		c.inflight[r.Fingerprint] = r
		c.active[r.ID] = &ActiveRequest{
			ID:        r.ID,
			Operation: r.Operation,
			StartedAt: time.Now(),
			Attempt:   1,
		}
		c.mu.Unlock()

		c.metrics.RecordDispatchStart()
		go c.dispatch(r)
	}
}

// dispatch drives one request to a terminal outcome. The request holds its
// concurrency slot through every retry wait, so partial progress is never
// interleaved with unrelated work when only one slot exists.
func (c *Client) dispatch(r *QueuedRequest) {
	started := time.Now()
	attempt := 1
	timeout := r.timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	for {
		if c.retry.IsCircuitOpen(r.Operation) {
			if c.logger != nil {
				c.logger.Warn("circuit open, failing fast",
					"requestID", r.ID, "operation", r.Operation)
			}
			c.finish(r, nil, &Error{
				Code:       ErrorCodeCircuitOpen,
				Message:    "circuit breaker is open for target",
				Operation:  r.Operation,
				RequestID:  r.ID,
				Attempt:    attempt,
				MaxRetries: c.cfg.maxRetries,
				Timestamp:  time.Now(),
				Duration:   time.Since(started),
			}, started, attempt)
			return
		}

		attemptCtx, cancel := context.WithTimeout(c.baseCtx, timeout)
		result, err := c.transport.Send(attemptCtx, r.Operation, r.Payload)
		cancel()

		if err == nil {
			c.retry.UpdateCircuitBreaker(r.Operation, true)
			c.recordBreakerState(r.Operation)
			c.finish(r, result, nil, started, attempt)
			return
		}

		if c.isClosed() {
			c.abandon(r)
			return
		}

		cls := c.retry.Classify(err)
		if c.retry.ShouldRetry(err, attempt, RetryOptions{Target: r.Operation, MaxRetries: r.maxRetries}) {
			delay := c.retry.CalculateDelay(attempt, c.baseDelay, cls.Code)
			attempt++
			c.metrics.RecordRetry(r.Operation, attempt)
			c.setActiveAttempt(r.ID, attempt)
			if c.debug && c.logger != nil {
				c.logger.Info("scheduling retry",
					"requestID", r.ID, "operation", r.Operation,
					"attempt", attempt, "code", cls.Code, "backoff", delay)
			}

			select {
			case <-time.After(delay):
				continue
			case <-c.baseCtx.Done():
				c.abandon(r)
				return
			}
		}

		c.retry.UpdateCircuitBreaker(r.Operation, false)
		c.recordBreakerState(r.Operation)
		maxRetries := cls.MaxRetries
		if r.maxRetries > 0 {
			maxRetries = r.maxRetries
		}
		c.finish(r, nil, &Error{
			Code:       cls.Code,
			Message:    "delivery failed",
			Cause:      err,
			Operation:  r.Operation,
			RequestID:  r.ID,
			Status:     statusOf(err),
			Attempt:    attempt,
			MaxRetries: maxRetries,
			Retryable:  cls.Retryable,
			Timestamp:  time.Now(),
			Duration:   time.Since(started),
		}, started, attempt)
		return
	}
}

// finish settles a request with its terminal outcome, releases the slot,
// records history + metrics and continues draining.
func (c *Client) finish(r *QueuedRequest, result any, derr *Error, started time.Time, attempt int) {
	if derr != nil {
		r.settle(nil, derr)
	} else {
		r.settle(result, nil)
	}

	c.mu.Lock()
	delete(c.inflight, r.Fingerprint)
	delete(c.active, r.ID)
	duration := time.Since(started)
	c.totalRequests++
	c.totalResponseTime += duration
	if derr == nil {
		c.successfulRequests++
	} else {
		c.failedRequests++
	}
	c.mu.Unlock()

	status := HistoryStatusSuccess
	errorCode := ""
	if derr != nil {
		status = HistoryStatusError
		errorCode = derr.Code
		c.metrics.RecordError(derr.Code, r.Operation)
		if c.logger != nil {
			c.logger.Warn("request failed",
				"requestID", r.ID, "operation", r.Operation,
				"code", derr.Code, "attempts", attempt)
		}
	} else if c.debug && c.logger != nil {
		c.logger.Debug("request settled",
			"requestID", r.ID, "operation", r.Operation, "attempts", attempt)
	}

	c.history.append(HistoryRecord{
		ID:        r.ID,
		Operation: r.Operation,
		Status:    status,
		ErrorCode: errorCode,
		StartedAt: started,
		Duration:  duration,
	})
	c.metrics.RecordRequest(r.Operation, status, duration)
	c.metrics.RecordDispatchEnd()

	c.queue.release()
	c.kickDrain()
}

// abandon settles work dropped by Close. Abandoned requests count neither
// as success nor failure: no breaker update, no history record.
func (c *Client) abandon(r *QueuedRequest) {
	r.settle(nil, &Error{
		Code:      ErrorCodeClosed,
		Message:   "client closed during delivery",
		Operation: r.Operation,
		RequestID: r.ID,
		Timestamp: time.Now(),
	})

	c.mu.Lock()
	delete(c.inflight, r.Fingerprint)
	delete(c.active, r.ID)
	c.mu.Unlock()

	c.metrics.RecordDispatchEnd()
	c.queue.release()
}

func (c *Client) setActiveAttempt(id string, attempt int) {
	c.mu.Lock()
	if ar, ok := c.active[id]; ok {
		ar.Attempt = attempt
	}
	c.mu.Unlock()
}

func (c *Client) recordBreakerState(target string) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordCircuitBreakerState(target, c.retry.CircuitBreakerStatus(target).State)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Metrics aggregates orchestrator counters with the queue's metrics and,
// when the transport exposes its own, those under Transport. A transport
// without metrics leaves Transport nil.
func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	m := Metrics{
		TotalRequests:      c.totalRequests,
		SuccessfulRequests: c.successfulRequests,
		FailedRequests:     c.failedRequests,
	}
	if c.totalRequests > 0 {
		m.AverageResponseTime = c.totalResponseTime / time.Duration(c.totalRequests)
		m.SuccessRate = float64(c.successfulRequests) / float64(c.totalRequests)
	}
	c.mu.Unlock()

	m.Queue = c.queue.Metrics()
	if tm, ok := c.transport.(TransportMetrics); ok {
		m.Transport = tm.Metrics()
	}
	return m
}

// Metrics aggregates delivery counters for diagnostics surfaces.
type Metrics struct {
	TotalRequests       int64
	SuccessfulRequests  int64
	FailedRequests      int64
	AverageResponseTime time.Duration
	SuccessRate         float64
	Queue               QueueMetrics
	Transport           map[string]any
}

// Status is a point-in-time view of the client for diagnostics UIs.
type Status struct {
	Closed          bool
	Draining        bool
	Active          []ActiveRequest
	Queue           QueueMetrics
	CircuitBreakers map[string]CircuitBreakerStatus
}

// GetStatus snapshots the drain state, active requests and breakers.
func (c *Client) GetStatus() Status {
	c.mu.Lock()
	st := Status{
		Closed:   c.closed,
		Draining: c.draining,
		Active:   make([]ActiveRequest, 0, len(c.active)),
	}
	for _, ar := range c.active {
		st.Active = append(st.Active, *ar)
	}
	c.mu.Unlock()

	st.Queue = c.queue.Metrics()
	st.CircuitBreakers = c.retry.AllCircuitBreakerStatuses()
	return st
}

// History returns the settlement records, oldest first.
func (c *Client) History() []HistoryRecord {
	return c.history.snapshot()
}

// Close tears the client down: queued work settles with ErrClosed, in-flight
// work is abandoned (no breaker accounting), history is cleared. Idempotent
// and safe to call mid-drain. Submissions after Close fail immediately.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.draining = false
	c.inflight = make(map[string]*QueuedRequest)
	c.active = make(map[string]*ActiveRequest)
	c.mu.Unlock()

	c.cancel()
	c.queue.Clear()
	c.history.clear()
	return nil
}
