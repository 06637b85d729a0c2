package relayq

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Transport delivers a single operation to the remote endpoint. It is the
// only boundary relayq has: encoding, endpoint URL and credentials all live
// behind it. Send must honor ctx cancellation and should return an error
// implementing StatusError when an HTTP-like status is derivable.
type Transport interface {
	Send(ctx context.Context, operation string, payload map[string]any) (any, error)
}

// TransportMetrics is optionally implemented by transports that expose their
// own counters. Client.Metrics merges them under the Transport key.
type TransportMetrics interface {
	Metrics() map[string]any
}

// StatusError is implemented by transport errors carrying a status code.
type StatusError interface {
	error
	StatusCode() int
}

// Priority selects the queue lane. The zero value is PriorityNormal; values
// outside the known set normalize to normal.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityLow
)

// String returns the lane name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// ParsePriority maps a lane name to a Priority. Unknown names normalize to
// PriorityNormal.
func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

func (p Priority) normalize() Priority {
	if p < PriorityNormal || p > PriorityLow {
		return PriorityNormal
	}
	return p
}

// MarshalJSON encodes the lane name so snapshots stay readable.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON normalizes unknown lane names to normal.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = ParsePriority(s)
	return nil
}

// QueuedRequest is a pending operation. The queue owns it from Enqueue until
// Dequeue; after that ownership passes to the client's in-flight tracking.
// Callers deduplicated against it share its settlement.
type QueuedRequest struct {
	ID          string
	Operation   string
	Payload     map[string]any
	Priority    Priority
	EnqueuedAt  time.Time
	Fingerprint string

	// Per-request overrides, zero means client default.
	timeout    time.Duration
	maxRetries int

	once   sync.Once
	done   chan struct{}
	result any
	err    error
}

func newQueuedRequest(operation string, payload map[string]any, priority Priority) *QueuedRequest {
	return &QueuedRequest{
		Operation: operation,
		Payload:   payload,
		Priority:  priority.normalize(),
		done:      make(chan struct{}),
	}
}

// settle resolves the request exactly once and releases every waiter.
func (r *QueuedRequest) settle(result any, err error) {
	r.once.Do(func() {
		r.result = result
		r.err = err
		close(r.done)
	})
}

// wait blocks until settlement or ctx cancellation. A caller that gives up
// does not cancel delivery; the request settles on its own schedule.
func (r *QueuedRequest) wait(ctx context.Context) (any, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ActiveRequest describes an in-flight operation for diagnostics.
type ActiveRequest struct {
	ID        string
	Operation string
	StartedAt time.Time
	Attempt   int
}
