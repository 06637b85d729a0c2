package relayq

import (
	"errors"
	"fmt"
	"time"
)

// Error classification codes. A settled failure carries exactly one code.
const (
	ErrorCodeSecurity       = "SECURITY_ERROR"
	ErrorCodeClient         = "CLIENT_ERROR"
	ErrorCodeRateLimit      = "RATE_LIMIT_ERROR"
	ErrorCodeServer         = "SERVER_ERROR"
	ErrorCodeTimeout        = "TIMEOUT_ERROR"
	ErrorCodeNetwork        = "NETWORK_ERROR"
	ErrorCodeCircuitOpen    = "CIRCUIT_OPEN"
	ErrorCodeInvalidRequest = "INVALID_REQUEST"
	ErrorCodeQueueFull      = "QUEUE_FULL"
	ErrorCodeClosed         = "CLIENT_CLOSED"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrInvalidRequest is returned when a submission is not a well-formed request.
	ErrInvalidRequest = errors.New("relayq: invalid request")

	// ErrQueueFull is returned when admission would exceed the queue bound.
	ErrQueueFull = errors.New("relayq: queue full")

	// ErrCircuitOpen is returned when the target's circuit breaker is open.
	ErrCircuitOpen = errors.New("relayq: circuit open")

	// ErrClosed is returned for work abandoned by Close and for submissions
	// made after Close.
	ErrClosed = errors.New("relayq: client closed")
)

// Error is a classified delivery error. It carries the taxonomy code, the
// retry policy that was applied and enough request context for diagnostics.
type Error struct {
	Code       string
	Message    string
	Cause      error
	Operation  string
	RequestID  string
	Status     int
	Attempt    int
	MaxRetries int
	Retryable  bool
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches sentinel errors and other *Error values by code.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrInvalidRequest:
		return e.Code == ErrorCodeInvalidRequest
	case ErrQueueFull:
		return e.Code == ErrorCodeQueueFull
	case ErrCircuitOpen:
		return e.Code == ErrorCodeCircuitOpen
	case ErrClosed:
		return e.Code == ErrorCodeClosed
	}
	if targetErr, ok := target.(*Error); ok {
		return e.Code == targetErr.Code
	}
	return false
}

// IsTransient determines if an error represents a transient failure that might
// succeed on retry. Returns true for network errors, timeouts, 5xx responses,
// rate limiting and an open circuit. Returns false for client, security and
// admission errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var derr *Error
	if errors.As(err, &derr) {
		switch derr.Code {
		case ErrorCodeNetwork, ErrorCodeTimeout, ErrorCodeServer, ErrorCodeRateLimit, ErrorCodeCircuitOpen:
			return true
		default:
			return false
		}
	}

	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *Error) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Code: %s\n", e.Code)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Operation != "" {
		info += fmt.Sprintf("Operation: %s\n", e.Operation)
	}
	if e.Status > 0 {
		info += fmt.Sprintf("Status: %d\n", e.Status)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxRetries)
	}
	info += fmt.Sprintf("Retryable: %v\n", e.Retryable)
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}
