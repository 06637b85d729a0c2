package relayq

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Classification is the taxonomy decision for a failure, resolved against
// the engine's policy table.
type Classification struct {
	Code              string
	Retryable         bool
	MaxRetries        int
	BackoffMultiplier float64
}

var securityPatterns = []string{
	"unauthorized",
	"forbidden",
	"permission",
	"invalid token",
	"invalid security token",
	"nonce",
	"auth",
}

var timeoutPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"aborted",
	"canceled",
	"cancelled",
}

var networkPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"network error",
	"failed to fetch",
	"eof",
}

// Classify maps an arbitrary transport failure to exactly one taxonomy code
// and resolves the retry policy for that code. Precedence: security, rate
// limit, other 4xx, 5xx, timeout, network. Unrecognized errors default to
// the non-retryable CLIENT_ERROR unless they match a connectivity pattern.
func (e *RetryEngine) Classify(err error) Classification {
	return e.classification(classifyCode(err))
}

func classifyCode(err error) string {
	if err == nil {
		return ErrorCodeClient
	}

	status := statusOf(err)
	msg := strings.ToLower(err.Error())

	switch {
	case status == 401 || status == 403:
		return ErrorCodeSecurity
	case matchesAny(msg, securityPatterns):
		return ErrorCodeSecurity
	case status == 429:
		return ErrorCodeRateLimit
	case status >= 400 && status < 500:
		return ErrorCodeClient
	case status >= 500 && status < 600:
		return ErrorCodeServer
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorCodeTimeout
		}
		return ErrorCodeNetwork
	}
	if matchesAny(msg, timeoutPatterns) {
		return ErrorCodeTimeout
	}
	if matchesAny(msg, networkPatterns) {
		return ErrorCodeNetwork
	}

	// Unknown shape: the conservative choice is a terminal failure.
	return ErrorCodeClient
}

// statusOf extracts an HTTP-like status from the error chain, 0 when none.
func statusOf(err error) int {
	var derr *Error
	if errors.As(err, &derr) && derr.Status > 0 {
		return derr.Status
	}
	var serr StatusError
	if errors.As(err, &serr) {
		return serr.StatusCode()
	}
	return 0
}

func matchesAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
