// Package backoff centralizes retry delay calculation for the delivery
// client and the retry engine.
package backoff

import (
	"math/rand"
	"time"
)

// MinDelay is the floor applied to every computed delay.
const MinDelay = 100 * time.Millisecond

// Strategy defines the interface for backoff calculation algorithms.
type Strategy interface {
	// Calculate returns the delay before the given attempt number.
	Calculate(attempt int, base, max time.Duration, multiplier, jitter float64) time.Duration
}

// Calculator computes delays using a configurable Strategy.
type Calculator struct {
	strategy Strategy
}

// NewCalculator creates a backoff calculator with the specified strategy.
func NewCalculator(strategy Strategy) *Calculator {
	return &Calculator{strategy: strategy}
}

// Calculate computes the delay for the given attempt and parameters.
func (c *Calculator) Calculate(attempt int, base, max time.Duration, multiplier, jitter float64) time.Duration {
	return c.strategy.Calculate(attempt, base, max, multiplier, jitter)
}

// GetExponentialJitterCalculator returns a calculator configured with the
// exponential symmetric-jitter strategy, the default for delivery retries.
func GetExponentialJitterCalculator() *Calculator {
	return NewCalculator(ExponentialJitterStrategy{})
}

// ExponentialJitterStrategy implements base * multiplier^attempt with
// symmetric jitter: the computed value is perturbed by up to ±jitter of
// itself, then clamped to [MinDelay, max].
type ExponentialJitterStrategy struct{}

// Calculate implements the Strategy interface.
func (s ExponentialJitterStrategy) Calculate(attempt int, base, max time.Duration, multiplier, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	// Prevent overflow by limiting attempt
	if attempt > 30 {
		attempt = 30
	}

	delay := float64(base) * Pow(multiplier, attempt)
	if delay < 0 || delay > float64(max) {
		delay = float64(max)
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		span := delay * jitter
		delay = delay - span + 2*span*rand.Float64()
	}

	if delay < float64(MinDelay) {
		delay = float64(MinDelay)
	}
	if delay > float64(max) {
		delay = float64(max)
	}
	return time.Duration(delay)
}

// clampJitter ensures jitter is within valid bounds [0, 1].
func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// Pow calculates base^exponent using integer exponentiation.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
