// Package backoff computes retry delays for failed job executions.
// Policies are value types and safe for concurrent use.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy selects how the delay grows with the attempt number.
type Strategy string

const (
	// Fixed always waits InitialDelay.
	Fixed Strategy = "fixed"
	// Linear waits InitialDelay * attempt.
	Linear Strategy = "linear"
	// Exponential waits InitialDelay * 2^(attempt-1).
	Exponential Strategy = "exponential"
)

// Policy describes the retry budget and delay curve for a job kind.
// Delays are always clamped to [InitialDelay, MaxDelay].
type Policy struct {
	// MaxAttempts is the total number of attempts a job instance may use,
	// including the first one. Must be >= 1.
	MaxAttempts int

	// Strategy selects the delay curve.
	Strategy Strategy

	// InitialDelay is the delay before the first retry. Must be > 0.
	InitialDelay time.Duration

	// MaxDelay caps the delay. Must be >= InitialDelay.
	MaxDelay time.Duration

	// Jitter is the fraction (0..1) of the computed delay randomized as
	// ± Jitter * delay to spread out simultaneous retries. The jittered
	// delay is re-clamped so it never leaves [InitialDelay, MaxDelay].
	// Zero disables jitter.
	Jitter float64
}

// Default returns the policy used when a definition does not set one:
// 3 attempts, exponential from 1s capped at 1m, 10% jitter.
func Default() Policy {
	return Policy{
		MaxAttempts:  3,
		Strategy:     Exponential,
		InitialDelay: 1 * time.Second,
		MaxDelay:     1 * time.Minute,
		Jitter:       0.1,
	}
}

// Validate reports whether the policy is well formed. Registration treats
// a malformed policy as a fatal startup error.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("backoff: max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	switch p.Strategy {
	case Fixed, Linear, Exponential:
	default:
		return fmt.Errorf("backoff: unknown strategy %q", p.Strategy)
	}
	if p.InitialDelay <= 0 {
		return fmt.Errorf("backoff: initial delay must be > 0, got %v", p.InitialDelay)
	}
	if p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("backoff: max delay %v is below initial delay %v", p.MaxDelay, p.InitialDelay)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("backoff: jitter must be in [0, 1], got %v", p.Jitter)
	}
	return nil
}

// Delay returns how long to wait before retry attempt n (1-indexed: the
// attempt number that just failed). The result is clamped to
// [InitialDelay, MaxDelay] before and after jitter is applied.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch p.Strategy {
	case Linear:
		d = saturatingDuration(float64(p.InitialDelay) * float64(attempt))
	case Exponential:
		d = saturatingDuration(float64(p.InitialDelay) * math.Pow(2, float64(attempt-1)))
	default: // Fixed
		d = p.InitialDelay
	}
	d = p.clamp(d)

	if p.Jitter > 0 {
		// Uniform in [-Jitter, +Jitter] of the clamped delay.
		spread := (rand.Float64()*2 - 1) * p.Jitter * float64(d) //nolint:gosec // jitter intentionally uses non-crypto rand
		d = p.clamp(d + time.Duration(spread))
	}

	return d
}

// saturatingDuration converts a float delay to a Duration, pinning
// overflow at the maximum value so large attempt numbers clamp to
// MaxDelay rather than wrapping negative.
func saturatingDuration(f float64) time.Duration {
	if f >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

func (p Policy) clamp(d time.Duration) time.Duration {
	if d < p.InitialDelay {
		return p.InitialDelay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
