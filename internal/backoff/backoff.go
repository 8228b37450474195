package backoff

import (
	"math"
	"math/rand"
	"time"
)

const (
	PolicyFixed       = "fixed"
	PolicyLinear      = "linear"
	PolicyExponential = "exponential"
	PolicyFullJitter  = "exp_full_jitter"
)

// maxShift bounds the exponent so base<<attempt cannot overflow.
const maxShift = 30

// Compute returns the wait before the next status check. attempt counts the
// checks already made and is expected to be >= 0. Unknown policies behave as fixed.
func Compute(policy string, base, max time.Duration, attempt int, rng *rand.Rand) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		base = time.Millisecond
	}
	if max <= 0 || max < base {
		max = base
	}
	switch policy {
	case PolicyLinear:
		return minDuration(base*time.Duration(attempt+1), max)
	case PolicyExponential:
		return exponential(base, max, attempt)
	case PolicyFullJitter:
		if rng == nil {
			rng = rand.New(rand.NewSource(1))
		}
		ceiling := exponential(base, max, attempt)
		return time.Duration(rng.Int63n(int64(ceiling) + 1))
	default:
		return base
	}
}

// Valid reports whether policy is a known name.
func Valid(policy string) bool {
	switch policy {
	case PolicyFixed, PolicyLinear, PolicyExponential, PolicyFullJitter:
		return true
	}
	return false
}

func exponential(base, max time.Duration, attempt int) time.Duration {
	if attempt > maxShift {
		return max
	}
	d := float64(base) * math.Pow(2, float64(attempt))
	if d >= float64(max) {
		return max
	}
	return time.Duration(d)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
