package console

import "time"

// Backoff computes capped exponential reconnect delays.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff is the reconnect curve used when none is configured:
// 1s initial, doubling, capped at 30s, unbounded attempts.
func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: 30 * time.Second}
}

// Delay returns the delay before the given attempt (1-based). The delay
// doubles per attempt and never exceeds Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 10 {
		shift = 10
	}
	delay := b.Initial << shift
	if delay > b.Max || delay < b.Initial {
		delay = b.Max
	}
	return delay
}
