package syncer

import "time"

// Backoff computes the delay before a nacked entry becomes eligible
// again: min(Max, Base * 2^retryCount).
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is the production schedule: 2s, 4s, 8s, ... capped at
// five minutes.
var DefaultBackoff = Backoff{Base: 2 * time.Second, Max: 5 * time.Minute}

// Delay returns the backoff delay for the given retry count.
// retryCount is the count before the increment, so the first failure
// waits Base.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	// Shifting past 62 bits overflows Duration; anything that far is
	// capped anyway.
	if retryCount > 32 {
		return b.Max
	}
	d := b.Base << uint(retryCount)
	if d <= 0 || d > b.Max {
		return b.Max
	}
	return d
}
