package feed

import "time"

// RetryPolicy describes a bounded exponential backoff schedule. It is used
// for the reconciliation fetch that runs after each (re)connect.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultFetchRetry matches the reconciliation fetch schedule: up to three
// retries delayed 2s, 4s, 8s, capped at 10s.
var DefaultFetchRetry = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  time.Second,
	MaxDelay:   10 * time.Second,
}

// Delay returns the backoff before the given retry attempt (attempt >= 1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// ReconnectPolicy describes the channel reconnect schedule: a fixed interval
// repeated indefinitely. It is deliberately distinct from RetryPolicy; the two
// schedules serve different failure modes and are kept as separate named
// policies.
type ReconnectPolicy struct {
	Interval time.Duration
}

// DefaultReconnect retries the channel connection every five seconds.
var DefaultReconnect = ReconnectPolicy{Interval: 5 * time.Second}
