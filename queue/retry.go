package queue

import "time"

// DefaultMaxRetries bounds channel-level retry attempts.
const DefaultMaxRetries = 3

// RetryPolicy applies bounded linear backoff to transient channel failures:
// attempt n is rescheduled Delay*n after it failed.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetryPolicy returns the engine's default retry behavior.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		Delay:      5 * time.Second,
	}
}

// Exhausted reports whether an item with the given attempt count is out of
// retries and must fail permanently.
func (p RetryPolicy) Exhausted(attempts int) bool {
	max := p.MaxRetries
	if max <= 0 {
		max = DefaultMaxRetries
	}
	return attempts >= max
}

// NextDelay returns the backoff before the given attempt is retried.
// Attempts start at 1 for the first delivery attempt.
func (p RetryPolicy) NextDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	delay := p.Delay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return delay * time.Duration(attempts)
}
