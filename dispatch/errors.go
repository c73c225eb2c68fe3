package dispatch

import "errors"

var (
	// ErrPermanent marks a channel failure as unrecoverable (e.g. an invalid
	// address). Transports wrap such failures with it; the retry controller
	// never retries a delivery whose error matches errors.Is(err, ErrPermanent).
	ErrPermanent = errors.New("permanent delivery failure")

	// ErrNoTransport is returned when a notification requests a channel with
	// no registered transport. Treated as permanent.
	ErrNoTransport = errors.New("no transport registered for channel")

	// ErrAttemptTimeout is returned when a channel attempt exceeds the
	// per-attempt timeout. Treated as transient.
	ErrAttemptTimeout = errors.New("channel delivery attempt timed out")
)
