package preference

import "errors"

var (
	// ErrSuppressed is returned by Engine.Evaluate when policy drops a
	// notification before it is ever queued. It is a policy outcome, not a
	// delivery failure, and is never surfaced to callers of Send.
	ErrSuppressed = errors.New("notification suppressed by user preferences")

	// ErrInvalidPreferences is returned when a preference mutation carries a
	// malformed policy. Surfaced at admin-mutation time, before persistence.
	ErrInvalidPreferences = errors.New("invalid preferences")

	// ErrNotFound is returned when no preferences are stored for a user.
	ErrNotFound = errors.New("preferences not found")
)
