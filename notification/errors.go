package notification

import "errors"

var (
	// ErrNotFound is returned when a notification is not found.
	ErrNotFound = errors.New("notification not found")

	// ErrMissingID is returned when a notification has no ID.
	ErrMissingID = errors.New("notification ID is required")

	// ErrMissingUserID is returned when a notification has no recipient.
	ErrMissingUserID = errors.New("user ID is required")

	// ErrDuplicateID is returned when creating a notification whose ID already exists.
	ErrDuplicateID = errors.New("notification ID already exists")
)
