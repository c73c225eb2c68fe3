package template

import "errors"

var (
	// ErrNotFound is returned when a template does not exist.
	ErrNotFound = errors.New("template not found")

	// ErrInvalidTemplate is returned when a template is malformed. Surfaced
	// at admin-mutation time, before persistence.
	ErrInvalidTemplate = errors.New("invalid template")
)
