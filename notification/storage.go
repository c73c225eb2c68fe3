package notification

import (
	"context"
	"time"
)

// Storage handles notification persistence and retrieval. The engine keeps the
// in-memory queue authoritative until writes succeed, so implementations must
// tolerate repeated writes of the same notification (idempotent upserts).
type Storage interface {
	// Create stores a new notification.
	Create(ctx context.Context, n Notification) error

	// Get retrieves a single notification by ID.
	Get(ctx context.Context, id string) (*Notification, error)

	// Update replaces the stored notification with the given one.
	Update(ctx context.Context, n Notification) error

	// List returns notifications for a user, newest first.
	List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error)

	// CountUnread returns the number of unread, unexpired notifications.
	CountUnread(ctx context.Context, userID string) (int, error)

	// MarkIncludedInDigest stamps notifications as consumed by a digest cycle.
	MarkIncludedInDigest(ctx context.Context, ids ...string) error

	// Delete removes notifications belonging to a user.
	Delete(ctx context.Context, userID string, ids ...string) error
}

// ListOptions provides filtering and pagination for listing notifications.
type ListOptions struct {
	Limit      int        // Maximum number of notifications to return (0 = no limit)
	Offset     int        // Number of notifications to skip for pagination
	OnlyUnread bool       // When true, only return unread notifications
	Category   Category   // If non-empty, only return notifications of this category
	Type       string     // If non-empty, only return notifications of this type
	Since      *time.Time // If set, only return notifications created after this time

	// DigestCandidates restricts the result to notifications eligible for
	// digest aggregation: not archived and not yet included in a digest.
	DigestCandidates bool
}
