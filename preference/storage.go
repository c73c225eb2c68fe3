package preference

import "context"

// Storage persists per-user notification policies.
type Storage interface {
	// Get returns the stored policy for a user, or ErrNotFound.
	Get(ctx context.Context, userID string) (Preferences, error)

	// Save stores a policy, replacing any previous version.
	Save(ctx context.Context, prefs Preferences) error

	// ListUserIDs returns the IDs of every user with a stored policy. The
	// digest aggregator uses it to find users enrolled in digest cycles.
	ListUserIDs(ctx context.Context) ([]string, error)
}
