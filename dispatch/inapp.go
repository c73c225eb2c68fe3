package dispatch

import (
	"context"

	"github.com/soundrise/notify/notification"
)

// InAppTransport serves the in-app channel. Persistence is the delivery
// mechanism for in-app notifications: once stored they show up in the user's
// feed and live subscribers learn about them through the state hub, so the
// transport itself has nothing left to do.
type InAppTransport struct{}

// NewInAppTransport creates the in-app transport.
func NewInAppTransport() *InAppTransport {
	return &InAppTransport{}
}

func (t *InAppTransport) Deliver(ctx context.Context, n notification.Notification) error {
	return nil
}
