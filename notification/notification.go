package notification

import (
	"time"
)

// Channel represents a delivery mechanism for a notification.
type Channel string

const (
	ChannelPush    Channel = "push"
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelInApp   Channel = "in_app"
	ChannelWebhook Channel = "webhook"
)

// Category groups notifications by product area.
type Category string

const (
	CategorySystem      Category = "system"
	CategorySocial      Category = "social"
	CategoryMusic       Category = "music"
	CategoryBattle      Category = "battle"
	CategoryAchievement Category = "achievement"
	CategorySecurity    Category = "security"
	CategoryMarketing   Category = "marketing"
)

// Categories lists all known categories.
func Categories() []Category {
	return []Category{
		CategorySystem,
		CategorySocial,
		CategoryMusic,
		CategoryBattle,
		CategoryAchievement,
		CategorySecurity,
		CategoryMarketing,
	}
}

// Valid reports whether the category is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// TypeDigest is the notification type used for synthetic digest notifications
// created by the digest aggregator.
const TypeDigest = "digest"

// Priority represents the notification priority level.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name back to its ordinal value.
// Unknown names map to PriorityNormal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// ChannelStatus is the per-channel delivery state.
type ChannelStatus string

const (
	ChannelStatusPending   ChannelStatus = "pending"
	ChannelStatusSent      ChannelStatus = "sent"
	ChannelStatusDelivered ChannelStatus = "delivered"
	ChannelStatusFailed    ChannelStatus = "failed"
	ChannelStatusBounced   ChannelStatus = "bounced"
)

// DeliveryStatus is the aggregate delivery state across all channels.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryPartial   DeliveryStatus = "partial"
	DeliveryFailed    DeliveryStatus = "failed"
)

// ChannelDelivery tracks the outcome of delivery attempts on one channel.
// It is owned exclusively by its parent Notification.
type ChannelDelivery struct {
	Channel     Channel       `json:"channel"`
	Enabled     bool          `json:"enabled"`
	Status      ChannelStatus `json:"status"`
	SentAt      *time.Time    `json:"sent_at,omitempty"`
	DeliveredAt *time.Time    `json:"delivered_at,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Notification is the core domain model.
type Notification struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	Type     string   `json:"type"`
	Category Category `json:"category"`
	Priority Priority `json:"priority"`

	Title   string `json:"title"`
	Message string `json:"message"`
	Summary string `json:"summary,omitempty"`

	Channels   []Channel         `json:"channels"`
	Deliveries []ChannelDelivery `json:"deliveries,omitempty"`

	Read      bool `json:"read"`
	Seen      bool `json:"seen"`
	Dismissed bool `json:"dismissed"`
	Archived  bool `json:"archived"`

	// IncludedInDigest marks notifications already rolled into a digest so
	// they are excluded from future digest cycles.
	IncludedInDigest bool `json:"included_in_digest"`

	ScheduledAt time.Time  `json:"scheduled_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`

	DeliveryAttempts int      `json:"delivery_attempts"`
	DeliveryErrors   []string `json:"delivery_errors,omitempty"`
}

// IsExpired returns true if the notification has expired at the given instant.
func (n *Notification) IsExpired(now time.Time) bool {
	if n.ExpiresAt == nil {
		return false
	}
	return now.After(*n.ExpiresAt)
}

// Delivery returns the delivery record for the given channel, or nil.
func (n *Notification) Delivery(ch Channel) *ChannelDelivery {
	for i := range n.Deliveries {
		if n.Deliveries[i].Channel == ch {
			return &n.Deliveries[i]
		}
	}
	return nil
}

// InitDeliveries resets the delivery records to one pending record per channel
// in the notification's channel set.
func (n *Notification) InitDeliveries() {
	n.Deliveries = make([]ChannelDelivery, 0, len(n.Channels))
	for _, ch := range n.Channels {
		n.Deliveries = append(n.Deliveries, ChannelDelivery{
			Channel: ch,
			Enabled: true,
			Status:  ChannelStatusPending,
		})
	}
}

// DeliveryStatus derives the aggregate delivery status from the channel
// records: delivered if every attempted channel succeeded, failed if every
// attempted channel failed, partial for a mix, pending if nothing has been
// attempted yet.
func (n *Notification) DeliveryStatus() DeliveryStatus {
	var succeeded, failed int
	for _, d := range n.Deliveries {
		if !d.Enabled {
			continue
		}
		switch d.Status {
		case ChannelStatusSent, ChannelStatusDelivered:
			succeeded++
		case ChannelStatusFailed, ChannelStatusBounced:
			failed++
		}
	}

	switch {
	case succeeded == 0 && failed == 0:
		return DeliveryPending
	case failed == 0:
		return DeliveryDelivered
	case succeeded == 0:
		return DeliveryFailed
	default:
		return DeliveryPartial
	}
}
