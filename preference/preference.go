package preference

import (
	"fmt"
	"time"

	"github.com/soundrise/notify/notification"
)

// DigestFrequency controls how often a category's notifications are batched
// into a digest. An empty value means the category is never digested.
type DigestFrequency string

const (
	DigestNone   DigestFrequency = ""
	DigestDaily  DigestFrequency = "daily"
	DigestWeekly DigestFrequency = "weekly"
)

// QuietHours defines a per-user time window during which non-urgent
// notifications are delayed until the window ends. The window may wrap around
// midnight (e.g. start 22:00, end 08:00).
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`    // "15:04" wall-clock time
	End      string `json:"end"`      // "15:04" wall-clock time
	Timezone string `json:"timezone"` // IANA name, defaults to UTC

	// Days lists the weekdays the window is active on. Empty means every day.
	Days []time.Weekday `json:"days,omitempty"`

	// EmergencyOverride lets urgent notifications bypass the window.
	EmergencyOverride bool `json:"emergency_override"`
}

// FrequencyLimits caps how many notifications a user receives.
type FrequencyLimits struct {
	MaxPerHour int           `json:"max_per_hour"` // 0 = unlimited
	MaxPerDay  int           `json:"max_per_day"`  // 0 = unlimited
	BurstLimit int           `json:"burst_limit"`  // max sends within the cooldown window, 0 = unlimited
	Cooldown   time.Duration `json:"cooldown"`
}

// ChannelPreference controls a single delivery channel.
type ChannelPreference struct {
	Enabled bool `json:"enabled"`

	// MinPriority is the lowest priority delivered on this channel.
	MinPriority notification.Priority `json:"min_priority"`
}

// TypePreference controls a single notification type.
type TypePreference struct {
	Enabled bool `json:"enabled"`

	// Channels restricts the type to a channel subset. Empty means no restriction.
	Channels []notification.Channel `json:"channels,omitempty"`

	// Grouped marks the type as groupable in UI feeds.
	Grouped bool `json:"grouped"`
}

// CategoryPreference controls a notification category.
type CategoryPreference struct {
	Enabled bool `json:"enabled"`

	// Channels restricts the category to a channel subset. Empty means no restriction.
	Channels []notification.Channel `json:"channels,omitempty"`

	MinPriority notification.Priority `json:"min_priority"`

	// BatchDelivery marks the category as eligible for batched delivery.
	BatchDelivery bool `json:"batch_delivery"`

	// DigestFrequency enrolls the category into periodic digests.
	DigestFrequency DigestFrequency `json:"digest_frequency,omitempty"`

	// DigestChannel is the channel digests for this category are sent on.
	// Defaults to email when unset.
	DigestChannel notification.Channel `json:"digest_channel,omitempty"`
}

// Preferences is the per-user notification policy. Mutations go through
// Engine.UpdatePreferences which bumps Version.
type Preferences struct {
	UserID  string `json:"user_id"`
	Enabled bool   `json:"enabled"`
	Version int    `json:"version"`

	QuietHours QuietHours      `json:"quiet_hours"`
	Limits     FrequencyLimits `json:"limits"`

	Channels   map[notification.Channel]ChannelPreference   `json:"channels"`
	Types      map[string]TypePreference                    `json:"types,omitempty"`
	Categories map[notification.Category]CategoryPreference `json:"categories"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Default returns the policy applied to users who never touched their settings:
// everything enabled, no quiet hours, no limits.
func Default(userID string) Preferences {
	channels := make(map[notification.Channel]ChannelPreference)
	for _, ch := range []notification.Channel{
		notification.ChannelPush,
		notification.ChannelEmail,
		notification.ChannelSMS,
		notification.ChannelInApp,
		notification.ChannelWebhook,
	} {
		channels[ch] = ChannelPreference{Enabled: true, MinPriority: notification.PriorityLow}
	}

	categories := make(map[notification.Category]CategoryPreference)
	for _, cat := range notification.Categories() {
		categories[cat] = CategoryPreference{Enabled: true, MinPriority: notification.PriorityLow}
	}

	return Preferences{
		UserID:     userID,
		Enabled:    true,
		Version:    1,
		Channels:   channels,
		Categories: categories,
	}
}

// Validate rejects malformed policies before they are persisted.
func (p Preferences) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("%w: user ID is required", ErrInvalidPreferences)
	}
	if p.QuietHours.Enabled {
		if _, err := parseClock(p.QuietHours.Start); err != nil {
			return fmt.Errorf("%w: quiet hours start %q: %v", ErrInvalidPreferences, p.QuietHours.Start, err)
		}
		if _, err := parseClock(p.QuietHours.End); err != nil {
			return fmt.Errorf("%w: quiet hours end %q: %v", ErrInvalidPreferences, p.QuietHours.End, err)
		}
		if p.QuietHours.Timezone != "" {
			if _, err := time.LoadLocation(p.QuietHours.Timezone); err != nil {
				return fmt.Errorf("%w: quiet hours timezone %q: %v", ErrInvalidPreferences, p.QuietHours.Timezone, err)
			}
		}
	}
	if p.Limits.MaxPerHour < 0 || p.Limits.MaxPerDay < 0 || p.Limits.BurstLimit < 0 {
		return fmt.Errorf("%w: frequency limits must not be negative", ErrInvalidPreferences)
	}
	for cat, cp := range p.Categories {
		switch cp.DigestFrequency {
		case DigestNone, DigestDaily, DigestWeekly:
		default:
			return fmt.Errorf("%w: category %s: unknown digest frequency %q", ErrInvalidPreferences, cat, cp.DigestFrequency)
		}
	}
	return nil
}

// Channel returns the preference for a channel, falling back to an
// enabled-by-default preference when none is configured.
func (p Preferences) Channel(ch notification.Channel) ChannelPreference {
	if cp, ok := p.Channels[ch]; ok {
		return cp
	}
	return ChannelPreference{Enabled: true, MinPriority: notification.PriorityLow}
}

// Category returns the preference for a category, falling back to an
// enabled-by-default preference when none is configured.
func (p Preferences) Category(cat notification.Category) CategoryPreference {
	if cp, ok := p.Categories[cat]; ok {
		return cp
	}
	return CategoryPreference{Enabled: true, MinPriority: notification.PriorityLow}
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// location resolves the quiet hours timezone, defaulting to UTC.
func (q QuietHours) location() *time.Location {
	if q.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// activeOn reports whether the window applies on the given weekday. The
// weekday of the window start governs wrap-around windows.
func (q QuietHours) activeOn(day time.Weekday) bool {
	if len(q.Days) == 0 {
		return true
	}
	for _, d := range q.Days {
		if d == day {
			return true
		}
	}
	return false
}

// Contains reports whether t falls inside the quiet hours window.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, err := parseClock(q.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false
	}

	local := t.In(q.location())
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	offset := local.Sub(midnight)

	if start <= end {
		// Same-day window, e.g. 13:00-15:00.
		return q.activeOn(local.Weekday()) && offset >= start && offset < end
	}

	// Wrap-around window, e.g. 22:00-08:00. The evening part belongs to
	// today's window; the morning part belongs to the window that started
	// yesterday.
	if offset >= start {
		return q.activeOn(local.Weekday())
	}
	if offset < end {
		return q.activeOn((local.Weekday() + 6) % 7)
	}
	return false
}

// NextEnd returns the instant the current or next quiet hours window ends,
// relative to t. Callers should only use it when Contains(t) is true.
func (q QuietHours) NextEnd(t time.Time) time.Time {
	end, err := parseClock(q.End)
	if err != nil {
		return t
	}

	local := t.In(q.location())
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	endToday := midnight.Add(end)

	if endToday.After(local) {
		return endToday
	}
	return endToday.Add(24 * time.Hour)
}
