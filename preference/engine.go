package preference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/soundrise/notify/notification"
)

// Engine evaluates candidate notifications against per-user policy and either
// passes them through (possibly with channels trimmed or delivery rescheduled)
// or suppresses them.
type Engine struct {
	storage Storage
	clock   clockwork.Clock
	logger  *slog.Logger

	mu    sync.Mutex
	sends map[string][]time.Time // userID -> accepted send instants, for frequency limits
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineClock sets the clock used for quiet hours and frequency windows.
func WithEngineClock(clock clockwork.Clock) EngineOption {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithEngineLogger sets the logger for the Engine.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a preference engine reading policy from storage.
func NewEngine(storage Storage, opts ...EngineOption) *Engine {
	e := &Engine{
		storage: storage,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
		sends:   make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate filters a notification through the recipient's stored policy.
// It returns the notification with a possibly trimmed channel set and a
// possibly adjusted ScheduledAt, or ErrSuppressed when policy drops it.
// Retries go through Reevaluate instead so that an accepted notification
// cannot be dropped by the frequency window it already consumed.
func (e *Engine) Evaluate(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	prefs, err := e.load(ctx, n.UserID)
	if err != nil {
		return n, err
	}
	return e.Apply(n, prefs)
}

// Reevaluate filters an already-accepted notification through the current
// policy before a retry fires. Frequency limits are not re-checked: the send
// was counted when the notification was first accepted, so a retry must not
// be suppressed by its own earlier acceptance.
func (e *Engine) Reevaluate(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	prefs, err := e.load(ctx, n.UserID)
	if err != nil {
		return n, err
	}
	return e.apply(n, prefs, false)
}

func (e *Engine) load(ctx context.Context, userID string) (Preferences, error) {
	prefs, err := e.storage.Get(ctx, userID)
	if err != nil {
		// Only a genuinely absent policy falls back to the permissive
		// defaults. A storage outage must not deliver to users whose stored
		// policy would have blocked the notification.
		if !errors.Is(err, ErrNotFound) {
			return Preferences{}, fmt.Errorf("failed to load preferences: %w", err)
		}
		prefs = Default(userID)
	}
	return prefs, nil
}

// Apply evaluates a notification against an explicit policy snapshot.
func (e *Engine) Apply(n notification.Notification, prefs Preferences) (notification.Notification, error) {
	return e.apply(n, prefs, true)
}

func (e *Engine) apply(n notification.Notification, prefs Preferences, checkLimits bool) (notification.Notification, error) {
	if !prefs.Enabled {
		return n, ErrSuppressed
	}

	catPref := prefs.Category(n.Category)
	if !catPref.Enabled {
		return n, ErrSuppressed
	}
	if n.Priority < catPref.MinPriority {
		return n, ErrSuppressed
	}

	if tp, ok := prefs.Types[n.Type]; ok && !tp.Enabled {
		return n, ErrSuppressed
	}

	now := e.clock.Now()

	// Quiet hours delay, never drop. Urgent notifications bypass the window
	// only when the user opted into the emergency override.
	urgentBypass := n.Priority == notification.PriorityUrgent && prefs.QuietHours.EmergencyOverride
	if prefs.QuietHours.Contains(now) && !urgentBypass {
		n.ScheduledAt = prefs.QuietHours.NextEnd(now)
	}

	n.Channels = e.allowedChannels(n, prefs, catPref)
	if len(n.Channels) == 0 {
		return n, ErrSuppressed
	}

	if checkLimits && n.Priority != notification.PriorityUrgent && !e.withinLimits(n.UserID, prefs.Limits, now) {
		e.logger.LogAttrs(context.Background(), slog.LevelDebug, "notification over frequency limit",
			slog.String("user_id", n.UserID),
			slog.String("notification_id", n.ID),
		)
		return n, ErrSuppressed
	}

	return n, nil
}

// allowedChannels trims the requested channel set to channels the user allows
// for this notification's priority, type and category.
func (e *Engine) allowedChannels(n notification.Notification, prefs Preferences, catPref CategoryPreference) []notification.Channel {
	typeChannels := channelSet(nil)
	if tp, ok := prefs.Types[n.Type]; ok && len(tp.Channels) > 0 {
		typeChannels = channelSet(tp.Channels)
	}
	catChannels := channelSet(nil)
	if len(catPref.Channels) > 0 {
		catChannels = channelSet(catPref.Channels)
	}

	var allowed []notification.Channel
	for _, ch := range n.Channels {
		cp := prefs.Channel(ch)
		if !cp.Enabled {
			continue
		}
		if n.Priority < cp.MinPriority {
			continue
		}
		if typeChannels != nil && !typeChannels[ch] {
			continue
		}
		if catChannels != nil && !catChannels[ch] {
			continue
		}
		allowed = append(allowed, ch)
	}
	return allowed
}

func channelSet(chs []notification.Channel) map[notification.Channel]bool {
	if len(chs) == 0 {
		return nil
	}
	set := make(map[notification.Channel]bool, len(chs))
	for _, ch := range chs {
		set[ch] = true
	}
	return set
}

// withinLimits checks the rolling frequency windows for a user. Counters are
// in-memory only; limits reset on restart, which is acceptable for a
// best-effort throttle.
func (e *Engine) withinLimits(userID string, limits FrequencyLimits, now time.Time) bool {
	if limits.MaxPerHour == 0 && limits.MaxPerDay == 0 && limits.BurstLimit == 0 {
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Drop entries older than a day, the widest window we track.
	cutoff := now.Add(-24 * time.Hour)
	recent := e.sends[userID][:0]
	for _, ts := range e.sends[userID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	e.sends[userID] = recent

	var lastHour, lastDay, burst int
	burstCutoff := now.Add(-limits.Cooldown)
	hourCutoff := now.Add(-time.Hour)
	for _, ts := range recent {
		lastDay++
		if ts.After(hourCutoff) {
			lastHour++
		}
		if limits.Cooldown > 0 && ts.After(burstCutoff) {
			burst++
		}
	}

	if limits.MaxPerDay > 0 && lastDay >= limits.MaxPerDay {
		return false
	}
	if limits.MaxPerHour > 0 && lastHour >= limits.MaxPerHour {
		return false
	}
	if limits.BurstLimit > 0 && limits.Cooldown > 0 && burst >= limits.BurstLimit {
		return false
	}
	return true
}

// RecordSend counts an accepted notification against the user's frequency
// windows. Callers invoke it once per accepted submission, never on retries,
// so a retried notification consumes a single slot.
func (e *Engine) RecordSend(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sends[userID] = append(e.sends[userID], e.clock.Now())
}

// UpdatePreferences applies a partial update to a user's policy, validates
// the result and persists it with a bumped version counter.
func (e *Engine) UpdatePreferences(ctx context.Context, userID string, patch Patch) (Preferences, error) {
	prefs, err := e.load(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}

	patch.apply(&prefs)
	prefs.UserID = userID
	prefs.Version++
	prefs.UpdatedAt = e.clock.Now()

	if err := prefs.Validate(); err != nil {
		return Preferences{}, err
	}
	if err := e.storage.Save(ctx, prefs); err != nil {
		return Preferences{}, err
	}
	return prefs, nil
}

// Get returns the stored policy for a user, or the defaults when none exists.
func (e *Engine) Get(ctx context.Context, userID string) (Preferences, error) {
	return e.load(ctx, userID)
}

// Patch carries a partial preferences update. Nil fields are left unchanged.
type Patch struct {
	Enabled    *bool                                        `json:"enabled,omitempty"`
	QuietHours *QuietHours                                  `json:"quiet_hours,omitempty"`
	Limits     *FrequencyLimits                             `json:"limits,omitempty"`
	Channels   map[notification.Channel]ChannelPreference   `json:"channels,omitempty"`
	Types      map[string]TypePreference                    `json:"types,omitempty"`
	Categories map[notification.Category]CategoryPreference `json:"categories,omitempty"`
}

func (p Patch) apply(prefs *Preferences) {
	if p.Enabled != nil {
		prefs.Enabled = *p.Enabled
	}
	if p.QuietHours != nil {
		prefs.QuietHours = *p.QuietHours
	}
	if p.Limits != nil {
		prefs.Limits = *p.Limits
	}
	for ch, cp := range p.Channels {
		if prefs.Channels == nil {
			prefs.Channels = make(map[notification.Channel]ChannelPreference)
		}
		prefs.Channels[ch] = cp
	}
	for typ, tp := range p.Types {
		if prefs.Types == nil {
			prefs.Types = make(map[string]TypePreference)
		}
		prefs.Types[typ] = tp
	}
	for cat, cp := range p.Categories {
		if prefs.Categories == nil {
			prefs.Categories = make(map[notification.Category]CategoryPreference)
		}
		prefs.Categories[cat] = cp
	}
}
