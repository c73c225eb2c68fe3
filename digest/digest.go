package digest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/soundrise/notify/notification"
	"github.com/soundrise/notify/preference"
)

// Cycle identifies a digest schedule.
type Cycle string

const (
	CycleDaily  Cycle = "daily"
	CycleWeekly Cycle = "weekly"
)

// period returns the spacing between two runs of the cycle.
func (c Cycle) period() time.Duration {
	if c == CycleWeekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// frequency maps the cycle onto the preference enum.
func (c Cycle) frequency() preference.DigestFrequency {
	if c == CycleWeekly {
		return preference.DigestWeekly
	}
	return preference.DigestDaily
}

// Section groups one category's notifications inside a digest.
type Section struct {
	Category        notification.Category `json:"category"`
	Title           string                `json:"title"`
	NotificationIDs []string              `json:"notification_ids"`
	Summary         string                `json:"summary"`
}

// Digest aggregates a set of notifications for one user and cycle. It is
// consumed exactly once: the referenced notification ids are stamped so they
// never appear in a later digest of the same type.
type Digest struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Cycle     Cycle     `json:"cycle"`
	Sections  []Section `json:"sections"`
	CreatedAt time.Time `json:"created_at"`
}

// Submitter re-injects a synthetic digest notification into the normal
// pipeline (preference engine, queue, dispatch). The engine implements it.
type Submitter func(ctx context.Context, n notification.Notification) error

// Aggregator periodically rolls eligible notifications into per-user digests.
type Aggregator struct {
	store      notification.Storage
	prefs      preference.Storage
	submit     Submitter
	clock      clockwork.Clock
	logger     *slog.Logger
	checkEvery time.Duration

	nextRun map[Cycle]time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock sets the clock driving the cycle schedule.
func WithClock(clock clockwork.Clock) Option {
	return func(a *Aggregator) {
		a.clock = clock
	}
}

// WithLogger sets the logger for the Aggregator.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithCheckInterval sets how often due schedules are checked.
func WithCheckInterval(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.checkEvery = d
		}
	}
}

// New creates a digest aggregator.
func New(store notification.Storage, prefs preference.Storage, submit Submitter, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:      store,
		prefs:      prefs,
		submit:     submit,
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		checkEvery: time.Minute,
		nextRun:    make(map[Cycle]time.Time),
	}
	for _, opt := range opts {
		opt(a)
	}

	// First runs are one full period out so a restart does not immediately
	// re-digest.
	now := a.clock.Now()
	a.nextRun[CycleDaily] = now.Add(CycleDaily.period())
	a.nextRun[CycleWeekly] = now.Add(CycleWeekly.period())
	return a
}

// Run checks due schedules until the context is cancelled. It is meant to run
// alongside the queue tick loop in its own goroutine.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := a.clock.NewTicker(a.checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			a.runDue(ctx)
		}
	}
}

func (a *Aggregator) runDue(ctx context.Context) {
	now := a.clock.Now()
	for _, cycle := range []Cycle{CycleDaily, CycleWeekly} {
		if now.Before(a.nextRun[cycle]) {
			continue
		}
		a.nextRun[cycle] = now.Add(cycle.period())
		if err := a.RunCycle(ctx, cycle); err != nil {
			a.logger.LogAttrs(ctx, slog.LevelError, "digest cycle failed",
				slog.String("cycle", string(cycle)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// RunCycle generates digests for every user enrolled in the cycle.
func (a *Aggregator) RunCycle(ctx context.Context, cycle Cycle) error {
	userIDs, err := a.prefs.ListUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list digest users: %w", err)
	}

	for _, userID := range userIDs {
		if _, err := a.Generate(ctx, userID, cycle); err != nil {
			// One user's failure must not starve the rest of the cycle.
			a.logger.LogAttrs(ctx, slog.LevelError, "digest generation failed",
				slog.String("user_id", userID),
				slog.String("cycle", string(cycle)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Generate builds and submits one user's digest for a cycle. It returns nil
// without error when the user has nothing to digest.
func (a *Aggregator) Generate(ctx context.Context, userID string, cycle Cycle) (*Digest, error) {
	prefs, err := a.prefs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	enrolled := make(map[notification.Category]preference.CategoryPreference)
	for cat, cp := range prefs.Categories {
		if cp.Enabled && cp.DigestFrequency == cycle.frequency() {
			enrolled[cat] = cp
		}
	}
	if len(enrolled) == 0 {
		return nil, nil
	}

	candidates, err := a.store.List(ctx, userID, notification.ListOptions{DigestCandidates: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list digest candidates: %w", err)
	}

	byCategory := make(map[notification.Category][]notification.Notification)
	for _, n := range candidates {
		if _, ok := enrolled[n.Category]; !ok {
			continue
		}
		// The digest of digests would be an infinite loop.
		if n.Type == notification.TypeDigest {
			continue
		}
		byCategory[n.Category] = append(byCategory[n.Category], n)
	}
	if len(byCategory) == 0 {
		return nil, nil
	}

	d := &Digest{
		ID:        uuid.New().String(),
		UserID:    userID,
		Cycle:     cycle,
		CreatedAt: a.clock.Now(),
	}

	// Fixed category order so two runs over the same notifications produce
	// the same digest, including the channel choice below.
	cats := make([]notification.Category, 0, len(byCategory))
	for cat := range byCategory {
		cats = append(cats, cat)
	}
	slices.Sort(cats)

	var included []string
	channel := notification.ChannelEmail
	for _, cat := range cats {
		group := byCategory[cat]
		ids := make([]string, 0, len(group))
		for _, n := range group {
			ids = append(ids, n.ID)
		}
		included = append(included, ids...)

		d.Sections = append(d.Sections, Section{
			Category:        cat,
			Title:           sectionTitle(cat),
			NotificationIDs: ids,
			Summary:         fmt.Sprintf("%d %s updates", len(group), cat),
		})
	}

	// The first category (in sorted order) with an explicit digest channel
	// wins; everyone else falls back to email.
	for _, cat := range cats {
		if cp := enrolled[cat]; cp.DigestChannel != "" {
			channel = cp.DigestChannel
			break
		}
	}

	if err := a.submit(ctx, a.digestNotification(d, channel)); err != nil {
		return nil, fmt.Errorf("failed to submit digest notification: %w", err)
	}

	// Stamp only after a successful submit so a failed cycle can be retried.
	if err := a.store.MarkIncludedInDigest(ctx, included...); err != nil {
		return nil, fmt.Errorf("failed to stamp digested notifications: %w", err)
	}

	a.logger.LogAttrs(ctx, slog.LevelInfo, "digest generated",
		slog.String("user_id", userID),
		slog.String("cycle", string(cycle)),
		slog.Int("sections", len(d.Sections)),
		slog.Int("notifications", len(included)),
	)
	return d, nil
}

// digestNotification builds the synthetic notification carrying the digest.
func (a *Aggregator) digestNotification(d *Digest, channel notification.Channel) notification.Notification {
	var b strings.Builder
	total := 0
	for _, s := range d.Sections {
		total += len(s.NotificationIDs)
		fmt.Fprintf(&b, "%s: %s\n", s.Title, s.Summary)
	}

	title := "Your daily Soundrise digest"
	if d.Cycle == CycleWeekly {
		title = "Your weekly Soundrise digest"
	}

	return notification.Notification{
		ID:       d.ID,
		UserID:   d.UserID,
		Type:     notification.TypeDigest,
		Category: notification.CategorySystem,
		Priority: notification.PriorityLow,
		Title:    title,
		Message:  b.String(),
		Summary:  fmt.Sprintf("%d notifications while you were away", total),
		Channels: []notification.Channel{channel},
	}
}

func sectionTitle(cat notification.Category) string {
	switch cat {
	case notification.CategorySocial:
		return "Social activity"
	case notification.CategoryMusic:
		return "Music updates"
	case notification.CategoryBattle:
		return "Battle results"
	case notification.CategoryAchievement:
		return "Achievements unlocked"
	case notification.CategorySecurity:
		return "Security notices"
	case notification.CategoryMarketing:
		return "News and offers"
	default:
		return "Platform updates"
	}
}
