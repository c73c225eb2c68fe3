package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/soundrise/notify/digest"
	"github.com/soundrise/notify/dispatch"
	"github.com/soundrise/notify/hub"
	"github.com/soundrise/notify/notification"
	"github.com/soundrise/notify/preference"
	"github.com/soundrise/notify/queue"
	"github.com/soundrise/notify/template"
)

// DefaultTickInterval is how often the queue loop drains ready items.
const DefaultTickInterval = time.Second

// Engine wires the preference engine, priority queue, dispatcher, digest
// aggregator and event hub into one delivery pipeline. It is the single entry
// point callers use: submit notifications, mutate read state, manage
// preferences and templates.
type Engine struct {
	store      notification.Storage
	prefs      *preference.Engine
	queue      *queue.Manager
	dispatcher *dispatch.Dispatcher
	events     *hub.Hub
	templates  template.Storage
	digests    *digest.Aggregator

	retry     queue.RetryPolicy
	clock     clockwork.Clock
	logger    *slog.Logger
	tickEvery time.Duration
	batchSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryPolicy overrides the default retry behavior for transient channel
// failures.
func WithRetryPolicy(p queue.RetryPolicy) Option {
	return func(e *Engine) {
		e.retry = p
	}
}

// WithClock sets the clock driving scheduling and the tick loop.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithLogger sets the logger for the Engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTickInterval sets how often the queue loop runs.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tickEvery = d
		}
	}
}

// WithBatchSize caps how many items one tick may process.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithDigests attaches a digest aggregator whose cycle loop runs alongside
// the queue loop in Run.
func WithDigests(agg *digest.Aggregator) Option {
	return func(e *Engine) {
		e.digests = agg
	}
}

// New creates a notification engine.
func New(
	store notification.Storage,
	prefs *preference.Engine,
	qm *queue.Manager,
	dispatcher *dispatch.Dispatcher,
	events *hub.Hub,
	templates template.Storage,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:      store,
		prefs:      prefs,
		queue:      qm,
		dispatcher: dispatcher,
		events:     events,
		templates:  templates,
		retry:      queue.DefaultRetryPolicy(),
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		tickEvery:  DefaultTickInterval,
		batchSize:  0,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send submits a notification for delivery. The recipient's preferences are
// applied first: the channel set may be trimmed, delivery may be delayed past
// quiet hours, or the notification may be suppressed entirely. Suppression is
// a policy outcome, not an error; suppressed notifications are never
// persisted and Send returns nil.
func (e *Engine) Send(ctx context.Context, n notification.Notification) error {
	_, err := e.submit(ctx, n)
	return err
}

// SendBulk submits a batch of notifications. Each is evaluated independently;
// one recipient's policy never affects another's delivery. Errors are joined.
func (e *Engine) SendBulk(ctx context.Context, batch []notification.Notification) error {
	var errs []error
	for _, n := range batch {
		if _, err := e.submit(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("notification %s: %w", n.ID, err))
		}
	}
	return errors.Join(errs...)
}

// submit runs the shared send path and reports whether the notification was
// accepted into the queue.
func (e *Engine) submit(ctx context.Context, n notification.Notification) (bool, error) {
	if n.UserID == "" {
		return false, notification.ErrMissingUserID
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if len(n.Channels) == 0 {
		n.Channels = []notification.Channel{notification.ChannelInApp}
	}

	now := e.clock.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.ScheduledAt.IsZero() {
		n.ScheduledAt = now
	}

	evaluated, err := e.prefs.Evaluate(ctx, n)
	if err != nil {
		if errors.Is(err, preference.ErrSuppressed) {
			e.logger.LogAttrs(ctx, slog.LevelDebug, "notification suppressed",
				slog.String("notification_id", n.ID),
				slog.String("user_id", n.UserID),
				slog.String("type", n.Type),
			)
			return false, nil
		}
		return false, fmt.Errorf("failed to evaluate preferences: %w", err)
	}
	n = evaluated

	n.InitDeliveries()
	if err := e.store.Create(ctx, n); err != nil {
		return false, fmt.Errorf("failed to store notification: %w", err)
	}

	// One frequency-window slot per accepted notification. Retries of this
	// notification do not consume further slots.
	e.prefs.RecordSend(n.UserID)

	e.events.Publish(hub.EventReceived, n)

	e.queue.Enqueue(&queue.Item{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Priority:       n.Priority,
		ScheduledAt:    n.ScheduledAt,
	})

	e.logger.LogAttrs(ctx, slog.LevelDebug, "notification queued",
		slog.String("notification_id", n.ID),
		slog.String("user_id", n.UserID),
		slog.String("priority", n.Priority.String()),
	)
	return true, nil
}

// Run drives the delivery loops until the context is cancelled: the queue
// tick loop and, when a digest aggregator is attached, its cycle loop.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := e.clock.NewTicker(e.tickEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.Chan():
				e.ProcessTick(ctx)
			}
		}
	})

	if e.digests != nil {
		g.Go(func() error {
			return e.digests.Run(ctx)
		})
	}

	return g.Wait()
}

// ProcessTick drains ready queue items and attempts delivery on each. It is
// exported so callers driving a fake clock (and the digest admin trigger) can
// step the pipeline deterministically.
func (e *Engine) ProcessTick(ctx context.Context) {
	items := e.queue.DrainReady(e.clock.Now(), e.batchSize)
	for _, item := range items {
		e.process(ctx, item)
	}
}

func (e *Engine) process(ctx context.Context, item *queue.Item) {
	n, err := e.store.Get(ctx, item.NotificationID)
	if err != nil {
		// Deleted or expired out from under the queue. Nothing to deliver.
		e.queue.Complete(item)
		return
	}

	// Retries re-check preferences so a policy change made after the first
	// attempt takes effect immediately.
	if item.Attempts > 0 {
		evaluated, err := e.prefs.Reevaluate(ctx, *n)
		if err != nil {
			if errors.Is(err, preference.ErrSuppressed) {
				e.queue.Complete(item)
				e.logger.LogAttrs(ctx, slog.LevelInfo, "retry cancelled by preference change",
					slog.String("notification_id", n.ID),
					slog.String("user_id", n.UserID),
				)
				return
			}
			e.queue.Requeue(item, e.clock.Now().Add(e.retry.NextDelay(item.Attempts)))
			return
		}
		if evaluated.ScheduledAt.After(e.clock.Now()) {
			// Quiet hours started since the last attempt. Hold the retry.
			e.queue.Requeue(item, evaluated.ScheduledAt)
			return
		}
		n.Channels = evaluated.Channels
	}

	result := e.dispatcher.Dispatch(ctx, n)

	now := e.clock.Now()
	item.Attempts++
	item.LastAttemptAt = &now
	if len(result.Errors) > 0 {
		item.LastError = strings.Join(result.Errors, "; ")
	}

	if err := e.store.Update(ctx, *n); err != nil {
		e.logger.LogAttrs(ctx, slog.LevelError, "failed to persist delivery state",
			slog.String("notification_id", n.ID),
			slog.String("error", err.Error()),
		)
	}

	// Exhausting the retry budget with transient failures left over is a
	// failure even when some channels delivered, so partial outcomes that ran
	// out of attempts land in the failed counter too.
	if result.Retryable() {
		if !e.retry.Exhausted(item.Attempts) {
			e.queue.Requeue(item, now.Add(e.retry.NextDelay(item.Attempts)))
			return
		}
		e.failItem(ctx, item, n)
		return
	}

	if result.Status == notification.DeliveryFailed {
		e.failItem(ctx, item, n)
		return
	}

	e.queue.Complete(item)
}

func (e *Engine) failItem(ctx context.Context, item *queue.Item, n *notification.Notification) {
	e.queue.Fail(item)
	e.logger.LogAttrs(ctx, slog.LevelError, "notification delivery failed",
		slog.String("notification_id", n.ID),
		slog.String("user_id", n.UserID),
		slog.Int("attempts", item.Attempts),
		slog.String("last_error", item.LastError),
	)
}

// GetNotifications returns a user's notifications, newest first.
func (e *Engine) GetNotifications(ctx context.Context, userID string, opts notification.ListOptions) ([]notification.Notification, error) {
	return e.store.List(ctx, userID, opts)
}

// UnreadCount returns the number of unread, unexpired notifications.
func (e *Engine) UnreadCount(ctx context.Context, userID string) (int, error) {
	return e.store.CountUnread(ctx, userID)
}

// MarkRead marks a notification read. Reading implies seeing. Idempotent:
// marking an already-read notification is a no-op and publishes no event.
func (e *Engine) MarkRead(ctx context.Context, userID, id string) error {
	return e.mutate(ctx, userID, id, hub.EventRead, func(n *notification.Notification, now time.Time) bool {
		if n.Read {
			return false
		}
		n.Read = true
		n.ReadAt = &now
		n.Seen = true
		return true
	})
}

// MarkSeen marks a notification seen without marking it read.
func (e *Engine) MarkSeen(ctx context.Context, userID, id string) error {
	return e.mutate(ctx, userID, id, hub.EventSeen, func(n *notification.Notification, _ time.Time) bool {
		if n.Seen {
			return false
		}
		n.Seen = true
		return true
	})
}

// Dismiss removes a notification from the user's active list.
func (e *Engine) Dismiss(ctx context.Context, userID, id string) error {
	return e.mutate(ctx, userID, id, hub.EventDismissed, func(n *notification.Notification, now time.Time) bool {
		if n.Dismissed {
			return false
		}
		n.Dismissed = true
		n.DismissedAt = &now
		return true
	})
}

// Archive moves a notification to the archive. Archived notifications are
// excluded from digests.
func (e *Engine) Archive(ctx context.Context, userID, id string) error {
	return e.mutate(ctx, userID, id, hub.EventArchived, func(n *notification.Notification, _ time.Time) bool {
		if n.Archived {
			return false
		}
		n.Archived = true
		return true
	})
}

// MarkAllRead marks every unread notification for the user as read.
func (e *Engine) MarkAllRead(ctx context.Context, userID string) error {
	unread, err := e.store.List(ctx, userID, notification.ListOptions{OnlyUnread: true})
	if err != nil {
		return fmt.Errorf("failed to list unread notifications: %w", err)
	}

	var errs []error
	for _, n := range unread {
		if err := e.MarkRead(ctx, userID, n.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Delete removes notifications from a user's feed entirely. Unknown IDs are
// ignored; IDs belonging to other users are never touched.
func (e *Engine) Delete(ctx context.Context, userID string, ids ...string) error {
	return e.store.Delete(ctx, userID, ids...)
}

// mutate is the shared read-state transition: load, authorize, apply, persist,
// announce. The apply func returns false when the state is already current,
// making every transition idempotent.
func (e *Engine) mutate(ctx context.Context, userID, id string, event hub.Event, apply func(*notification.Notification, time.Time) bool) error {
	n, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		// Do not leak the existence of other users' notifications.
		return notification.ErrNotFound
	}

	if !apply(n, e.clock.Now()) {
		return nil
	}

	if err := e.store.Update(ctx, *n); err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	e.events.Publish(event, *n)
	return nil
}

// Subscribe registers a callback for a user's lifecycle events and returns an
// unsubscribe function.
func (e *Engine) Subscribe(userID string, cb hub.Callback) func() {
	return e.events.Subscribe(userID, cb)
}

// GetPreferences returns a user's notification policy, or the permissive
// defaults when none is stored.
func (e *Engine) GetPreferences(ctx context.Context, userID string) (preference.Preferences, error) {
	return e.prefs.Get(ctx, userID)
}

// UpdatePreferences applies a partial policy update, validating before
// persisting. Takes effect on the next evaluation, including pending retries.
func (e *Engine) UpdatePreferences(ctx context.Context, userID string, patch preference.Patch) (preference.Preferences, error) {
	return e.prefs.UpdatePreferences(ctx, userID, patch)
}

// CreateTemplate validates and stores a reusable notification template.
func (e *Engine) CreateTemplate(ctx context.Context, t template.Template) error {
	return e.templates.Create(ctx, t)
}

// SendFromTemplate renders a template for each recipient and submits the
// results through the normal pipeline. It returns the IDs of the
// notifications that were accepted; recipients whose policy suppressed the
// notification contribute no ID.
func (e *Engine) SendFromTemplate(ctx context.Context, templateID string, vars map[string]string, recipients []string) ([]string, error) {
	tpl, err := e.templates.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}

	var (
		ids  []string
		errs []error
	)
	for _, userID := range recipients {
		n := tpl.RenderFor(userID, vars, e.logger)
		n.ID = uuid.New().String()

		accepted, err := e.submit(ctx, n)
		if err != nil {
			errs = append(errs, fmt.Errorf("recipient %s: %w", userID, err))
			continue
		}
		if accepted {
			ids = append(ids, n.ID)
		}
	}
	return ids, errors.Join(errs...)
}

// GenerateDigest builds and submits one user's digest outside the regular
// cycle schedule. Requires a digest aggregator to be attached.
func (e *Engine) GenerateDigest(ctx context.Context, userID string, cycle digest.Cycle) (*digest.Digest, error) {
	if e.digests == nil {
		return nil, ErrDigestsDisabled
	}
	return e.digests.Generate(ctx, userID, cycle)
}

// QueueStats returns the queue counters for one priority tier.
func (e *Engine) QueueStats(priority notification.Priority) queue.Stats {
	return e.queue.Stats(priority)
}
