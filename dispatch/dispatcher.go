package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/soundrise/notify/hub"
	"github.com/soundrise/notify/notification"
)

// DefaultAttemptTimeout bounds a single channel delivery attempt so a hanging
// transport never blocks the queue loop.
const DefaultAttemptTimeout = 5 * time.Second

// Result summarizes one dispatch pass over a notification's channels.
type Result struct {
	// Status is the aggregate delivery status after this pass.
	Status notification.DeliveryStatus

	// Transient lists channels that failed but may succeed on retry.
	Transient []notification.Channel

	// Errors collects the per-channel failure messages from this pass.
	Errors []string
}

// Retryable reports whether the retry controller should reschedule the item.
func (r Result) Retryable() bool {
	return len(r.Transient) > 0
}

// Dispatcher attempts delivery independently on every approved channel and
// aggregates per-channel outcomes into the notification's delivery records.
type Dispatcher struct {
	registry *Registry
	events   *hub.Hub
	timeout  time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAttemptTimeout sets the per-channel attempt timeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

// WithClock sets the clock used for delivery timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(dp *Dispatcher) {
		dp.clock = clock
	}
}

// WithLogger sets the logger for the Dispatcher.
func WithLogger(logger *slog.Logger) Option {
	return func(dp *Dispatcher) {
		dp.logger = logger
	}
}

// New creates a dispatcher sending through the given transport registry and
// announcing outcomes on the given hub.
func New(registry *Registry, events *hub.Hub, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		events:   events,
		timeout:  DefaultAttemptTimeout,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch attempts delivery on every channel of the notification
// concurrently, one goroutine per channel, each bounded by the attempt
// timeout. A failure on one channel never aborts the others. The
// notification's delivery records, attempt counter and SentAt are updated in
// place; a sent event is published regardless of the aggregate outcome so
// observers decide how to react to partial or failed deliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, n *notification.Notification) Result {
	now := d.clock.Now()
	n.DeliveryAttempts++
	if n.SentAt == nil {
		n.SentAt = &now
	}

	if len(n.Deliveries) == 0 {
		n.InitDeliveries()
	}

	var (
		mu     sync.Mutex
		result Result
		wg     sync.WaitGroup
	)

	for _, ch := range n.Channels {
		rec := n.Delivery(ch)
		if rec == nil || !rec.Enabled {
			continue
		}
		// Channels that already succeeded in a previous pass are not re-sent;
		// a retry pass only touches the channels that failed transiently.
		if rec.Status == notification.ChannelStatusSent || rec.Status == notification.ChannelStatusDelivered {
			continue
		}

		wg.Add(1)
		go func(ch notification.Channel, rec *notification.ChannelDelivery) {
			defer wg.Done()

			err := d.attempt(ctx, ch, *n)
			ts := d.clock.Now()

			mu.Lock()
			defer mu.Unlock()

			if err == nil {
				rec.Status = notification.ChannelStatusSent
				rec.SentAt = &ts
				rec.Error = ""
				return
			}

			rec.Error = err.Error()
			result.Errors = append(result.Errors, string(ch)+": "+err.Error())
			if errors.Is(err, ErrPermanent) {
				rec.Status = notification.ChannelStatusBounced
			} else {
				rec.Status = notification.ChannelStatusFailed
				result.Transient = append(result.Transient, ch)
			}

			d.logger.LogAttrs(ctx, slog.LevelWarn, "channel delivery failed",
				slog.String("notification_id", n.ID),
				slog.String("user_id", n.UserID),
				slog.String("channel", string(ch)),
				slog.Int("attempt", n.DeliveryAttempts),
				slog.String("error", err.Error()),
			)
		}(ch, rec)
	}

	wg.Wait()

	n.DeliveryErrors = append(n.DeliveryErrors, result.Errors...)
	result.Status = n.DeliveryStatus()

	if d.events != nil {
		d.events.Publish(hub.EventSent, *n)
	}
	return result
}

// attempt runs one transport call under the per-attempt timeout, recovering
// panics so a misbehaving transport cannot take down the tick loop.
func (d *Dispatcher) attempt(ctx context.Context, ch notification.Channel, n notification.Notification) (err error) {
	transport, ok := d.registry.Get(ch)
	if !ok {
		return errors.Join(ErrPermanent, ErrNoTransport)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = errors.New("transport panicked")
		}
	}()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.New("transport panicked")
			}
		}()
		done <- transport.Deliver(ctx, n)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// The attempt keeps running until the transport notices the context;
		// the engine treats the timeout as a transient failure either way.
		return ErrAttemptTimeout
	}
}
