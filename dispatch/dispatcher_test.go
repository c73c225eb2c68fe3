package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundrise/notify/hub"
	"github.com/soundrise/notify/notification"
)

// fakeTransport returns scripted outcomes per attempt and records calls.
type fakeTransport struct {
	mu      sync.Mutex
	calls   int
	outcome func(attempt int) error
	block   time.Duration
}

func (f *fakeTransport) Deliver(ctx context.Context, n notification.Notification) error {
	f.mu.Lock()
	f.calls++
	attempt := f.calls
	f.mu.Unlock()

	if f.block > 0 {
		select {
		case <-time.After(f.block):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.outcome == nil {
		return nil
	}
	return f.outcome(attempt)
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dispatchNotification(channels ...notification.Channel) notification.Notification {
	n := notification.Notification{
		ID:       "n1",
		UserID:   "user-1",
		Type:     "battle_invite",
		Category: notification.CategoryBattle,
		Priority: notification.PriorityHigh,
		Title:    "Battle invite",
		Message:  "You have been challenged",
		Channels: channels,
	}
	n.InitDeliveries()
	return n
}

func TestDispatcher_AllChannelsSucceed(t *testing.T) {
	reg := NewRegistry()
	push := &fakeTransport{}
	email := &fakeTransport{}
	reg.Register(notification.ChannelPush, push)
	reg.Register(notification.ChannelEmail, email)

	events := hub.New()
	var published []hub.Event
	events.Subscribe("user-1", func(e hub.Event, _ notification.Notification) {
		published = append(published, e)
	})

	d := New(reg, events, WithLogger(quietLogger()))

	n := dispatchNotification(notification.ChannelPush, notification.ChannelEmail)
	result := d.Dispatch(context.Background(), &n)

	assert.Equal(t, notification.DeliveryDelivered, result.Status)
	assert.False(t, result.Retryable())
	assert.Equal(t, 1, n.DeliveryAttempts)
	assert.NotNil(t, n.SentAt)
	assert.Equal(t, 1, push.callCount())
	assert.Equal(t, 1, email.callCount())

	for _, rec := range n.Deliveries {
		assert.Equal(t, notification.ChannelStatusSent, rec.Status)
		assert.NotNil(t, rec.SentAt)
	}

	assert.Equal(t, []hub.Event{hub.EventSent}, published)
}

func TestDispatcher_OneChannelFailureDoesNotAbortOthers(t *testing.T) {
	reg := NewRegistry()
	reg.Register(notification.ChannelPush, &fakeTransport{outcome: func(int) error {
		return errors.New("push gateway unavailable")
	}})
	reg.Register(notification.ChannelEmail, &fakeTransport{})

	d := New(reg, hub.New(), WithLogger(quietLogger()))

	n := dispatchNotification(notification.ChannelPush, notification.ChannelEmail)
	result := d.Dispatch(context.Background(), &n)

	assert.Equal(t, notification.DeliveryPartial, result.Status)
	assert.Equal(t, []notification.Channel{notification.ChannelPush}, result.Transient)
	assert.Equal(t, notification.ChannelStatusFailed, n.Delivery(notification.ChannelPush).Status)
	assert.Equal(t, notification.ChannelStatusSent, n.Delivery(notification.ChannelEmail).Status)
	assert.NotEmpty(t, n.DeliveryErrors)
}

func TestDispatcher_PermanentFailureNotRetryable(t *testing.T) {
	reg := NewRegistry()
	reg.Register(notification.ChannelEmail, &fakeTransport{outcome: func(int) error {
		return fmt.Errorf("%w: recipient does not exist", ErrPermanent)
	}})

	d := New(reg, hub.New(), WithLogger(quietLogger()))

	n := dispatchNotification(notification.ChannelEmail)
	result := d.Dispatch(context.Background(), &n)

	assert.Equal(t, notification.DeliveryFailed, result.Status)
	assert.False(t, result.Retryable(), "permanent failures must not be retried")
	assert.Equal(t, notification.ChannelStatusBounced, n.Delivery(notification.ChannelEmail).Status)
}

func TestDispatcher_MissingTransportIsPermanent(t *testing.T) {
	d := New(NewRegistry(), hub.New(), WithLogger(quietLogger()))

	n := dispatchNotification(notification.ChannelSMS)
	result := d.Dispatch(context.Background(), &n)

	assert.Equal(t, notification.DeliveryFailed, result.Status)
	assert.False(t, result.Retryable())
}

func TestDispatcher_AttemptTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(notification.ChannelPush, &fakeTransport{block: time.Second})

	d := New(reg, hub.New(),
		WithAttemptTimeout(20*time.Millisecond),
		WithLogger(quietLogger()),
	)

	n := dispatchNotification(notification.ChannelPush)
	start := time.Now()
	result := d.Dispatch(context.Background(), &n)

	assert.Less(t, time.Since(start), 500*time.Millisecond, "timeout must keep the loop moving")
	assert.Equal(t, notification.DeliveryFailed, result.Status)
	assert.True(t, result.Retryable(), "timeouts count as transient failures")
}

func TestDispatcher_RetryPassSkipsSucceededChannels(t *testing.T) {
	reg := NewRegistry()
	push := &fakeTransport{outcome: func(attempt int) error {
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	}}
	email := &fakeTransport{}
	reg.Register(notification.ChannelPush, push)
	reg.Register(notification.ChannelEmail, email)

	d := New(reg, hub.New(), WithLogger(quietLogger()))

	n := dispatchNotification(notification.ChannelPush, notification.ChannelEmail)

	// Attempt 1: email succeeds, push fails.
	result := d.Dispatch(context.Background(), &n)
	assert.Equal(t, notification.DeliveryPartial, result.Status)

	// Attempt 2: only push is re-sent, still failing.
	result = d.Dispatch(context.Background(), &n)
	assert.Equal(t, notification.DeliveryPartial, result.Status)
	assert.Equal(t, 1, email.callCount(), "sent channels must not be re-sent")

	// Attempt 3: push finally succeeds and the aggregate recovers.
	result = d.Dispatch(context.Background(), &n)
	assert.Equal(t, notification.DeliveryDelivered, result.Status)
	assert.Equal(t, 3, push.callCount())
	assert.Equal(t, 3, n.DeliveryAttempts)
}

func TestDispatcher_PanickingTransportIsContained(t *testing.T) {
	reg := NewRegistry()
	reg.Register(notification.ChannelPush, TransportFunc(func(context.Context, notification.Notification) error {
		panic("transport bug")
	}))

	d := New(reg, hub.New(), WithLogger(quietLogger()))

	n := dispatchNotification(notification.ChannelPush)
	assert.NotPanics(t, func() {
		result := d.Dispatch(context.Background(), &n)
		assert.Equal(t, notification.DeliveryFailed, result.Status)
	})
}

func TestWebhookTransport(t *testing.T) {
	var (
		gotSig  string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Notify-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	transport, err := NewWebhookTransport(func(ctx context.Context, userID string) (string, string, error) {
		return srv.URL, "secret", nil
	}, srv.Client())
	require.NoError(t, err)

	n := dispatchNotification(notification.ChannelWebhook)
	require.NoError(t, transport.Deliver(context.Background(), n))
	assert.NotEmpty(t, gotSig)
	assert.Contains(t, string(gotBody), `"battle_invite"`)
}

func TestWebhookTransport_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
		wantErr   bool
	}{
		{"ok", http.StatusOK, false, false},
		{"server error is transient", http.StatusBadGateway, false, true},
		{"gone is permanent", http.StatusGone, true, true},
		{"not found is permanent", http.StatusNotFound, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			transport, err := NewWebhookTransport(func(context.Context, string) (string, string, error) {
				return srv.URL, "", nil
			}, srv.Client())
			require.NoError(t, err)

			err = transport.Deliver(context.Background(), dispatchNotification(notification.ChannelWebhook))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.permanent, errors.Is(err, ErrPermanent))
		})
	}
}

func TestWebhookTransport_NoEndpointIsPermanent(t *testing.T) {
	transport, err := NewWebhookTransport(func(context.Context, string) (string, string, error) {
		return "", "", nil
	}, nil)
	require.NoError(t, err)

	err = transport.Deliver(context.Background(), dispatchNotification(notification.ChannelWebhook))
	assert.ErrorIs(t, err, ErrPermanent)
}
