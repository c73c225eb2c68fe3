package hub

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundrise/notify/notification"
)

func notif(userID string) notification.Notification {
	return notification.Notification{ID: "n1", UserID: userID, Title: "hi"}
}

func TestHub_PublishReachesUserSubscribers(t *testing.T) {
	h := New()

	var got []Event
	unsub := h.Subscribe("user-1", func(event Event, n notification.Notification) {
		got = append(got, event)
	})
	defer unsub()

	otherCalled := false
	h.Subscribe("user-2", func(Event, notification.Notification) { otherCalled = true })

	h.Publish(EventReceived, notif("user-1"))
	h.Publish(EventSent, notif("user-1"))

	assert.Equal(t, []Event{EventReceived, EventSent}, got)
	assert.False(t, otherCalled, "events must not leak across users")
}

func TestHub_UnsubscribeCleansRegistry(t *testing.T) {
	h := New()

	unsub1 := h.Subscribe("user-1", func(Event, notification.Notification) {})
	unsub2 := h.Subscribe("user-1", func(Event, notification.Notification) {})
	require.Equal(t, 2, h.SubscriberCount("user-1"))

	unsub1()
	assert.Equal(t, 1, h.SubscriberCount("user-1"))
	assert.Equal(t, 1, h.Users())

	// Removing the last callback deletes the user's registry entry.
	unsub2()
	assert.Equal(t, 0, h.SubscriberCount("user-1"))
	assert.Equal(t, 0, h.Users())

	// Unsubscribe is idempotent.
	unsub2()
	assert.Equal(t, 0, h.Users())
}

func TestHub_PanickingCallbackIsIsolated(t *testing.T) {
	h := New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	h.Subscribe("user-1", func(Event, notification.Notification) {
		panic("boom")
	})

	delivered := false
	h.Subscribe("user-1", func(Event, notification.Notification) {
		delivered = true
	})

	assert.NotPanics(t, func() {
		h.Publish(EventSent, notif("user-1"))
	})
	assert.True(t, delivered, "other callbacks still receive the event")
}

func TestHub_ConcurrentPublishAndSubscribe(t *testing.T) {
	h := New()

	var mu sync.Mutex
	count := 0
	unsub := h.Subscribe("user-1", func(Event, notification.Notification) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	defer unsub()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Publish(EventSent, notif("user-1"))
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Subscribe("user-2", func(Event, notification.Notification) {})()
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, count)
}

func TestHub_SubscribeValidation(t *testing.T) {
	h := New()

	assert.NotPanics(t, func() {
		h.Subscribe("", func(Event, notification.Notification) {})()
		h.Subscribe("user-1", nil)()
	})
	assert.Equal(t, 0, h.Users())
}
