package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundrise/notify/notification"
)

func item(id string, priority notification.Priority, at time.Time) *Item {
	return &Item{
		NotificationID: id,
		UserID:         "user-1",
		Priority:       priority,
		ScheduledAt:    at,
	}
}

func TestManager_DrainReadyPriorityOrder(t *testing.T) {
	now := time.Now()
	m := NewManager()

	m.Enqueue(item("low", notification.PriorityLow, now.Add(-3*time.Minute)))
	m.Enqueue(item("urgent", notification.PriorityUrgent, now.Add(-time.Minute)))
	m.Enqueue(item("normal", notification.PriorityNormal, now.Add(-2*time.Minute)))
	m.Enqueue(item("high", notification.PriorityHigh, now.Add(-time.Second)))

	drained := m.DrainReady(now, 10)
	require.Len(t, drained, 4)
	assert.Equal(t, "urgent", drained[0].NotificationID)
	assert.Equal(t, "high", drained[1].NotificationID)
	assert.Equal(t, "normal", drained[2].NotificationID)
	assert.Equal(t, "low", drained[3].NotificationID)

	assert.Equal(t, 0, m.Len())
}

func TestManager_DrainReadyScheduledAtOrderWithinTier(t *testing.T) {
	// SendBulk scenario: ten normal-priority items come out in ascending
	// scheduled order regardless of enqueue order.
	now := time.Now()
	m := NewManager()

	for i := 9; i >= 0; i-- {
		m.Enqueue(item(fmt.Sprintf("n%d", i), notification.PriorityNormal, now.Add(-time.Duration(10-i)*time.Second)))
	}

	drained := m.DrainReady(now, 10)
	require.Len(t, drained, 10)
	for i := 1; i < len(drained); i++ {
		assert.False(t, drained[i].ScheduledAt.Before(drained[i-1].ScheduledAt),
			"items must drain in non-decreasing scheduled order")
	}
}

func TestManager_FutureItemsNotDrained(t *testing.T) {
	now := time.Now()
	m := NewManager()

	m.Enqueue(item("future", notification.PriorityUrgent, now.Add(time.Minute)))
	m.Enqueue(item("ready", notification.PriorityLow, now.Add(-time.Minute)))

	drained := m.DrainReady(now, 10)
	require.Len(t, drained, 1)
	assert.Equal(t, "ready", drained[0].NotificationID)

	// The future item stays queued.
	assert.Equal(t, 1, m.Len())
}

func TestManager_BatchSizeRespected(t *testing.T) {
	now := time.Now()
	m := NewManager()

	for i := 0; i < 5; i++ {
		m.Enqueue(item(fmt.Sprintf("n%d", i), notification.PriorityNormal, now.Add(-time.Duration(i+1)*time.Second)))
	}

	drained := m.DrainReady(now, 2)
	assert.Len(t, drained, 2)
	assert.Equal(t, 3, m.Len())
}

func TestManager_RateAndBurstLimits(t *testing.T) {
	now := time.Now()
	m := NewManager(WithRateLimit(3), WithBurstLimit(5))

	// Backlog above the rate limit stretches the budget to the burst limit.
	for i := 0; i < 8; i++ {
		m.Enqueue(item(fmt.Sprintf("n%d", i), notification.PriorityNormal, now.Add(-time.Minute)))
	}
	drained := m.DrainReady(now, 0)
	assert.Len(t, drained, 5)

	// Remaining backlog (3) is within the rate limit.
	drained = m.DrainReady(now, 0)
	assert.Len(t, drained, 3)
}

func TestManager_RequeueAndCounters(t *testing.T) {
	now := time.Now()
	m := NewManager()

	it := item("n1", notification.PriorityHigh, now.Add(-time.Second))
	m.Enqueue(it)

	drained := m.DrainReady(now, 1)
	require.Len(t, drained, 1)

	it.Attempts++
	m.Requeue(it, now.Add(5*time.Second))

	// Not ready yet.
	assert.Empty(t, m.DrainReady(now, 1))

	drained = m.DrainReady(now.Add(6*time.Second), 1)
	require.Len(t, drained, 1)
	assert.Equal(t, 1, drained[0].Attempts)

	m.Complete(drained[0])
	m.Fail(item("other", notification.PriorityHigh, now))

	stats := m.Stats(notification.PriorityHigh)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Failed)
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, Delay: 5 * time.Second}

	// Retry scenario: delays are 5s after attempt 1, 10s after attempt 2.
	assert.Equal(t, 5*time.Second, p.NextDelay(1))
	assert.Equal(t, 10*time.Second, p.NextDelay(2))

	assert.False(t, p.Exhausted(1))
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
	assert.True(t, p.Exhausted(4))
}

func TestRetryPolicy_Defaults(t *testing.T) {
	var p RetryPolicy
	assert.Equal(t, 5*time.Second, p.NextDelay(1))
	assert.True(t, p.Exhausted(DefaultMaxRetries))
	assert.Equal(t, time.Duration(0), p.NextDelay(0))
}
