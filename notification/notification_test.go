package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNotification_DeliveryStatus(t *testing.T) {
	tests := []struct {
		name       string
		deliveries []ChannelDelivery
		want       DeliveryStatus
	}{
		{
			name: "all pending",
			deliveries: []ChannelDelivery{
				{Channel: ChannelPush, Enabled: true, Status: ChannelStatusPending},
				{Channel: ChannelEmail, Enabled: true, Status: ChannelStatusPending},
			},
			want: DeliveryPending,
		},
		{
			name:       "no deliveries",
			deliveries: nil,
			want:       DeliveryPending,
		},
		{
			name: "all sent",
			deliveries: []ChannelDelivery{
				{Channel: ChannelPush, Enabled: true, Status: ChannelStatusSent},
				{Channel: ChannelEmail, Enabled: true, Status: ChannelStatusDelivered},
			},
			want: DeliveryDelivered,
		},
		{
			name: "mixed outcomes",
			deliveries: []ChannelDelivery{
				{Channel: ChannelPush, Enabled: true, Status: ChannelStatusSent},
				{Channel: ChannelEmail, Enabled: true, Status: ChannelStatusFailed},
			},
			want: DeliveryPartial,
		},
		{
			name: "all failed",
			deliveries: []ChannelDelivery{
				{Channel: ChannelPush, Enabled: true, Status: ChannelStatusFailed},
				{Channel: ChannelEmail, Enabled: true, Status: ChannelStatusBounced},
			},
			want: DeliveryFailed,
		},
		{
			name: "disabled channels do not count",
			deliveries: []ChannelDelivery{
				{Channel: ChannelPush, Enabled: true, Status: ChannelStatusSent},
				{Channel: ChannelEmail, Enabled: false, Status: ChannelStatusFailed},
			},
			want: DeliveryDelivered,
		},
		{
			name: "one sent one pending is still delivered for attempted set",
			deliveries: []ChannelDelivery{
				{Channel: ChannelPush, Enabled: true, Status: ChannelStatusSent},
				{Channel: ChannelEmail, Enabled: true, Status: ChannelStatusPending},
			},
			want: DeliveryDelivered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Notification{Deliveries: tt.deliveries}
			assert.Equal(t, tt.want, n.DeliveryStatus())
		})
	}
}

func TestNotification_IsExpired(t *testing.T) {
	now := time.Now()

	n := Notification{}
	assert.False(t, n.IsExpired(now), "no expiry set")

	past := now.Add(-time.Hour)
	n.ExpiresAt = &past
	assert.True(t, n.IsExpired(now))

	future := now.Add(time.Hour)
	n.ExpiresAt = &future
	assert.False(t, n.IsExpired(now))
}

func TestNotification_InitDeliveries(t *testing.T) {
	n := Notification{Channels: []Channel{ChannelPush, ChannelInApp}}
	n.InitDeliveries()

	assert.Len(t, n.Deliveries, 2)
	for _, d := range n.Deliveries {
		assert.True(t, d.Enabled)
		assert.Equal(t, ChannelStatusPending, d.Status)
	}

	rec := n.Delivery(ChannelInApp)
	assert.NotNil(t, rec)
	assert.Equal(t, ChannelInApp, rec.Channel)
	assert.Nil(t, n.Delivery(ChannelSMS))
}

func TestPriority_Ordering(t *testing.T) {
	assert.True(t, PriorityLow < PriorityNormal)
	assert.True(t, PriorityNormal < PriorityHigh)
	assert.True(t, PriorityHigh < PriorityUrgent)
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityLow, ParsePriority("low"))
	assert.Equal(t, PriorityNormal, ParsePriority("normal"))
	assert.Equal(t, PriorityHigh, ParsePriority("high"))
	assert.Equal(t, PriorityUrgent, ParsePriority("urgent"))
	assert.Equal(t, PriorityNormal, ParsePriority("whatever"))

	for _, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent} {
		assert.Equal(t, p, ParsePriority(p.String()))
	}
}

func TestCategory_Valid(t *testing.T) {
	assert.True(t, CategoryMusic.Valid())
	assert.True(t, CategoryBattle.Valid())
	assert.False(t, Category("podcast").Valid())
}
