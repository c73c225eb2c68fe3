package digest_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundrise/notify/digest"
	"github.com/soundrise/notify/notification"
	"github.com/soundrise/notify/preference"
)

type captureSubmitter struct {
	mu        sync.Mutex
	submitted []notification.Notification
	err       error
}

func (c *captureSubmitter) submit(_ context.Context, n notification.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.submitted = append(c.submitted, n)
	return nil
}

func (c *captureSubmitter) all() []notification.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notification.Notification(nil), c.submitted...)
}

func seedNotification(t *testing.T, store notification.Storage, userID string, cat notification.Category) string {
	t.Helper()
	id := uuid.New().String()
	err := store.Create(context.Background(), notification.Notification{
		ID:       id,
		UserID:   userID,
		Type:     "test_event",
		Category: cat,
		Priority: notification.PriorityNormal,
		Title:    "hello",
		Message:  "world",
		Channels: []notification.Channel{notification.ChannelInApp},
	})
	require.NoError(t, err)
	return id
}

func dailyPrefs(userID string, cats ...notification.Category) preference.Preferences {
	p := preference.Default(userID)
	for _, cat := range cats {
		cp := p.Categories[cat]
		cp.DigestFrequency = preference.DigestDaily
		p.Categories[cat] = cp
	}
	return p
}

func TestAggregator_Generate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("groups notifications into sections by category", func(t *testing.T) {
		t.Parallel()

		store := notification.NewMemoryStorage()
		prefs := preference.NewMemoryStorage()
		require.NoError(t, prefs.Save(ctx, dailyPrefs("user-1",
			notification.CategorySocial, notification.CategoryMusic)))

		socialID := seedNotification(t, store, "user-1", notification.CategorySocial)
		musicID := seedNotification(t, store, "user-1", notification.CategoryMusic)

		sub := &captureSubmitter{}
		agg := digest.New(store, prefs, sub.submit)

		d, err := agg.Generate(ctx, "user-1", digest.CycleDaily)
		require.NoError(t, err)
		require.NotNil(t, d)
		require.Len(t, d.Sections, 2)

		var ids []string
		for _, s := range d.Sections {
			assert.NotEmpty(t, s.Title)
			ids = append(ids, s.NotificationIDs...)
		}
		assert.ElementsMatch(t, []string{socialID, musicID}, ids)
	})

	t.Run("submits one synthetic digest notification", func(t *testing.T) {
		t.Parallel()

		store := notification.NewMemoryStorage()
		prefs := preference.NewMemoryStorage()
		require.NoError(t, prefs.Save(ctx, dailyPrefs("user-1", notification.CategorySocial)))
		seedNotification(t, store, "user-1", notification.CategorySocial)

		sub := &captureSubmitter{}
		agg := digest.New(store, prefs, sub.submit)

		_, err := agg.Generate(ctx, "user-1", digest.CycleDaily)
		require.NoError(t, err)

		submitted := sub.all()
		require.Len(t, submitted, 1)
		assert.Equal(t, notification.TypeDigest, submitted[0].Type)
		assert.Equal(t, notification.CategorySystem, submitted[0].Category)
		assert.Equal(t, notification.PriorityLow, submitted[0].Priority)
		assert.Equal(t, []notification.Channel{notification.ChannelEmail}, submitted[0].Channels)
		assert.Equal(t, "user-1", submitted[0].UserID)
	})

	t.Run("respects configured digest channel", func(t *testing.T) {
		t.Parallel()

		store := notification.NewMemoryStorage()
		prefs := preference.NewMemoryStorage()
		p := dailyPrefs("user-1", notification.CategorySocial)
		cp := p.Categories[notification.CategorySocial]
		cp.DigestChannel = notification.ChannelPush
		p.Categories[notification.CategorySocial] = cp
		require.NoError(t, prefs.Save(ctx, p))
		seedNotification(t, store, "user-1", notification.CategorySocial)

		sub := &captureSubmitter{}
		agg := digest.New(store, prefs, sub.submit)

		_, err := agg.Generate(ctx, "user-1", digest.CycleDaily)
		require.NoError(t, err)

		submitted := sub.all()
		require.Len(t, submitted, 1)
		assert.Equal(t, []notification.Channel{notification.ChannelPush}, submitted[0].Channels)
	})

	t.Run("sections and channel are deterministic", func(t *testing.T) {
		t.Parallel()

		store := notification.NewMemoryStorage()
		prefs := preference.NewMemoryStorage()
		p := dailyPrefs("user-1", notification.CategoryMusic, notification.CategorySocial)
		music := p.Categories[notification.CategoryMusic]
		music.DigestChannel = notification.ChannelPush
		p.Categories[notification.CategoryMusic] = music
		social := p.Categories[notification.CategorySocial]
		social.DigestChannel = notification.ChannelInApp
		p.Categories[notification.CategorySocial] = social
		require.NoError(t, prefs.Save(ctx, p))

		// Equivalent input yields the same section order and channel on every
		// run. Categories sort lexically, so music comes first and its
		// configured channel wins. Each pass stamps its notifications, so a
		// fresh pair is seeded per run.
		for i := 0; i < 5; i++ {
			seedNotification(t, store, "user-1", notification.CategorySocial)
			seedNotification(t, store, "user-1", notification.CategoryMusic)

			sub := &captureSubmitter{}
			agg := digest.New(store, prefs, sub.submit)

			d, err := agg.Generate(ctx, "user-1", digest.CycleDaily)
			require.NoError(t, err)
			require.NotNil(t, d)
			require.Len(t, d.Sections, 2)
			assert.Equal(t, notification.CategoryMusic, d.Sections[0].Category)
			assert.Equal(t, notification.CategorySocial, d.Sections[1].Category)

			submitted := sub.all()
			require.Len(t, submitted, 1)
			assert.Equal(t, []notification.Channel{notification.ChannelPush}, submitted[0].Channels)
		}
	})

	t.Run("notification appears in at most one digest", func(t *testing.T) {
		t.Parallel()

		store := notification.NewMemoryStorage()
		prefs := preference.NewMemoryStorage()
		require.NoError(t, prefs.Save(ctx, dailyPrefs("user-1", notification.CategorySocial)))

		dayOneID := seedNotification(t, store, "user-1", notification.CategorySocial)

		sub := &captureSubmitter{}
		agg := digest.New(store, prefs, sub.submit)

		d1, err := agg.Generate(ctx, "user-1", digest.CycleDaily)
		require.NoError(t, err)
		require.NotNil(t, d1)
		require.Len(t, d1.Sections, 1)
		assert.Equal(t, []string{dayOneID}, d1.Sections[0].NotificationIDs)

		// A new notification arrives between cycles.
		dayTwoID := seedNotification(t, store, "user-1", notification.CategorySocial)

		d2, err := agg.Generate(ctx, "user-1", digest.CycleDaily)
		require.NoError(t, err)
		require.NotNil(t, d2)
		require.Len(t, d2.Sections, 1)
		assert.Equal(t, []string{dayTwoID}, d2.Sections[0].NotificationIDs)
	})

	t.Run("returns nil when no category is enrolled", func(t *testing.T) {
		t.Parallel()

		store := notification.NewMemoryStorage()
		prefs := preference.NewMemoryStorage()
		require.NoError(t, prefs.Save(ctx, preference.Default("user-1")))
		seedNotification(t, store, "user-1", notification.CategorySocial)

		sub := &captureSubmitter{}
		agg := digest.New(store, prefs, sub.submit)

		d, err := agg.Generate(ctx, "user-1", digest.CycleDaily)
		require.NoError(t, err)
		assert.Nil(t, d)
		assert.Empty(t, sub.all())
	})

	t.Run("returns nil when nothing to digest", func(t *testing.T) {
		t.Parallel()

		store := notification.NewMemoryStorage()
		prefs := preference.NewMemoryStorage()
		require.NoError(t, prefs.Save(ctx, dailyPrefs("user-1", notification.CategorySocial)))

		sub := &captureSubmitter{}
		agg := digest.New(store, prefs, sub.submit)

		d, err := agg.Generate(ctx, "user-1", digest.CycleDaily)
		require.NoError(t, err)
		assert.Nil(t, d)
		assert.Empty(t, sub.all())
	})

	t.Run("skips categories on a different cycle", func(t *testing.T) {
		t.Parallel()

		store := notification.NewMemoryStorage()
		prefs := preference.NewMemoryStorage()
		p := preference.Default("user-1")
		cp := p.Categories[notification.CategoryMusic]
		cp.DigestFrequency = preference.DigestWeekly
		p.Categories[notification.CategoryMusic] = cp
		require.NoError(t, prefs.Save(ctx, p))
		seedNotification(t, store, "user-1", notification.CategoryMusic)

		sub := &captureSubmitter{}
		agg := digest.New(store, prefs, sub.submit)

		d, err := agg.Generate(ctx, "user-1", digest.CycleDaily)
		require.NoError(t, err)
		assert.Nil(t, d)

		d, err = agg.Generate(ctx, "user-1", digest.CycleWeekly)
		require.NoError(t, err)
		require.NotNil(t, d)
		require.Len(t, d.Sections, 1)
	})

	t.Run("excludes digest notifications themselves", func(t *testing.T) {
		t.Parallel()

		store := notification.NewMemoryStorage()
		prefs := preference.NewMemoryStorage()
		require.NoError(t, prefs.Save(ctx, dailyPrefs("user-1", notification.CategorySystem)))

		require.NoError(t, store.Create(ctx, notification.Notification{
			ID:       uuid.New().String(),
			UserID:   "user-1",
			Type:     notification.TypeDigest,
			Category: notification.CategorySystem,
			Title:    "Your daily Soundrise digest",
			Message:  "yesterday's digest",
		}))

		sub := &captureSubmitter{}
		agg := digest.New(store, prefs, sub.submit)

		d, err := agg.Generate(ctx, "user-1", digest.CycleDaily)
		require.NoError(t, err)
		assert.Nil(t, d)
	})

	t.Run("does not stamp when submit fails", func(t *testing.T) {
		t.Parallel()

		store := notification.NewMemoryStorage()
		prefs := preference.NewMemoryStorage()
		require.NoError(t, prefs.Save(ctx, dailyPrefs("user-1", notification.CategorySocial)))
		id := seedNotification(t, store, "user-1", notification.CategorySocial)

		sub := &captureSubmitter{err: errors.New("pipeline down")}
		agg := digest.New(store, prefs, sub.submit)

		_, err := agg.Generate(ctx, "user-1", digest.CycleDaily)
		require.Error(t, err)

		n, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, n.IncludedInDigest, "a failed cycle must remain retryable")
	})
}

func TestAggregator_RunCycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("covers every enrolled user", func(t *testing.T) {
		t.Parallel()

		store := notification.NewMemoryStorage()
		prefs := preference.NewMemoryStorage()
		require.NoError(t, prefs.Save(ctx, dailyPrefs("user-1", notification.CategorySocial)))
		require.NoError(t, prefs.Save(ctx, dailyPrefs("user-2", notification.CategorySocial)))

		seedNotification(t, store, "user-1", notification.CategorySocial)
		seedNotification(t, store, "user-2", notification.CategorySocial)

		sub := &captureSubmitter{}
		agg := digest.New(store, prefs, sub.submit)

		require.NoError(t, agg.RunCycle(ctx, digest.CycleDaily))

		submitted := sub.all()
		require.Len(t, submitted, 2)
		users := []string{submitted[0].UserID, submitted[1].UserID}
		assert.ElementsMatch(t, []string{"user-1", "user-2"}, users)
	})
}

func TestAggregator_Run(t *testing.T) {
	t.Parallel()

	t.Run("fires the daily cycle after a day", func(t *testing.T) {
		t.Parallel()

		clock := clockwork.NewFakeClock()
		store := notification.NewMemoryStorage()
		prefs := preference.NewMemoryStorage()
		require.NoError(t, prefs.Save(context.Background(),
			dailyPrefs("user-1", notification.CategorySocial)))
		seedNotification(t, store, "user-1", notification.CategorySocial)

		sub := &captureSubmitter{}
		agg := digest.New(store, prefs, sub.submit,
			digest.WithClock(clock),
			digest.WithCheckInterval(time.Minute),
		)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- agg.Run(ctx)
		}()

		// Let the run loop reach its ticker before advancing.
		require.NoError(t, clock.BlockUntilContext(ctx, 1))

		clock.Advance(24*time.Hour + time.Minute)
		require.Eventually(t, func() bool {
			return len(sub.all()) == 1
		}, time.Second, 10*time.Millisecond)

		cancel()
		require.ErrorIs(t, <-done, context.Canceled)
	})
}
