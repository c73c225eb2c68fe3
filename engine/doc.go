// Package engine assembles the notification delivery pipeline.
//
// A submitted notification flows through the preference engine (suppression,
// channel trimming, quiet-hours delay), into the priority queue, and out
// through the dispatcher's transports when its scheduled instant arrives.
// Transient channel failures are retried with bounded linear backoff;
// preferences are re-checked before every retry. Lifecycle transitions are
// announced on the event hub.
//
// Usage:
//
//	eng := engine.New(store, prefEngine, queueManager, dispatcher, events, templates,
//		engine.WithRetryPolicy(queue.RetryPolicy{MaxRetries: 3, Delay: 5 * time.Second}),
//	)
//	go eng.Run(ctx)
//
//	err := eng.Send(ctx, notification.Notification{
//		UserID:   "user-123",
//		Type:     "battle_challenge",
//		Category: notification.CategoryBattle,
//		Priority: notification.PriorityHigh,
//		Title:    "You've been challenged!",
//		Channels: []notification.Channel{notification.ChannelPush, notification.ChannelInApp},
//	})
package engine
