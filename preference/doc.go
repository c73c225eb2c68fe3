// Package preference implements the policy layer of the notification engine:
// per-user channel toggles, priority thresholds, quiet hours, frequency limits
// and digest enrollment.
//
// The Engine evaluates every candidate notification before it is queued and
// again before every retry attempt fires, so a user who disables notifications
// mid-retry never receives a stale delivery. Evaluation has three outcomes:
//
//   - pass-through, possibly with the channel set trimmed
//   - delayed, with ScheduledAt pushed to the end of the quiet hours window
//   - suppressed (ErrSuppressed), a permanent drop that is never retried
//
// Quiet hours delay, they never drop: a normal-priority notification created
// at 23:00 inside a 22:00-08:00 window is rescheduled to 08:00 the next
// morning. Urgent notifications bypass the window only when the user enabled
// the emergency override.
package preference
