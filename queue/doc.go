// Package queue implements the in-memory priority queues of the notification
// engine and the retry policy applied to transient channel failures.
//
// The Manager keeps one logical queue per priority tier, ordered by ascending
// ScheduledAt. DrainReady always exhausts higher tiers first within a tick's
// budget; starvation of lower tiers under sustained urgent load is an accepted
// tradeoff, not a bug.
package queue
