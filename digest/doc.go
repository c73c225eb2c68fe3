// Package digest rolls low-urgency notifications into periodic per-user
// summaries.
//
// Users opt categories into a daily or weekly digest through their
// preferences. The aggregator collects unarchived notifications for
// those categories, groups them into sections, and submits a single synthetic
// digest notification back through the normal delivery pipeline. Included
// notifications are stamped so each one appears in at most one digest.
//
// Usage:
//
//	agg := digest.New(store, prefs, engine.Send,
//		digest.WithCheckInterval(time.Minute),
//	)
//	go agg.Run(ctx)
package digest
