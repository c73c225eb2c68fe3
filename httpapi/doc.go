// Package httpapi exposes the notification engine over HTTP: submission and
// bulk submission, per-user notification feeds and read-state transitions,
// preference management, template administration, on-demand digests, a
// server-sent events stream of lifecycle transitions, Prometheus metrics and
// a health endpoint.
package httpapi
