// Package hub provides the in-process publish/subscribe registry the
// notification engine uses to announce lifecycle transitions (received, sent,
// read, dismissed, archived) to interested listeners.
package hub
