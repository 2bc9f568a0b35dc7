// Package notifications pushes session outcomes to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers never need to check whether notifications are enabled. Per-event
// toggles in config.Notifications decide which outcomes are sent.
package notifications
