// Package notifications delivers optional push notifications for batch
// lifecycle events via ntfy. When no topic is configured a noop
// implementation is returned.
package notifications
