// Package logging constructs the application's slog loggers and provides
// the standardized attribute helpers and field names used across packages.
package logging
