// Package logging builds the slog loggers used across meridian daemons and
// the CLI. It owns handler construction (console or JSON), the shared
// structured field name constants, and small attr helpers so call sites
// stay terse.
package logging
