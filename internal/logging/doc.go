// Package logging configures slog output for the daemon and CLI and
// provides the standardized attribute helpers used across the codebase.
package logging
