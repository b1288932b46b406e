// Package logging builds the slog loggers used across slate and defines the
// standardized attribute keys shared by the daemon, engine, and CLI.
package logging
