// Package logging builds slog loggers with console and JSON handlers and
// standardized attribute keys shared across the pipeline components.
package logging
