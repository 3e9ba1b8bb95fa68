// Package logging builds the slog loggers used across rigup: a console
// handler for interactive provisioning runs, a JSON handler for collection,
// and helpers that derive structured fields (run ID, step) from context.
package logging
