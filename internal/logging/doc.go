// Package logging builds the slog loggers used across Sifter.
//
// New and NewFromConfig pick between a human readable console handler and a
// JSON handler, tee output into a lumberjack-rotated file under the log
// directory, and expose helpers (WithContext, WarnWithContext,
// ErrorWithContext) that keep session, chunk, and correlation fields
// consistent across components.
package logging
