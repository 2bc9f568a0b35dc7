// Package services defines shared utilities consumed by the workflow engine
// and its collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, chunk indexes, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, and Kind for turning a
//     marked error into a stable classification string.
//
// Attach markers at component boundaries so callers can branch on
// errors.Is without parsing messages.
package services
