// Package session persists workflow sessions: the durable job record behind
// every chunked run.
//
// Sessions live in the shared SQL store (see internal/database). Names are
// unique among active sessions and collisions are resolved by appending
// " (n)". Status moves forward only: pending, processing, then completed or
// failed. Deletion is a soft delete that clears is_active and leaves the row
// and any result artifact in place. The engine records a checkpoint (next
// cursor, accepted and failed counts) after every chunk so an interrupted run
// can resume.
package session
