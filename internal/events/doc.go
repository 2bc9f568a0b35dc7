// Package events defines the progress events emitted by workflow runs and the
// fan-out that carries them.
//
// Hub keeps a bounded, sequence-numbered buffer of recent events and wakes
// long-polling readers when new ones arrive. Sinks attached to the hub receive
// every event; NATSPublisher is the sink that forwards events to a NATS
// subject per session.
package events
