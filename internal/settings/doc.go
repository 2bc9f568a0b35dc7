// Package settings serves per-workflow configuration values such as the
// analyzer instruction text.
//
// Provider fronts two interchangeable Backends: the workflow_settings table in
// the shared SQL store and a TOML file used only while the database cannot be
// reached. Reads are cached with go-cache for the configured TTL. Callers
// always pass a default, so a missing setting never affects correctness.
package settings
