// Package config loads, normalizes, and validates Sifter configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENROUTER_API_KEY and DATABASE_URL. The Config type centralizes every knob
// the engine, API server, and CLI need so storage locations, analyzer
// credentials, and chunking policy are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
