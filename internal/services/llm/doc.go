// Package llm provides an OpenRouter-compatible chat client used by the
// keyword analyzer.
//
// CompleteJSON sends a system and user prompt with JSON response mode and
// temperature 0, returning the raw JSON content. DecodeLLMJSON tolerates code
// fences and surrounding prose. HealthCheck verifies the key and model.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx, empty content, and network timeouts
// with exponential backoff (base 1s, max 10s, up to 5 attempts by default),
// honouring Retry-After. Context cancellation aborts retries immediately.
package llm
