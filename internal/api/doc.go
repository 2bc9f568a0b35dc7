// Package api is the HTTP surface over the workflow engine.
//
// Routes are registered on a gorilla/mux router under /api. When
// paths.api_token is set every request must carry "Authorization: Bearer
// <token>". Errors are returned as {"error": "..."} with a status chosen from
// services.Kind.
//
// POST /api/sessions/{id}/run streams newline-delimited JSON events until the
// run ends. With ?detach=1 the run continues on the server's own context and
// the handler returns 202; progress is then read from GET /api/events.
//
// DTOs use camelCase JSON tags. Events keep the snake_case shape they are
// published with so hub, NATS and HTTP consumers share one decoder.
package api
