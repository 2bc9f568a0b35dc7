package api

import (
	"net/http"

	"sifter/internal/preflight"
)

// handleStatus reports session counts and readiness. The LLM round trip only
// runs with ?llm=1.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	checks := preflight.RunAll(r.Context(), s.cfg, preflight.Options{
		DB:      s.db,
		SkipLLM: !truthy(r.URL.Query().Get("llm")),
	})
	writeJSON(w, http.StatusOK, StatusResponse{
		Sessions: StatsMap(stats),
		Checks:   checks,
		Ready:    len(preflight.Failed(checks)) == 0,
	})
}
