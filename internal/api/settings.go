package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"sifter/internal/services"
)

const maxSettingBody = 1 << 20

// workflowName reads ?workflow=, defaulting to the configured workflow.
func (s *Server) workflowName(r *http.Request) string {
	if name := strings.TrimSpace(r.URL.Query().Get("workflow")); name != "" {
		return name
	}
	return s.cfg.Workflow.Name
}

func (s *Server) requireSettings(w http.ResponseWriter, r *http.Request) bool {
	if s.settings != nil {
		return true
	}
	s.writeFailure(w, r, services.Wrap(services.ErrConfiguration, "api", "settings", "settings provider not configured", nil))
	return false
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	if !s.requireSettings(w, r) {
		return
	}
	name := s.workflowName(r)
	list, err := s.settings.All(r.Context(), name)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	out := make([]Setting, 0, len(list))
	for _, item := range list {
		out = append(out, FromSetting(item))
	}
	writeJSON(w, http.StatusOK, SettingListResponse{Workflow: name, Settings: out})
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	if !s.requireSettings(w, r) {
		return
	}
	name, key := s.workflowName(r), mux.Vars(r)["key"]
	value, found, err := s.settings.Lookup(r.Context(), name, key)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("setting %q not found", key))
		return
	}
	writeJSON(w, http.StatusOK, Setting{Workflow: name, Key: key, Value: value})
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	if !s.requireSettings(w, r) {
		return
	}
	var req SetSettingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSettingBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Value) == "" {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	name, key := s.workflowName(r), mux.Vars(r)["key"]
	if err := s.settings.Set(r.Context(), name, key, req.Value, req.Description); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Setting{Workflow: name, Key: key, Value: req.Value, Description: strings.TrimSpace(req.Description)})
}

func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	if !s.requireSettings(w, r) {
		return
	}
	name, key := s.workflowName(r), mux.Vars(r)["key"]
	deleted, err := s.settings.Delete(r.Context(), name, key)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, fmt.Sprintf("setting %q not found", key))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
