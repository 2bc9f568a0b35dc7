package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"sifter/internal/events"
	"sifter/internal/logging"
	"sifter/internal/workflow"
)

const (
	// inline workbooks arrive base64 encoded in the JSON body
	maxCreateBody = 64 << 20
	xlsxMediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ndjsonType    = "application/x-ndjson"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	list, err := s.engine.ListSessions(r.Context(), strings.TrimSpace(query.Get("owner")), limit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	out := make([]Session, 0, len(list))
	for _, sess := range list {
		out = append(out, FromSession(sess, s.engine.Running(sess.ID)))
	}
	writeJSON(w, http.StatusOK, SessionListResponse{Sessions: out})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	sess, err := s.engine.CreateSession(r.Context(), workflow.CreateRequest{
		Name:             req.Name,
		SourceLocator:    req.Source,
		OriginalFilename: req.Filename,
		Topic:            req.Topic,
		ChunkSize:        req.ChunkSize,
		OwnerID:          req.OwnerID,
		ModelID:          req.ModelID,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{Session: FromSession(sess, false)})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: FromSession(sess, s.engine.Running(sess.ID))})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if err := s.engine.DeleteSession(r.Context(), sess.ID); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRun streams events as NDJSON. Closing the connection cancels the run;
// the session keeps its checkpoint and can be run again.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["id"]
	if truthy(r.URL.Query().Get("detach")) {
		s.runDetached(w, r, ref)
		return
	}

	stream, err := s.engine.Run(r.Context(), ref)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// runs outlive the server write timeout
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", ndjsonType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	encoder := json.NewEncoder(w)
	writable := true
	for evt := range stream {
		if !writable {
			continue
		}
		if err := encoder.Encode(evt); err != nil {
			writable = false
			continue
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			writable = false
		}
	}
}

func (s *Server) runDetached(w http.ResponseWriter, r *http.Request, ref string) {
	stream, err := s.engine.Run(s.runContext(), ref)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	logger := logging.WithContext(r.Context(), s.logger)
	s.detached.Add(1)
	go func() {
		defer s.detached.Done()
		var last events.Event
		for evt := range stream {
			last = evt
		}
		logger.Info("detached run finished",
			logging.SessionID(last.SessionID),
			logging.String("result", string(last.Type)),
		)
	}()

	sess, err := s.engine.GetSession(r.Context(), ref)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SessionResponse{Session: FromSession(sess, true)})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.Finalize(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FromSummary(summary))
}

// handleResults serves the session artifact as a workbook download.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["id"]
	sess, err := s.engine.GetSession(r.Context(), ref)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	path, err := s.engine.ResultPath(r.Context(), sess.ID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	file, err := os.Open(path)
	if err != nil {
		s.writeFailure(w, r, fmt.Errorf("open artifact: %w", err))
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		s.writeFailure(w, r, fmt.Errorf("stat artifact: %w", err))
		return
	}

	w.Header().Set("Content-Type", xlsxMediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(sess.ID)))
	http.ServeContent(w, r, downloadName(sess.ID), info.ModTime(), file)
}

func downloadName(sessionID string) string {
	return "processed_keywords_" + sessionID + ".xlsx"
}

func truthy(value string) bool {
	value = strings.TrimSpace(value)
	return value == "1" || strings.EqualFold(value, "true") || strings.EqualFold(value, "yes")
}
