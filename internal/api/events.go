package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sifter/internal/events"
)

const (
	defaultEventLimit = 200
	// long polls return before the server write timeout
	maxFollowWait = 25 * time.Second
)

// handleEvents pages through the progress hub. follow=1 long-polls for the
// next matching event; tail=1 with no cursor returns the most recent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeJSON(w, http.StatusOK, EventsResponse{})
		return
	}
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultEventLimit
	}
	follow := truthy(query.Get("follow"))
	tail := truthy(query.Get("tail"))
	sessionID := strings.TrimSpace(query.Get("session"))

	if tail && since == 0 && !follow && sessionID == "" {
		evts, next := s.hub.Tail(limit)
		writeJSON(w, http.StatusOK, EventsResponse{Events: evts, Next: next})
		return
	}

	ctx := r.Context()
	if follow {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxFollowWait)
		defer cancel()
	}
	evts, next, err := s.hub.Fetch(ctx, events.Query{
		Since:     since,
		Limit:     limit,
		SessionID: sessionID,
		Wait:      follow,
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: evts, Next: next})
}
