package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Forward-only transitions. Self transitions on non-terminal states let the
// engine refresh counters without changing state.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusPending:    {},
		StatusProcessing: {},
		StatusFailed:     {},
	},
	StatusProcessing: {
		StatusProcessing: {},
		StatusCompleted:  {},
		StatusFailed:     {},
	},
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus normalizes a user supplied status string.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[status]
	return status, ok
}

// Terminal reports whether no further status change is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is permitted.
func (s Status) CanTransition(next Status) bool {
	targets, ok := allowedTransitions[s]
	if !ok {
		return false
	}
	_, ok = targets[next]
	return ok
}

// ErrInvalidTransition marks an attempt to move a session backwards or out of
// a terminal state. It indicates a caller bug rather than bad user input.
var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError describes a rejected status change.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session %s: %s: %s -> %s", e.ID, ErrInvalidTransition, e.From, e.To)
}

// Is matches ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Session is the durable record for one source-to-result run.
type Session struct {
	ID               string
	Name             string
	SourceLocator    string
	OriginalFilename string
	Topic            string
	ChunkSize        int
	ResultLocator    string
	TotalAccepted    int
	FailedChunks     int
	NextCursor       int
	TotalRows        int
	Status           Status
	ErrorMessage     string
	OwnerID          string
	ModelID          string
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// Progress returns the processed share of source rows as a percentage.
func (s *Session) Progress() float64 {
	if s == nil || s.TotalRows <= 0 {
		return 0
	}
	if s.NextCursor >= s.TotalRows {
		return 100
	}
	return float64(s.NextCursor) * 100 / float64(s.TotalRows)
}

// CreateParams describes a new session.
type CreateParams struct {
	Name             string
	SourceLocator    string
	OriginalFilename string
	Topic            string
	ChunkSize        int
	TotalRows        int
	OwnerID          string
	ModelID          string
}

// Checkpoint is the resumable position recorded after each chunk.
type Checkpoint struct {
	NextCursor    int
	TotalAccepted int
	FailedChunks  int
	TotalRows     int
}

// Stats aggregates active session counts per status.
type Stats struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}
