package api

import (
	"time"

	"sifter/internal/events"
	"sifter/internal/preflight"
	"sifter/internal/session"
	"sifter/internal/settings"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Session describes a session record in a transport-friendly format.
type Session struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Source           string  `json:"source"`
	OriginalFilename string  `json:"originalFilename,omitempty"`
	Topic            string  `json:"topic"`
	ChunkSize        int     `json:"chunkSize"`
	Status           string  `json:"status"`
	Running          bool    `json:"running"`
	TotalRows        int     `json:"totalRows"`
	NextCursor       int     `json:"nextCursor"`
	Progress         float64 `json:"progress"`
	TotalAccepted    int     `json:"totalAccepted"`
	FailedChunks     int     `json:"failedChunks"`
	ResultLocator    string  `json:"resultLocator,omitempty"`
	ErrorMessage     string  `json:"errorMessage,omitempty"`
	OwnerID          string  `json:"ownerId,omitempty"`
	ModelID          string  `json:"modelId,omitempty"`
	CreatedAt        string  `json:"createdAt,omitempty"`
	UpdatedAt        string  `json:"updatedAt,omitempty"`
	CompletedAt      string  `json:"completedAt,omitempty"`
}

// SessionResponse wraps a single session.
type SessionResponse struct {
	Session Session `json:"session"`
}

// SessionListResponse wraps a collection of sessions.
type SessionListResponse struct {
	Sessions []Session `json:"sessions"`
}

// CreateSessionRequest is the body of POST /api/sessions. Source is a
// server-side path or an inline data:/base64: workbook.
type CreateSessionRequest struct {
	Name      string `json:"name"`
	Source    string `json:"source"`
	Filename  string `json:"filename"`
	Topic     string `json:"topic"`
	ChunkSize int    `json:"chunkSize"`
	OwnerID   string `json:"ownerId"`
	ModelID   string `json:"modelId"`
}

// Summary is the finalize result of a session.
type Summary struct {
	SessionID     string `json:"sessionId"`
	Status        string `json:"status"`
	TotalRows     int    `json:"totalRows"`
	TotalAccepted int    `json:"totalAccepted"`
	FailedChunks  int    `json:"failedChunks"`
	ResultLocator string `json:"resultLocator,omitempty"`
	ArtifactBytes int64  `json:"artifactBytes"`
	CompletedAt   string `json:"completedAt,omitempty"`
}

// Setting is one stored workflow setting.
type Setting struct {
	Workflow    string `json:"workflow"`
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

// SettingListResponse wraps the settings of one workflow.
type SettingListResponse struct {
	Workflow string    `json:"workflow"`
	Settings []Setting `json:"settings"`
}

// SetSettingRequest is the body of PUT /api/settings/{key}.
type SetSettingRequest struct {
	Value       string `json:"value"`
	Description string `json:"description"`
}

// EventsResponse carries a page of progress events and the cursor to resume from.
type EventsResponse struct {
	Events []events.Event `json:"events"`
	Next   uint64         `json:"next"`
}

// StatusResponse reports session counts and readiness checks.
type StatusResponse struct {
	Sessions map[string]int     `json:"sessions"`
	Checks   []preflight.Result `json:"checks"`
	Ready    bool               `json:"ready"`
}

// FromSession converts a session record into its transport representation.
func FromSession(sess *session.Session, running bool) Session {
	if sess == nil {
		return Session{}
	}
	return Session{
		ID:               sess.ID,
		Name:             sess.Name,
		Source:           sess.SourceLocator,
		OriginalFilename: sess.OriginalFilename,
		Topic:            sess.Topic,
		ChunkSize:        sess.ChunkSize,
		Status:           string(sess.Status),
		Running:          running,
		TotalRows:        sess.TotalRows,
		NextCursor:       sess.NextCursor,
		Progress:         sess.Progress(),
		TotalAccepted:    sess.TotalAccepted,
		FailedChunks:     sess.FailedChunks,
		ResultLocator:    sess.ResultLocator,
		ErrorMessage:     sess.ErrorMessage,
		OwnerID:          sess.OwnerID,
		ModelID:          sess.ModelID,
		CreatedAt:        formatTime(sess.CreatedAt),
		UpdatedAt:        formatTime(sess.UpdatedAt),
		CompletedAt:      formatTimePtr(sess.CompletedAt),
	}
}

// FromSummary converts an engine summary.
func FromSummary(sum events.Summary) Summary {
	return Summary{
		SessionID:     sum.SessionID,
		Status:        sum.Status,
		TotalRows:     sum.TotalRows,
		TotalAccepted: sum.TotalAccepted,
		FailedChunks:  sum.FailedChunks,
		ResultLocator: sum.ResultLocator,
		ArtifactBytes: sum.ArtifactBytes,
		CompletedAt:   formatTimePtr(sum.CompletedAt),
	}
}

// FromSetting converts a stored setting.
func FromSetting(s settings.Setting) Setting {
	return Setting{
		Workflow:    s.Workflow,
		Key:         s.Key,
		Value:       s.Value,
		Description: s.Description,
		UpdatedAt:   formatTime(s.UpdatedAt),
	}
}

// StatsMap flattens session counts keyed by status.
func StatsMap(stats session.Stats) map[string]int {
	return map[string]int{
		"total":                          stats.Total,
		string(session.StatusPending):    stats.Pending,
		string(session.StatusProcessing): stats.Processing,
		string(session.StatusCompleted):  stats.Completed,
		string(session.StatusFailed):     stats.Failed,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
