package events

import "time"

// Type classifies a progress event.
type Type string

const (
	TypeStarted        Type = "started"
	TypeChunkStarted   Type = "chunk_started"
	TypeChunkSkipped   Type = "chunk_skipped"
	TypeChunkCompleted Type = "chunk_completed"
	TypeChunkFailed    Type = "chunk_failed"
	TypeCompleted      Type = "completed"
	TypeFailed         Type = "failed"
	TypeCancelled      Type = "cancelled"
)

// Terminal reports whether the event ends a run's event sequence.
func (t Type) Terminal() bool {
	switch t {
	case TypeCompleted, TypeFailed, TypeCancelled:
		return true
	}
	return false
}

// Event is one step of a session run.
type Event struct {
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	RunID     string    `json:"run_id,omitempty"`
	Type      Type      `json:"type"`
	Message   string    `json:"message,omitempty"`
	// Chunk is the 1-based chunk number for chunk events.
	Chunk     int        `json:"chunk,omitempty"`
	Start     *StartInfo `json:"start,omitempty"`
	Progress  *Progress  `json:"progress,omitempty"`
	Summary   *Summary   `json:"summary,omitempty"`
	Error     string     `json:"error,omitempty"`
	ErrorKind string     `json:"error_kind,omitempty"`
}

// StartInfo describes the source when a run begins.
type StartInfo struct {
	SourceLocator   string   `json:"source"`
	Sheet           string   `json:"sheet"`
	Topic           string   `json:"topic"`
	Columns         []string `json:"columns"`
	TotalRows       int      `json:"total_rows"`
	ChunkSize       int      `json:"chunk_size"`
	EstimatedChunks int      `json:"estimated_chunks"`
	// ResumeFrom is the cursor a resumed run starts at; zero for fresh runs.
	ResumeFrom int `json:"resume_from,omitempty"`
}

// Progress carries per-chunk detail.
type Progress struct {
	// RowStart and RowEnd are 1-based inclusive source rows.
	RowStart        int      `json:"row_start"`
	RowEnd          int      `json:"row_end"`
	Position        int      `json:"position"`
	TotalRows       int      `json:"total_rows"`
	Percent         float64  `json:"percent"`
	RemainingChunks int      `json:"remaining_chunks"`
	Submitted       int      `json:"submitted,omitempty"`
	Terms           []string `json:"terms,omitempty"`
	ChunkAccepted   int      `json:"chunk_accepted"`
	TotalAccepted   int      `json:"total_accepted"`
	AcceptedTerms   []string `json:"accepted_terms,omitempty"`
	SampleReasons   []Sample `json:"sample_reasons,omitempty"`
	Replayed        bool     `json:"replayed,omitempty"`
}

// Sample is a shortened justification shown with chunk results.
type Sample struct {
	Term   string `json:"term"`
	Reason string `json:"reason"`
}

// Summary is the finalize result of a session.
type Summary struct {
	SessionID     string     `json:"session_id"`
	Status        string     `json:"status"`
	TotalRows     int        `json:"total_rows"`
	TotalAccepted int        `json:"total_accepted"`
	FailedChunks  int        `json:"failed_chunks"`
	ResultLocator string     `json:"result_locator,omitempty"`
	ArtifactBytes int64      `json:"artifact_bytes"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
