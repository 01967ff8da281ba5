package domain

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusPending   Status = "pending"   // Created, never run
	StatusRunning   Status = "running"   // Claimed by an orchestrator
	StatusCompleted Status = "completed" // Every stage committed a result
	StatusPartial   Status = "partial"   // Mandatory stages done, some best-effort stage failed
	StatusFailed    Status = "failed"    // A mandatory stage failed or the run was interrupted
)

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// Session is the persistent record of one document review.
type Session struct {
	ID          string `json:"session_id"`
	UserID      string `json:"user_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`

	// DocumentKey locates the original upload in the document store.
	DocumentKey string `json:"document_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Status Status `json:"status"`

	// StageCursor is the index of the next stage to attempt.
	// It only moves backwards through an explicit rewind.
	StageCursor int `json:"stage_cursor"`

	Results    StageResults     `json:"stage_results"`
	Executions []StageExecution `json:"executions,omitempty"`

	// Error holds the verbatim message of a fatal failure.
	Error string `json:"error,omitempty"`

	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// Sealed carries the encrypted record when a store middleware wraps the session.
	Sealed []byte `json:"sealed,omitempty"`
}

// Deleted reports whether the session is tombstoned.
func (s *Session) Deleted() bool {
	return s.DeletedAt != nil
}

// NextStage returns the stage the cursor points at.
func (s *Session) NextStage() (Stage, bool) {
	return StageAt(s.StageCursor)
}

// LastExecution returns the most recent execution recorded for stage.
func (s *Session) LastExecution(stage Stage) (StageExecution, bool) {
	for i := len(s.Executions) - 1; i >= 0; i-- {
		if s.Executions[i].Stage == stage {
			return s.Executions[i], true
		}
	}
	return StageExecution{}, false
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Results = s.Results.Clone()
	out.Executions = cloneSlice(s.Executions)
	out.Sealed = cloneSlice(s.Sealed)
	if s.ClaimedAt != nil {
		t := *s.ClaimedAt
		out.ClaimedAt = &t
	}
	if s.DeletedAt != nil {
		t := *s.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

// Summary projects the session into a history entry.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		SessionID: s.ID,
		UserID:    s.UserID,
		Filename:  s.Filename,
		Status:    s.Status,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// SessionSummary is one entry of a user's review history.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Filename  string    `json:"filename"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
