package ports

import (
	"context"
	"time"

	"github.com/aretw0/redliner/pkg/domain"
)

// StateStore defines the interface for persisting whole session records.
// Implementations must commit a record atomically so that a concurrent Load
// observes either the previous or the next record, never a mix.
type StateStore interface {
	// Save persists the session under the given ID.
	Save(ctx context.Context, sessionID string, session *domain.Session) error

	// Load retrieves the session for a given ID.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// Delete removes the record for a given ID.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of every stored record.
	List(ctx context.Context) ([]string, error)
}

// SessionStore is the only path through which session state changes.
// Writes to one session are serialized; reads never block on writers.
type SessionStore interface {
	// Create persists a new pending session and returns its ID.
	Create(ctx context.Context, session *domain.Session) (string, error)

	// Get returns the last committed record.
	// Deleted sessions return domain.ErrSessionNotFound.
	Get(ctx context.Context, sessionID string) (*domain.Session, error)

	// Claim moves a non-running session to running.
	// A running session returns domain.ErrBusy.
	Claim(ctx context.Context, sessionID string) (*domain.Session, error)

	// AppendStageResult merges a single-section update, appends the successful
	// execution and advances the cursor past the stage.
	AppendStageResult(ctx context.Context, sessionID string, update domain.StageResults, exec domain.StageExecution) (*domain.Session, error)

	// AppendExecution records a failed attempt.
	AppendExecution(ctx context.Context, sessionID string, exec domain.StageExecution) (*domain.Session, error)

	// Advance raises the cursor. Lower values are ignored.
	Advance(ctx context.Context, sessionID string, cursor int) (*domain.Session, error)

	// Finish moves a running session to a terminal status.
	Finish(ctx context.Context, sessionID string, status domain.Status, errMsg string) (*domain.Session, error)

	// Rewind clears the results of stage and every later stage so they run again.
	Rewind(ctx context.Context, sessionID string, stage domain.Stage) (*domain.Session, error)

	// Delete tombstones the session. Deleting twice is not an error.
	Delete(ctx context.Context, sessionID string) error

	// List returns a user's sessions, most recently updated first.
	// An empty userID lists every user; limit <= 0 means no limit.
	List(ctx context.Context, userID string, limit int) ([]domain.SessionSummary, error)

	// Purge deletes sessions not updated since olderThan and returns their last records.
	Purge(ctx context.Context, olderThan time.Time) ([]*domain.Session, error)
}
