package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/redliner/internal/logging"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/ports"
	"github.com/google/uuid"
)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager implements ports.SessionStore over a ports.StateStore.
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	store ports.StateStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker   ports.DistributedLocker // Optional distributed locker
	lockTTL  time.Duration
	claimTTL time.Duration // zero: a running claim never goes stale
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

var _ ports.SessionStore = (*Manager)(nil)

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the lease of the distributed lock.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithClaimTTL sets how long a running session may go without a write before its
// claim is considered abandoned and can be taken over by another run.
func WithClaimTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.claimTTL = ttl
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithIDGenerator overrides how session IDs are minted.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		m.newID = fn
	}
}

// NewManager creates a new Session Manager with the given persistence store.
func NewManager(store ports.StateStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: 30 * time.Second,
		logger:  logging.NewNop(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// WithLock executes a function while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, sessionID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			// The lease expires on its own if release fails.
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Store returns the underlying state store.
func (m *Manager) Store() ports.StateStore {
	return m.store
}

// touch returns a timestamp strictly after prev so UpdatedAt never goes backwards.
func (m *Manager) touch(prev time.Time) time.Time {
	now := m.now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

// loadLive returns the stored record, hiding tombstones.
func (m *Manager) loadLive(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Deleted() {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// mutate is the read-modify-write cycle shared by every write operation.
func (m *Manager) mutate(ctx context.Context, sessionID string, fn func(*domain.Session) error) (*domain.Session, error) {
	var out *domain.Session
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := m.loadLive(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		s.UpdatedAt = m.touch(s.UpdatedAt)
		if err := m.store.Save(ctx, sessionID, s); err != nil {
			return fmt.Errorf("failed to persist session: %w", err)
		}
		out = s.Clone()
		return nil
	})
	return out, err
}

// Create persists a new pending session and returns its ID.
// Results, executions and lifecycle fields of the input are reset.
func (m *Manager) Create(ctx context.Context, session *domain.Session) (string, error) {
	if session == nil {
		return "", &domain.ValidationError{Field: "session", Reason: "must not be nil"}
	}
	s := session.Clone()
	if s.ID == "" {
		s.ID = m.newID()
	}
	now := m.now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	s.Status = domain.StatusPending
	s.StageCursor = 0
	s.Results = domain.StageResults{}
	s.Executions = nil
	s.Error = ""
	s.ClaimedAt = nil
	s.DeletedAt = nil

	err := m.WithLock(ctx, s.ID, func(ctx context.Context) error {
		_, err := m.store.Load(ctx, s.ID)
		if err == nil {
			return fmt.Errorf("%w: %s", domain.ErrSessionExists, s.ID)
		}
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return fmt.Errorf("failed to check session existence: %w", err)
		}
		if err := m.store.Save(ctx, s.ID, s); err != nil {
			return fmt.Errorf("failed to initialize session: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	m.logger.Debug("Session created", "session_id", s.ID, "user_id", s.UserID)
	return s.ID, nil
}

// Get returns the last committed record without taking the session lock.
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.loadLive(ctx, sessionID)
}

// busy reports whether a running claim is still live. The lease is renewed by
// every write made during the run, so it is measured from the latest of ClaimedAt
// and UpdatedAt.
func (m *Manager) busy(s *domain.Session) bool {
	if s.Status != domain.StatusRunning {
		return false
	}
	if m.claimTTL <= 0 {
		return true
	}
	last := s.UpdatedAt
	if s.ClaimedAt != nil && s.ClaimedAt.After(last) {
		last = *s.ClaimedAt
	}
	if m.now().Sub(last) <= m.claimTTL {
		return true
	}
	m.logger.Warn("Taking over stale claim", "session_id", s.ID, "last_write", last, "claim_ttl", m.claimTTL)
	return false
}

// Claim moves the session to running. A running session is busy until its
// claim goes stale.
func (m *Manager) Claim(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.mutate(ctx, sessionID, func(s *domain.Session) error {
		if m.busy(s) {
			return domain.ErrBusy
		}
		now := m.now().UTC()
		s.Status = domain.StatusRunning
		s.ClaimedAt = &now
		s.Error = ""
		return nil
	})
}

func requireRunning(s *domain.Session) error {
	if s.Status != domain.StatusRunning {
		return fmt.Errorf("%w: session %s is %s, not running", domain.ErrInvalidTransition, s.ID, s.Status)
	}
	return nil
}

// AppendStageResult commits a single-section update together with its execution.
func (m *Manager) AppendStageResult(ctx context.Context, sessionID string, update domain.StageResults, exec domain.StageExecution) (*domain.Session, error) {
	idx := exec.Stage.Index()
	if idx < 0 {
		return nil, &domain.ValidationError{Field: "stage", Reason: fmt.Sprintf("unknown stage %q", exec.Stage)}
	}
	if err := update.Only(exec.Stage); err != nil {
		return nil, &domain.ValidationError{Field: "update", Reason: err.Error()}
	}
	return m.mutate(ctx, sessionID, func(s *domain.Session) error {
		if err := requireRunning(s); err != nil {
			return err
		}
		if err := s.Results.Merge(update.Clone()); err != nil {
			return err
		}
		exec.Success = true
		s.Executions = append(s.Executions, exec)
		if s.StageCursor < idx+1 {
			s.StageCursor = idx + 1
		}
		return nil
	})
}

// AppendExecution records a failed attempt without touching results or cursor.
func (m *Manager) AppendExecution(ctx context.Context, sessionID string, exec domain.StageExecution) (*domain.Session, error) {
	if exec.Stage.Index() < 0 {
		return nil, &domain.ValidationError{Field: "stage", Reason: fmt.Sprintf("unknown stage %q", exec.Stage)}
	}
	return m.mutate(ctx, sessionID, func(s *domain.Session) error {
		if err := requireRunning(s); err != nil {
			return err
		}
		s.Executions = append(s.Executions, exec)
		return nil
	})
}

// Advance raises the cursor; it never lowers it.
func (m *Manager) Advance(ctx context.Context, sessionID string, cursor int) (*domain.Session, error) {
	if cursor > domain.StageCount {
		cursor = domain.StageCount
	}
	return m.mutate(ctx, sessionID, func(s *domain.Session) error {
		if err := requireRunning(s); err != nil {
			return err
		}
		if cursor > s.StageCursor {
			s.StageCursor = cursor
		}
		return nil
	})
}

// Finish moves a running session to a terminal status.
func (m *Manager) Finish(ctx context.Context, sessionID string, status domain.Status, errMsg string) (*domain.Session, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: %s is not a terminal status", domain.ErrInvalidTransition, status)
	}
	return m.mutate(ctx, sessionID, func(s *domain.Session) error {
		if err := requireRunning(s); err != nil {
			return err
		}
		s.Status = status
		s.Error = errMsg
		s.ClaimedAt = nil
		return nil
	})
}

// Rewind clears stage and every later stage so the next run executes them again.
// Executions are kept: the trace stays append-only.
func (m *Manager) Rewind(ctx context.Context, sessionID string, stage domain.Stage) (*domain.Session, error) {
	idx := stage.Index()
	if idx < 0 {
		return nil, &domain.ValidationError{Field: "stage", Reason: fmt.Sprintf("unknown stage %q", stage)}
	}
	return m.mutate(ctx, sessionID, func(s *domain.Session) error {
		if m.busy(s) {
			return domain.ErrBusy
		}
		for _, st := range domain.Pipeline()[idx:] {
			s.Results.Clear(st)
		}
		if s.StageCursor > idx {
			s.StageCursor = idx
		}
		s.Status = domain.StatusPending
		s.Error = ""
		s.ClaimedAt = nil
		return nil
	})
}

// Delete tombstones the session. Unknown or already deleted sessions are not an error.
// The tombstone keeps identity fields only, so results are gone immediately.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	_, err := m.tombstone(ctx, sessionID, nil)
	return err
}

// tombstone replaces the record with a deletion marker unless keep vetoes it
// after the record is re-read under the lock.
func (m *Manager) tombstone(ctx context.Context, sessionID string, keep func(*domain.Session) bool) (*domain.Session, error) {
	var last *domain.Session
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := m.store.Load(ctx, sessionID)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load session: %w", err)
		}
		if s.Deleted() || (keep != nil && keep(s)) {
			return nil
		}

		now := m.touch(s.UpdatedAt)
		tomb := &domain.Session{
			ID:          s.ID,
			UserID:      s.UserID,
			Filename:    s.Filename,
			DocumentKey: s.DocumentKey,
			CreatedAt:   s.CreatedAt,
			UpdatedAt:   now,
			Status:      s.Status,
			DeletedAt:   &now,
		}
		if err := m.store.Save(ctx, sessionID, tomb); err != nil {
			return fmt.Errorf("failed to tombstone session: %w", err)
		}
		last = s
		return nil
	})
	if err == nil && last != nil {
		m.logger.Info("Session deleted", "session_id", sessionID)
	}
	return last, err
}

// List returns live sessions, most recently updated first.
func (m *Manager) List(ctx context.Context, userID string, limit int) ([]domain.SessionSummary, error) {
	ids, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]domain.SessionSummary, 0, len(ids))
	for _, id := range ids {
		s, err := m.loadLive(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			continue // deleted or expired between List and Load
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load session %s: %w", id, err)
		}
		if userID != "" && s.UserID != userID {
			continue
		}
		out = append(out, s.Summary())
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.SessionID < b.SessionID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Purge tombstones live sessions not updated since olderThan and physically removes
// tombstones older than that. It returns the last live record of each purged session.
func (m *Manager) Purge(ctx context.Context, olderThan time.Time) ([]*domain.Session, error) {
	ids, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var purged []*domain.Session
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		s, err := m.store.Load(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			m.logger.Warn("Skipping unreadable session during purge", "session_id", id, "err", err)
			continue
		}

		if s.Deleted() {
			if s.DeletedAt.Before(olderThan) {
				err := m.WithLock(ctx, id, func(ctx context.Context) error {
					return m.store.Delete(ctx, id)
				})
				if err != nil {
					return purged, fmt.Errorf("failed to remove tombstone %s: %w", id, err)
				}
			}
			continue
		}

		if !s.UpdatedAt.Before(olderThan) {
			continue
		}
		last, err := m.tombstone(ctx, id, func(cur *domain.Session) bool {
			return !cur.UpdatedAt.Before(olderThan)
		})
		if err != nil {
			return purged, err
		}
		if last != nil {
			purged = append(purged, last)
		}
	}
	return purged, nil
}
