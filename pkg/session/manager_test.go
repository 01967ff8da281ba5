package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/redliner/pkg/adapters/file"
	"github.com/aretw0/redliner/pkg/adapters/memory"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	*memory.Store
}

func (s *SlowStore) Save(ctx context.Context, sessionID string, sess *domain.Session) error {
	time.Sleep(2 * time.Millisecond)
	return s.Store.Save(ctx, sessionID, sess)
}

func (s *SlowStore) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	time.Sleep(2 * time.Millisecond)
	return s.Store.Load(ctx, sessionID)
}

func newManager(t *testing.T) *session.Manager {
	t.Helper()
	return session.NewManager(memory.NewStore())
}

func create(t *testing.T, m *session.Manager, userID string) string {
	t.Helper()
	id, err := m.Create(context.Background(), &domain.Session{UserID: userID, Filename: "contract.txt"})
	require.NoError(t, err)
	return id
}

func exec(stage domain.Stage) domain.StageExecution {
	return domain.StageExecution{Stage: stage, Attempt: 1, InputHash: "in"}
}

func TestManager_CreateAndGet(t *testing.T) {
	m := newManager(t)
	id := create(t, m, "alice")

	s, err := m.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, s.Status)
	assert.Equal(t, 0, s.StageCursor)
	assert.Equal(t, "alice", s.UserID)
	assert.False(t, s.CreatedAt.IsZero())

	_, err = m.Create(context.Background(), &domain.Session{ID: id})
	assert.ErrorIs(t, err, domain.ErrSessionExists)
}

func TestManager_ClaimBusy(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	id := create(t, m, "alice")

	s, err := m.Claim(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, s.Status)
	assert.NotNil(t, s.ClaimedAt)

	_, err = m.Claim(ctx, id)
	assert.ErrorIs(t, err, domain.ErrBusy)

	_, err = m.Finish(ctx, id, domain.StatusFailed, "boom")
	require.NoError(t, err)

	s, err = m.Claim(ctx, id)
	require.NoError(t, err, "failed sessions can be resumed")
	assert.Empty(t, s.Error)
}

func TestManager_ConcurrentClaimsExactlyOneWins(t *testing.T) {
	m := session.NewManager(&SlowStore{Store: memory.NewStore()})
	id := create(t, m, "alice")

	var wins, busy atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Claim(context.Background(), id)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrBusy):
				busy.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(7), busy.Load())
}

func TestManager_AppendStageResult(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	id := create(t, m, "alice")

	update := domain.StageResults{Ingestion: &domain.IngestionResult{NormalizedText: "text"}}

	_, err := m.AppendStageResult(ctx, id, update, exec(domain.StageIngestion))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "writes require a claimed session")

	_, err = m.Claim(ctx, id)
	require.NoError(t, err)

	s, err := m.AppendStageResult(ctx, id, update, exec(domain.StageIngestion))
	require.NoError(t, err)
	assert.Equal(t, 1, s.StageCursor)
	require.Len(t, s.Executions, 1)
	assert.True(t, s.Executions[0].Success)

	_, err = m.AppendStageResult(ctx, id, update, exec(domain.StageIngestion))
	assert.ErrorIs(t, err, domain.ErrStageCommitted)

	wrong := domain.StageResults{Summary: &domain.SummaryResult{}}
	_, err = m.AppendStageResult(ctx, id, wrong, exec(domain.StageRedline))
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr, "an update must carry the section of its own stage")
}

func TestManager_CursorIsMonotonic(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	id := create(t, m, "alice")
	_, err := m.Claim(ctx, id)
	require.NoError(t, err)

	s, err := m.Advance(ctx, id, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, s.StageCursor)

	s, err = m.Advance(ctx, id, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, s.StageCursor)

	s, err = m.Advance(ctx, id, 99)
	require.NoError(t, err)
	assert.Equal(t, domain.StageCount, s.StageCursor)
}

func TestManager_UpdatedAtIsMonotonic(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := session.NewManager(memory.NewStore(), session.WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	id := create(t, m, "alice")

	first, err := m.Claim(ctx, id)
	require.NoError(t, err)
	second, err := m.AppendExecution(ctx, id, exec(domain.StageIngestion))
	require.NoError(t, err)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestManager_Rewind(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	id := create(t, m, "alice")
	_, err := m.Claim(ctx, id)
	require.NoError(t, err)

	_, err = m.AppendStageResult(ctx, id, domain.StageResults{Ingestion: &domain.IngestionResult{}}, exec(domain.StageIngestion))
	require.NoError(t, err)
	_, err = m.AppendStageResult(ctx, id, domain.StageResults{Extraction: &domain.ExtractionResult{}}, exec(domain.StageExtraction))
	require.NoError(t, err)

	_, err = m.Rewind(ctx, id, domain.StageExtraction)
	assert.ErrorIs(t, err, domain.ErrBusy)

	_, err = m.Finish(ctx, id, domain.StatusFailed, "stopped")
	require.NoError(t, err)

	s, err := m.Rewind(ctx, id, domain.StageExtraction)
	require.NoError(t, err)
	assert.Equal(t, 1, s.StageCursor)
	assert.Equal(t, domain.StatusPending, s.Status)
	assert.NotNil(t, s.Results.Ingestion)
	assert.Nil(t, s.Results.Extraction)
	assert.Len(t, s.Executions, 2, "the execution trace is append-only")
}

func TestManager_DeleteIsIdempotent(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	id := create(t, m, "alice")

	require.NoError(t, m.Delete(ctx, id))
	_, err := m.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	require.NoError(t, m.Delete(ctx, id))
	require.NoError(t, m.Delete(ctx, "never-existed"))
}

func TestManager_DeleteDuringRunRejectsWrites(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	id := create(t, m, "alice")
	_, err := m.Claim(ctx, id)
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, id))

	_, err = m.AppendStageResult(ctx, id, domain.StageResults{Ingestion: &domain.IngestionResult{}}, exec(domain.StageIngestion))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = m.Finish(ctx, id, domain.StatusCompleted, "")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestManager_ListNewestFirst(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	m := session.NewManager(memory.NewStore(), session.WithClock(clock))
	ctx := context.Background()

	a := create(t, m, "alice")
	b := create(t, m, "alice")
	c := create(t, m, "alice")
	_ = create(t, m, "bob")

	// Touch a so it becomes the most recent.
	_, err := m.Claim(ctx, a)
	require.NoError(t, err)

	list, err := m.List(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{a, c, b}, []string{list[0].SessionID, list[1].SessionID, list[2].SessionID})

	limited, err := m.List(ctx, "alice", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	all, err := m.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	require.NoError(t, m.Delete(ctx, b))
	list, err = m.List(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, list, 2, "deleted sessions are hidden from history")
}

func TestManager_Locking(t *testing.T) {
	m := session.NewManager(&SlowStore{Store: memory.NewStore()})
	ctx := context.Background()
	id := create(t, m, "alice")
	_, err := m.Claim(ctx, id)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.AppendExecution(ctx, id, exec(domain.StageRedline))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	s, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, s.Executions, 10, "serialized read-modify-write must not lose appends")
}

func TestSweeper_PurgesStaleSessions(t *testing.T) {
	past := time.Now().Add(-72 * time.Hour)
	store := memory.NewStore()
	old := session.NewManager(store, session.WithClock(func() time.Time { return past }))
	m := session.NewManager(store)
	ctx := context.Background()

	stale := create(t, old, "alice")
	fresh := create(t, m, "alice")

	sweeper := session.NewSweeper(m, 24*time.Hour, time.Minute, nil)
	var removed []string
	sweeper.OnPurged = func(ctx context.Context, s *domain.Session) {
		removed = append(removed, s.ID)
	}

	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{stale}, removed)

	_, err = m.Get(ctx, stale)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = m.Get(ctx, fresh)
	assert.NoError(t, err)
}

func TestManager_StaleClaimIsResumedAfterRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	crashed := session.NewManager(file.New(dir), session.WithClock(func() time.Time { return start }))
	id := create(t, crashed, "alice")
	_, err := crashed.Claim(ctx, id)
	require.NoError(t, err)
	_, err = crashed.AppendStageResult(ctx, id, domain.StageResults{Ingestion: &domain.IngestionResult{NormalizedText: "body"}}, exec(domain.StageIngestion))
	require.NoError(t, err)

	now := start.Add(10 * time.Minute)
	restarted := session.NewManager(file.New(dir),
		session.WithClaimTTL(30*time.Minute),
		session.WithClock(func() time.Time { return now }),
	)

	_, err = restarted.Claim(ctx, id)
	assert.ErrorIs(t, err, domain.ErrBusy, "a recent claim is still live")
	_, err = restarted.Rewind(ctx, id, domain.StageIngestion)
	assert.ErrorIs(t, err, domain.ErrBusy)

	now = start.Add(24 * time.Hour)
	s, err := restarted.Claim(ctx, id)
	require.NoError(t, err, "an abandoned claim can be taken over")
	assert.Equal(t, domain.StatusRunning, s.Status)
	assert.True(t, s.ClaimedAt.Equal(now))
	assert.NotNil(t, s.Results.Ingestion, "committed stages survive the takeover")
	assert.Equal(t, 1, s.StageCursor)

	_, err = restarted.Claim(ctx, id)
	assert.ErrorIs(t, err, domain.ErrBusy, "the new claim is live again")
}

func TestManager_ClaimNeverGoesStaleWithoutTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	m := session.NewManager(memory.NewStore(), session.WithClock(func() time.Time { return now }))
	id := create(t, m, "alice")
	_, err := m.Claim(ctx, id)
	require.NoError(t, err)

	now = now.Add(365 * 24 * time.Hour)
	_, err = m.Claim(ctx, id)
	assert.ErrorIs(t, err, domain.ErrBusy)
}
