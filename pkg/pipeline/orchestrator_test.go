package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/redliner/pkg/adapters/memory"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/pipeline"
	"github.com/aretw0/redliner/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *session.Manager
	fakes fakeSet
	clock *fakeClock
	orch  *pipeline.Orchestrator
}

func newFixture(t *testing.T, opts ...pipeline.Option) *fixture {
	t.Helper()
	f := &fixture{
		store: session.NewManager(memory.NewStore()),
		fakes: newFakes(),
		clock: newFakeClock(),
	}
	base := []pipeline.Option{pipeline.WithClock(f.clock)}
	orch, err := pipeline.New(f.store, f.fakes.executors(), append(base, opts...)...)
	require.NoError(t, err)
	f.orch = orch
	return f
}

func (f *fixture) create(t *testing.T) string {
	t.Helper()
	id, err := f.store.Create(context.Background(), &domain.Session{UserID: "u1", Filename: "c.txt"})
	require.NoError(t, err)
	return id
}

func TestNew_RequiresEveryStage(t *testing.T) {
	fakes := newFakes()
	execs := fakes.executors()[:5]
	_, err := pipeline.New(session.NewManager(memory.NewStore()), execs)
	assert.Error(t, err)

	dup := append(fakes.executors(), fakes[domain.StageAudit])
	_, err = pipeline.New(session.NewManager(memory.NewStore()), dup)
	assert.Error(t, err)
}

func TestRun_Completed(t *testing.T) {
	hooks := &recordingHooks{}
	f := newFixture(t, pipeline.WithHooks(hooks))
	id := f.create(t)

	s, err := f.orch.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, s.Status)
	assert.Equal(t, domain.StageCount, s.StageCursor)
	assert.True(t, s.Results.Complete())
	require.Len(t, s.Executions, domain.StageCount)
	for i, e := range s.Executions {
		assert.Equal(t, domain.Pipeline()[i], e.Stage)
		assert.True(t, e.Success)
		assert.Len(t, e.InputHash, 64)
		assert.Len(t, e.OutputHash, 64)
		assert.True(t, e.EndedAt.After(e.StartedAt))
	}
	assert.Equal(t, domain.Pipeline(), hooks.starts)
	assert.Len(t, hooks.ends, domain.StageCount)
	assert.Equal(t, []domain.Status{domain.StatusCompleted}, hooks.finished)
}

func TestRun_FinishedHookSeesTerminalStatus(t *testing.T) {
	hooks := &recordingHooks{}
	f := newFixture(t, pipeline.WithHooks(hooks), pipeline.WithRetryPolicy(pipeline.NoRetry()))
	f.fakes[domain.StageSummary].fn = func(ctx context.Context, snap *domain.Session) (domain.StageResults, error) {
		return domain.StageResults{}, domain.NewStageError(domain.StageSummary, false, "model unavailable")
	}
	f.fakes[domain.StageExtraction].fn = func(ctx context.Context, snap *domain.Session) (domain.StageResults, error) {
		if snap.Filename == "fail.txt" {
			return domain.StageResults{}, domain.NewStageError(domain.StageExtraction, false, "no clauses")
		}
		return okUpdate(domain.StageExtraction), nil
	}
	ctx := context.Background()

	partial, err := f.orch.Run(ctx, f.create(t))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, partial.Status)

	id, err := f.store.Create(ctx, &domain.Session{UserID: "u1", Filename: "fail.txt"})
	require.NoError(t, err)
	failed, err := f.orch.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)

	_, err = f.orch.Run(ctx, partial.ID)
	require.NoError(t, err)

	assert.Equal(t, []domain.Status{domain.StatusPartial, domain.StatusFailed, domain.StatusPartial}, hooks.finished)
}

func TestRun_ResumeDoesNotReinvoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)

	first, err := f.orch.Run(ctx, id)
	require.NoError(t, err)
	before := f.fakes.calls()

	second, err := f.orch.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, f.fakes.calls(), "a re-run must not invoke committed stages")
	assert.Equal(t, domain.StatusCompleted, second.Status)
	assert.GreaterOrEqual(t, second.StageCursor, first.StageCursor)
	assert.Len(t, second.Executions, len(first.Executions))
	assert.True(t, second.UpdatedAt.Equal(first.UpdatedAt), "a no-op run must not move the session up the history")
}

func TestRun_MandatoryFailureKeepsPriorResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fakes[domain.StageExtraction].fn = func(ctx context.Context, snap *domain.Session) (domain.StageResults, error) {
		return domain.StageResults{}, domain.NewStageError(domain.StageExtraction, false, "no clauses could be parsed")
	}
	id := f.create(t)

	s, err := f.orch.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, s.Status)
	assert.Contains(t, s.Error, "no clauses could be parsed")
	assert.Equal(t, 1, s.StageCursor)
	assert.Equal(t, int32(0), f.fakes[domain.StageRiskScoring].calls.Load(), "the pipeline halts")

	stored, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored.Results.Ingestion, "committed outputs survive a fatal failure")
	assert.Nil(t, stored.Results.Extraction)

	// Fix the executor and resume: ingestion is not re-run.
	f.fakes[domain.StageExtraction].fn = nil
	s, err = f.orch.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, s.Status)
	assert.Equal(t, int32(1), f.fakes[domain.StageIngestion].calls.Load())
}

func TestRun_RetriesWithBackoff(t *testing.T) {
	f := newFixture(t, pipeline.WithRetryPolicy(pipeline.DefaultRetryPolicy()))
	failures := 2
	f.fakes[domain.StageRiskScoring].fn = func(ctx context.Context, snap *domain.Session) (domain.StageResults, error) {
		if failures > 0 {
			failures--
			return domain.StageResults{}, domain.NewStageError(domain.StageRiskScoring, true, "rate limited")
		}
		return okUpdate(domain.StageRiskScoring), nil
	}
	id := f.create(t)

	s, err := f.orch.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, s.Status)
	assert.Equal(t, []time.Duration{time.Second, 7 * time.Second}, f.clock.Sleeps())

	var attempts []domain.StageExecution
	for _, e := range s.Executions {
		if e.Stage == domain.StageRiskScoring {
			attempts = append(attempts, e)
		}
	}
	require.Len(t, attempts, 3)
	assert.False(t, attempts[0].Success)
	assert.True(t, attempts[0].Retryable)
	assert.Equal(t, 3, attempts[2].Attempt)
	assert.True(t, attempts[2].Success)
}

func TestRun_BestEffortExhaustedIsPartial(t *testing.T) {
	f := newFixture(t, pipeline.WithRetryPolicy(pipeline.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, Multiplier: 2}))
	f.fakes[domain.StageRedline].fn = func(ctx context.Context, snap *domain.Session) (domain.StageResults, error) {
		return domain.StageResults{}, domain.NewStageError(domain.StageRedline, true, "template service unavailable")
	}
	var summarySawRedline bool
	f.fakes[domain.StageSummary].fn = func(ctx context.Context, snap *domain.Session) (domain.StageResults, error) {
		summarySawRedline = snap.Results.Redline != nil
		return okUpdate(domain.StageSummary), nil
	}
	id := f.create(t)

	s, err := f.orch.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, s.Status)
	assert.Empty(t, s.Error)
	assert.Nil(t, s.Results.Redline)
	assert.NotNil(t, s.Results.Summary)
	assert.NotNil(t, s.Results.Audit)
	assert.False(t, summarySawRedline)
	assert.Equal(t, domain.StageCount, s.StageCursor)
	assert.Equal(t, int32(3), f.fakes[domain.StageRedline].calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.clock.Sleeps())

	last, ok := s.LastExecution(domain.StageRedline)
	require.True(t, ok)
	assert.False(t, last.Success)
	assert.Contains(t, last.ErrorMessage, "template service unavailable")
}

func TestRun_ConcurrentRunsOneBusy(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	started := make(chan struct{})
	f.fakes[domain.StageIngestion].fn = func(ctx context.Context, snap *domain.Session) (domain.StageResults, error) {
		close(started)
		<-release
		return okUpdate(domain.StageIngestion), nil
	}
	id := f.create(t)

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = f.orch.Run(context.Background(), id)
	}()

	<-started
	_, err := f.orch.Run(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrBusy)

	close(release)
	wg.Wait()
	assert.NoError(t, firstErr)
}

func TestRun_HookPanicsAreIgnored(t *testing.T) {
	f := newFixture(t, pipeline.WithHooks(panickingHooks{}))
	id := f.create(t)

	s, err := f.orch.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, s.Status)
}

func TestRun_ExecutorPanicIsFatal(t *testing.T) {
	f := newFixture(t)
	f.fakes[domain.StageIngestion].fn = func(ctx context.Context, snap *domain.Session) (domain.StageResults, error) {
		panic("nil map")
	}
	id := f.create(t)

	s, err := f.orch.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, s.Status)
	assert.Contains(t, s.Error, "executor panicked")
	assert.Equal(t, int32(1), f.fakes[domain.StageIngestion].calls.Load(), "panics are not retried")
}

func TestRun_ForeignSectionRejected(t *testing.T) {
	f := newFixture(t)
	f.fakes[domain.StageSummary].fn = func(ctx context.Context, snap *domain.Session) (domain.StageResults, error) {
		return okUpdate(domain.StageRedline), nil
	}
	id := f.create(t)

	s, err := f.orch.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, s.Status)
	assert.Nil(t, s.Results.Summary)
	assert.NotNil(t, s.Results.Redline, "the redline stage's own result stays intact")
}

func TestRun_TimeoutIsRetryable(t *testing.T) {
	f := newFixture(t,
		pipeline.WithStageTimeout(20*time.Millisecond),
		pipeline.WithRetryPolicy(pipeline.RetryPolicy{MaxAttempts: 2}),
	)
	f.fakes[domain.StageAudit].fn = func(ctx context.Context, snap *domain.Session) (domain.StageResults, error) {
		<-ctx.Done()
		return domain.StageResults{}, ctx.Err()
	}
	id := f.create(t)

	s, err := f.orch.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, s.Status)
	assert.Equal(t, int32(2), f.fakes[domain.StageAudit].calls.Load())

	last, ok := s.LastExecution(domain.StageAudit)
	require.True(t, ok)
	assert.True(t, last.Retryable)
	assert.Contains(t, last.ErrorMessage, "timed out")
}

func TestRun_DeleteDuringRunWins(t *testing.T) {
	f := newFixture(t)
	var id string
	f.fakes[domain.StageExtraction].fn = func(ctx context.Context, snap *domain.Session) (domain.StageResults, error) {
		require.NoError(t, f.store.Delete(context.Background(), id))
		return okUpdate(domain.StageExtraction), nil
	}
	id = f.create(t)

	_, err := f.orch.Run(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, int32(0), f.fakes[domain.StageRiskScoring].calls.Load())

	_, err = f.store.Get(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRun_CancellationLeavesResumableFailure(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.fakes[domain.StageRiskScoring].fn = func(c context.Context, snap *domain.Session) (domain.StageResults, error) {
		cancel()
		return domain.StageResults{}, c.Err()
	}
	id := f.create(t)

	s, err := f.orch.Run(ctx, id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, s)
	assert.Equal(t, domain.StatusFailed, s.Status)
	assert.Contains(t, s.Error, "interrupted")

	f.fakes[domain.StageRiskScoring].fn = nil
	s, err = f.orch.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, s.Status)
	assert.Equal(t, int32(1), f.fakes[domain.StageExtraction].calls.Load())
}

func TestRun_UnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
