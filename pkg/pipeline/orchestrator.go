package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/redliner/internal/logging"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/ports"
)

// Orchestrator runs the stage pipeline for one session at a time.
type Orchestrator struct {
	store        ports.SessionStore
	executors    map[domain.Stage]ports.StageExecutor
	tools        ports.Tools
	hooks        safeHooks
	retry        RetryPolicy
	stageTimeout time.Duration
	clock        Clock
	logger       *slog.Logger
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithTools sets the collaborators handed to every executor.
func WithTools(tools ports.Tools) Option {
	return func(o *Orchestrator) { o.tools = tools }
}

// WithHooks registers the observability sink.
func WithHooks(hooks ports.ObservabilityHooks) Option {
	return func(o *Orchestrator) { o.hooks.hooks = hooks }
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// WithStageTimeout bounds every executor invocation. Zero disables the bound.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stageTimeout = d }
}

// WithClock injects the time source used for timestamps and backoff.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger configures a logger for the Orchestrator.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New builds an Orchestrator. Exactly one executor is required per pipeline stage.
func New(store ports.SessionStore, executors []ports.StageExecutor, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	byStage := make(map[domain.Stage]ports.StageExecutor, len(executors))
	for _, ex := range executors {
		st := ex.Stage()
		if st.Index() < 0 {
			return nil, fmt.Errorf("executor for unknown stage %q", st)
		}
		if _, dup := byStage[st]; dup {
			return nil, fmt.Errorf("duplicate executor for stage %s", st)
		}
		byStage[st] = ex
	}
	for _, st := range domain.Pipeline() {
		if _, ok := byStage[st]; !ok {
			return nil, fmt.Errorf("missing executor for stage %s", st)
		}
	}

	o := &Orchestrator{
		store:        store,
		executors:    byStage,
		retry:        DefaultRetryPolicy(),
		stageTimeout: 2 * time.Minute,
		clock:        SystemClock{},
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.hooks.logger = o.logger
	if o.tools.Logger == nil {
		o.tools.Logger = o.logger
	}
	return o, nil
}

// Store returns the session store the orchestrator writes through.
func (o *Orchestrator) Store() ports.SessionStore {
	return o.store
}

// Run claims the session and executes every stage that has no committed result.
// Pipeline outcomes (completed, partial, failed) are reported through the returned
// session's status; the error is reserved for Busy, NotFound, interruption and
// store failures.
func (o *Orchestrator) Run(ctx context.Context, sessionID string) (*domain.Session, error) {
	if done, err := o.settled(ctx, sessionID); err != nil || done != nil {
		return done, err
	}
	claimed, err := o.store.Claim(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return o.RunClaimed(ctx, claimed)
}

// settled returns the session unchanged when a run has nothing left to execute.
// Completed sessions are not claimed so a no-op run leaves UpdatedAt alone.
func (o *Orchestrator) settled(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != domain.StatusCompleted {
		return nil, nil
	}
	return s, nil
}

// RunClaimed continues a session that the caller already claimed.
func (o *Orchestrator) RunClaimed(ctx context.Context, claimed *domain.Session) (*domain.Session, error) {
	id := claimed.ID
	logger := o.logger.With("session_id", id)
	logger.Info("Pipeline run started", "cursor", claimed.StageCursor)

	current := claimed
	for _, stage := range domain.Pipeline() {
		if current.Results.Has(stage) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return o.interrupt(ctx, id, logger, err)
		}

		// Re-read before every stage: the snapshot must be the committed state and a
		// tombstone set by a concurrent delete must stop the run.
		snap, err := o.store.Get(ctx, id)
		if err != nil {
			return o.storeFailure(ctx, id, logger, err)
		}
		current = snap

		committed, stageErr, err := o.runStage(ctx, current, stage, logger)
		if err != nil {
			return o.storeFailure(ctx, id, logger, err)
		}
		if committed != nil {
			current = committed
		}
		if stageErr == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return o.interrupt(ctx, id, logger, ctxErr)
		}
		if stage.Mandatory() {
			logger.Error("Mandatory stage failed", "stage", stage, "err", stageErr)
			return o.finish(ctx, id, domain.StatusFailed, stageErr.Error())
		}

		logger.Warn("Best-effort stage failed, continuing", "stage", stage, "err", stageErr)
		advanced, err := o.store.Advance(ctx, id, stage.Index()+1)
		if err != nil {
			return o.storeFailure(ctx, id, logger, err)
		}
		current = advanced
	}

	status := domain.StatusCompleted
	if !current.Results.Complete() {
		status = domain.StatusPartial
	}
	final, err := o.finish(ctx, id, status, "")
	if err == nil {
		logger.Info("Pipeline run finished", "status", status)
	}
	return final, err
}

// runStage attempts one stage under the retry policy.
// It returns the latest committed session, the final stage error (nil on success)
// and a store error that aborts the run.
func (o *Orchestrator) runStage(ctx context.Context, snap *domain.Session, stage domain.Stage, logger *slog.Logger) (*domain.Session, error, error) {
	executor := o.executors[stage]
	maxAttempts := o.retry.attempts()
	var committed *domain.Session

	// An attempt that already ran is recorded even if the run is being canceled.
	wctx := context.WithoutCancel(ctx)

	for attempt := 1; ; attempt++ {
		alog := logger.With("stage", stage, "attempt", attempt)
		exec, update, stageErr := o.attempt(ctx, executor, snap, stage, attempt, alog)

		if stageErr == nil {
			s, err := o.store.AppendStageResult(wctx, snap.ID, update, exec)
			if err != nil {
				return committed, nil, err
			}
			alog.Debug("Stage committed", "duration", exec.Duration())
			o.hooks.committed(ctx, s, stage)
			return s, nil, nil
		}

		s, err := o.store.AppendExecution(wctx, snap.ID, exec)
		if err != nil {
			return committed, nil, err
		}
		committed = s

		if ctx.Err() != nil || !exec.Retryable || attempt >= maxAttempts {
			return committed, stageErr, nil
		}

		delay := o.retry.Delay(attempt)
		alog.Warn("Stage attempt failed, retrying", "err", stageErr, "delay", delay)
		if err := o.clock.Sleep(ctx, delay); err != nil {
			return committed, stageErr, nil
		}
	}
}

// attempt invokes the executor once and always returns a filled-in execution record.
func (o *Orchestrator) attempt(ctx context.Context, executor ports.StageExecutor, snap *domain.Session, stage domain.Stage, attempt int, logger *slog.Logger) (domain.StageExecution, domain.StageResults, error) {
	exec := domain.StageExecution{
		Stage:     stage,
		Attempt:   attempt,
		InputHash: inputHash(snap),
		StartedAt: o.clock.Now().UTC(),
	}

	actx, cancel := ctx, context.CancelFunc(func() {})
	if o.stageTimeout > 0 {
		actx, cancel = context.WithTimeout(ctx, o.stageTimeout)
	}
	defer cancel()

	o.hooks.start(ctx, snap.ID, stage)
	tools := o.tools
	tools.Logger = logger
	update, err := o.invoke(actx, executor, snap.Clone(), tools)
	exec.EndedAt = o.clock.Now().UTC()

	if err == nil {
		if verr := update.Only(stage); verr != nil {
			err = &domain.StageError{Stage: stage, Message: verr.Error()}
		}
	}
	if err != nil {
		err = o.classify(ctx, actx, stage, err)
		var se *domain.StageError
		errors.As(err, &se)
		exec.ErrorMessage = err.Error()
		exec.Retryable = se != nil && se.Retryable
	} else {
		exec.Success = true
		exec.OutputHash = fingerprint(update)
	}
	o.hooks.end(ctx, snap.ID, stage, exec.Success, exec.Duration())
	return exec, update, err
}

// invoke calls the executor, converting a panic into a fatal stage error.
func (o *Orchestrator) invoke(ctx context.Context, executor ports.StageExecutor, snap *domain.Session, tools ports.Tools) (update domain.StageResults, err error) {
	defer func() {
		if r := recover(); r != nil {
			update = domain.StageResults{}
			err = domain.NewStageError(executor.Stage(), false, "executor panicked: %v", r)
		}
	}()
	return executor.Execute(ctx, snap, tools)
}

// classify normalizes executor errors into *domain.StageError.
// Deadline overruns are retryable; unclassified errors are not.
func (o *Orchestrator) classify(parent, actx context.Context, stage domain.Stage, err error) error {
	var se *domain.StageError
	if errors.As(err, &se) {
		if se.Stage == "" {
			se.Stage = stage
		}
		return se
	}
	if parent.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded)) {
		return &domain.StageError{Stage: stage, Retryable: true, Message: fmt.Sprintf("stage timed out after %s", o.stageTimeout), Err: err}
	}
	return &domain.StageError{Stage: stage, Message: err.Error(), Err: err}
}

func (o *Orchestrator) finish(ctx context.Context, id string, status domain.Status, msg string) (*domain.Session, error) {
	s, err := o.store.Finish(context.WithoutCancel(ctx), id, status, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to finish session %s: %w", id, err)
	}
	o.hooks.finished(ctx, s)
	return s, nil
}

// interrupt leaves the session failed so it can be resumed later.
func (o *Orchestrator) interrupt(ctx context.Context, id string, logger *slog.Logger, cause error) (*domain.Session, error) {
	logger.Warn("Pipeline run interrupted", "err", cause)
	s, err := o.finish(ctx, id, domain.StatusFailed, "interrupted: "+cause.Error())
	if err != nil {
		return nil, errors.Join(cause, err)
	}
	return s, fmt.Errorf("run interrupted: %w", cause)
}

// storeFailure handles errors from the session store. A missing session means it
// was deleted mid-run, which simply ends the run.
func (o *Orchestrator) storeFailure(ctx context.Context, id string, logger *slog.Logger, cause error) (*domain.Session, error) {
	if errors.Is(cause, domain.ErrSessionNotFound) {
		logger.Info("Session deleted during run, stopping")
		return nil, cause
	}
	logger.Error("Session store failure", "err", cause)
	if _, err := o.finish(ctx, id, domain.StatusFailed, cause.Error()); err != nil {
		return nil, errors.Join(cause, err)
	}
	return nil, cause
}
