package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aretw0/redliner/internal/logging"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/ports"
	"golang.org/x/sync/semaphore"
)

// ErrDispatcherClosed is returned by Submit after Shutdown started.
var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// Dispatcher runs claimed sessions in the background, at most workers at a time.
type Dispatcher struct {
	orch   *Orchestrator
	sem    *semaphore.Weighted
	logger *slog.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex // read side held by Submit, write side by Shutdown
	closed bool
	wg     sync.WaitGroup
}

var _ ports.RunDispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher with the given concurrency limit.
func NewDispatcher(orch *Orchestrator, workers int, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		orch:   orch,
		sem:    semaphore.NewWeighted(int64(workers)),
		logger: logger,
		base:   base,
		cancel: cancel,
	}
}

// Submit claims the session and schedules its run.
// It returns as soon as the claim is decided: the claimed session, or ErrBusy / ErrSessionNotFound.
// A completed session is returned as is and nothing is scheduled.
func (d *Dispatcher) Submit(ctx context.Context, sessionID string) (*domain.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrDispatcherClosed
	}

	if done, err := d.orch.settled(ctx, sessionID); err != nil || done != nil {
		return done, err
	}
	claimed, err := d.orch.store.Claim(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	d.wg.Add(1)
	go d.run(claimed)
	return claimed, nil
}

func (d *Dispatcher) run(claimed *domain.Session) {
	defer d.wg.Done()
	logger := d.logger.With("session_id", claimed.ID)

	if err := d.sem.Acquire(d.base, 1); err != nil {
		// Shut down while queued: release the claim so the session can be resumed.
		_, _ = d.orch.interrupt(d.base, claimed.ID, logger, err)
		return
	}
	defer d.sem.Release(1)

	if _, err := d.orch.RunClaimed(d.base, claimed); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		logger.Warn("Background run ended with error", "err", err)
	}
}

// Shutdown stops accepting work and waits for in-flight runs.
// If ctx expires first, the remaining runs are canceled (and left failed/resumable)
// before Shutdown returns ctx's error.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// Wait blocks until every submitted run has finished. Intended for CLI one-shot use and tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
