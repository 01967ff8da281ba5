package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/redliner/internal/logging"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/ports"
)

// Sweeper enforces session retention by purging stale sessions on an interval.
type Sweeper struct {
	store    ports.SessionStore
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	// OnPurged is called for every purged session, e.g. to drop its document.
	OnPurged func(ctx context.Context, s *domain.Session)
}

// NewSweeper creates a sweeper that deletes sessions idle for longer than ttl.
func NewSweeper(store ports.SessionStore, ttl, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// SweepOnce runs a single purge pass and returns how many sessions were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	purged, err := s.store.Purge(ctx, s.now().Add(-s.ttl))
	for _, sess := range purged {
		if s.OnPurged != nil {
			s.OnPurged(ctx, sess)
		}
	}
	if len(purged) > 0 {
		s.logger.Info("Purged expired sessions", "count", len(purged))
	}
	return len(purged), err
}

// Run sweeps until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("Session sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
